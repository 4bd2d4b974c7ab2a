package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrace/xtrace/internal/domain"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]domain.BatchIngest
	err     error
}

func (w *fakeWriter) WriteBatch(ctx context.Context, batch []domain.BatchIngest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	cp := append([]domain.BatchIngest(nil), batch...)
	w.batches = append(w.batches, cp)
	return nil
}

func (w *fakeWriter) snapshot() [][]domain.BatchIngest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]domain.BatchIngest(nil), w.batches...)
}

// TestWorker_FlushesOnMaxBatchSize covers spec.md §4.4's window-close
// condition "M reached": a worker with MaxBatchSize 2 should commit as
// soon as the second payload arrives, without waiting out the window.
func TestWorker_FlushesOnMaxBatchSize(t *testing.T) {
	q := NewQueue(10)
	writer := &fakeWriter{}
	w := NewWorker(q, writer, WorkerConfig{MaxBatchSize: 2, Window: time.Hour})
	go w.Run(context.Background())

	require.NoError(t, q.Offer(domain.BatchIngest{}))
	require.NoError(t, q.Offer(domain.BatchIngest{}))

	require.Eventually(t, func() bool {
		return len(writer.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Len(t, writer.snapshot()[0], 2)

	q.Close()
	<-w.Done()
}

// TestWorker_FlushesOnWindowTimeout covers the window-close condition
// "W elapsed" when fewer than M payloads have arrived.
func TestWorker_FlushesOnWindowTimeout(t *testing.T) {
	q := NewQueue(10)
	writer := &fakeWriter{}
	w := NewWorker(q, writer, WorkerConfig{MaxBatchSize: 200, Window: 20 * time.Millisecond})
	go w.Run(context.Background())

	require.NoError(t, q.Offer(domain.BatchIngest{}))

	require.Eventually(t, func() bool {
		return len(writer.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Len(t, writer.snapshot()[0], 1)

	q.Close()
	<-w.Done()
}

// TestWorker_DrainsAndExitsOnClose covers spec.md §5/§9's cooperative
// shutdown sequence: payloads enqueued before Close are still committed,
// and Done() closes once the queue is fully drained.
func TestWorker_DrainsAndExitsOnClose(t *testing.T) {
	q := NewQueue(10)
	writer := &fakeWriter{}
	w := NewWorker(q, writer, WorkerConfig{MaxBatchSize: 200, Window: time.Hour})
	go w.Run(context.Background())

	require.NoError(t, q.Offer(domain.BatchIngest{}))
	require.NoError(t, q.Offer(domain.BatchIngest{}))
	q.Close()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not drain and exit after queue close")
	}

	assert.Len(t, writer.snapshot(), 1)
	assert.Len(t, writer.snapshot()[0], 2)
}

// TestWorker_ResumesAfterCommitError covers spec.md §4.4: a failed
// commit is logged but does not stop the worker from processing later
// windows.
func TestWorker_ResumesAfterCommitError(t *testing.T) {
	q := NewQueue(10)
	writer := &fakeWriter{}
	w := NewWorker(q, writer, WorkerConfig{MaxBatchSize: 1, Window: time.Hour})
	go w.Run(context.Background())

	writer.mu.Lock()
	writer.err = assert.AnError
	writer.mu.Unlock()
	require.NoError(t, q.Offer(domain.BatchIngest{}))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, writer.snapshot())

	writer.mu.Lock()
	writer.err = nil
	writer.mu.Unlock()
	require.NoError(t, q.Offer(domain.BatchIngest{}))

	require.Eventually(t, func() bool {
		return len(writer.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	q.Close()
	<-w.Done()
}

// TestWorker_RunsPostCommitHooks covers the ClickHouse-mirror/rollup-warm
// hook wiring of SPEC_FULL.md §2.
func TestWorker_RunsPostCommitHooks(t *testing.T) {
	q := NewQueue(10)
	writer := &fakeWriter{}

	var hookCalls int
	var mu sync.Mutex
	hook := func(ctx context.Context, batch []domain.BatchIngest) {
		mu.Lock()
		hookCalls += len(batch)
		mu.Unlock()
	}

	w := NewWorker(q, writer, WorkerConfig{MaxBatchSize: 1, Window: time.Hour}, hook)
	go w.Run(context.Background())

	require.NoError(t, q.Offer(domain.BatchIngest{}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hookCalls == 1
	}, time.Second, 10*time.Millisecond)

	q.Close()
	<-w.Done()
}
