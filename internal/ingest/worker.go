package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/pkg/logger"
	"github.com/xtrace/xtrace/internal/pkg/metrics"
)

// Writer persists one window's worth of BatchIngest values in a single
// transaction, in arrival order (spec.md §4.4/§4.5). Implemented by the
// Postgres upsert layer; kept as an interface here so the worker doesn't
// import the repository package (avoids a dependency cycle and keeps
// the worker testable with a fake).
type Writer interface {
	WriteBatch(ctx context.Context, batch []domain.BatchIngest) error
}

// PostCommitHook runs after a window commits successfully. Used for the
// best-effort ClickHouse mirror and the asynq rollup warm-job enqueue
// (SPEC_FULL.md §2); a hook's own errors are logged, never propagated.
type PostCommitHook func(ctx context.Context, batch []domain.BatchIngest)

// WorkerConfig holds the window tunables of spec.md §4.4.
type WorkerConfig struct {
	MaxBatchSize int           // M, default 200
	Window       time.Duration // W, default 50ms
}

// Worker is the single consumer of a Queue. Exactly one Worker per
// process runs per spec.md §5.
type Worker struct {
	queue  *Queue
	writer Writer
	cfg    WorkerConfig
	hooks  []PostCommitHook
	done   chan struct{}
}

// NewWorker builds a Worker. Call Run in its own goroutine, then Queue's
// Close, then await Done() to implement the cooperative shutdown
// sequence of spec.md §5/§9.
func NewWorker(queue *Queue, writer Writer, cfg WorkerConfig, hooks ...PostCommitHook) *Worker {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 200
	}
	if cfg.Window <= 0 {
		cfg.Window = 50 * time.Millisecond
	}
	return &Worker{queue: queue, writer: writer, cfg: cfg, hooks: hooks, done: make(chan struct{})}
}

// Done is closed once Run has returned, i.e. once the queue has been
// drained and closed.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run implements the window loop of spec.md §4.4:
//  1. Block until one payload arrives. Record start = now.
//  2. Open a batch of capacity M containing the first payload.
//  3. While batch size < M, try to receive with timeout
//     max(0, W - (now - start)). Stop on timeout, channel close, or
//     reaching M.
//  4. Open one transaction, write all payloads in arrival order,
//     commit. On error, log it; do not retry and do not drop the rest
//     of the stream — resume at step 1 regardless of outcome.
//
// Run returns once the queue channel is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		first, ok := <-w.queue.Receive()
		if !ok {
			return
		}
		start := time.Now()
		batch := make([]domain.BatchIngest, 0, w.cfg.MaxBatchSize)
		batch = append(batch, first)

		for len(batch) < w.cfg.MaxBatchSize {
			remaining := w.cfg.Window - time.Since(start)
			if remaining < 0 {
				remaining = 0
			}
			timer := time.NewTimer(remaining)
			select {
			case item, ok := <-w.queue.Receive():
				timer.Stop()
				if !ok {
					w.commit(ctx, batch, start)
					return
				}
				batch = append(batch, item)
			case <-timer.C:
				goto commit
			}
		}
	commit:
		w.commit(ctx, batch, start)
	}
}

func (w *Worker) commit(ctx context.Context, batch []domain.BatchIngest, start time.Time) {
	metrics.IngestQueueDepth.Set(float64(w.queue.Len()))

	if err := w.writer.WriteBatch(ctx, batch); err != nil {
		logger.Error("ingest window commit failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		return
	}

	metrics.ObserveWindow(len(batch), time.Since(start))
	for _, hook := range w.hooks {
		hook(ctx, batch)
	}
}
