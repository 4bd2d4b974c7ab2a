// Package ingest implements the bounded ingest queue and the batching
// worker of spec.md §4.4.
package ingest

import (
	"sync"

	"github.com/xtrace/xtrace/internal/domain"
	apperrors "github.com/xtrace/xtrace/internal/pkg/errors"
	"github.com/xtrace/xtrace/internal/pkg/metrics"
)

// Queue is the bounded producer/consumer FIFO between HTTP handlers and
// the single batching worker (spec.md §4.4). Offer never blocks: a full
// queue yields TooManyRequests (429), a closed queue yields
// ServiceUnavailable (503).
type Queue struct {
	ch       chan domain.BatchIngest
	capacity int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewQueue creates a queue with the given capacity Q (spec.md §4.4
// default 1000).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	metrics.IngestQueueCapacity.Set(float64(capacity))
	return &Queue{
		ch:       make(chan domain.BatchIngest, capacity),
		capacity: capacity,
		closed:   make(chan struct{}),
	}
}

// Offer performs a non-blocking enqueue. It never suspends the caller
// (spec.md §5).
func (q *Queue) Offer(item domain.BatchIngest) error {
	select {
	case <-q.closed:
		metrics.IngestRejections.WithLabelValues("queue_closed").Inc()
		return apperrors.ServiceUnavailable("ingest queue is shutting down")
	default:
	}

	select {
	case q.ch <- item:
		metrics.IngestQueueDepth.Set(float64(len(q.ch)))
		return nil
	default:
		metrics.IngestRejections.WithLabelValues("queue_full").Inc()
		return apperrors.TooManyRequests("ingest queue is full")
	}
}

// Receive exposes the consumer side for the worker. Only the worker
// goroutine should read from this channel.
func (q *Queue) Receive() <-chan domain.BatchIngest {
	return q.ch
}

// Close closes the producer side. Per spec.md §5's cooperative-
// cancellation note, the caller must close the producer side first and
// then await worker exit — Close does only the former; the worker
// observes the channel close and finishes its in-flight window before
// returning.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		close(q.ch)
	})
}

// Len reports the current queue depth, for diagnostics/metrics.
func (q *Queue) Len() int {
	return len(q.ch)
}
