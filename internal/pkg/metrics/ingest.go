package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestQueueDepth tracks the current number of BatchIngest values
	// sitting in the ingest queue (spec.md §4.4).
	IngestQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xtrace_ingest_queue_depth",
		Help: "Current depth of the ingest queue.",
	})

	// IngestQueueCapacity is a static gauge of the configured queue
	// capacity Q, set once at startup.
	IngestQueueCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xtrace_ingest_queue_capacity",
		Help: "Configured capacity of the ingest queue.",
	})

	// IngestWindowBatchSize tracks how many BatchIngest values the
	// worker wrote per transaction window (spec.md §4.4).
	IngestWindowBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xtrace_ingest_window_batch_size",
		Help:    "Number of BatchIngest payloads written per worker window.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 200},
	})

	// IngestWindowDuration tracks the wall-clock length of a window,
	// from first payload to commit.
	IngestWindowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xtrace_ingest_window_duration_seconds",
		Help:    "Duration of a worker window from first payload to commit.",
		Buckets: prometheus.DefBuckets,
	})

	// IngestRejections counts admission-control rejections by reason
	// ("queue_full" → 429, "queue_closed" → 503).
	IngestRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xtrace_ingest_rejections_total",
		Help: "Total ingest admission-control rejections by reason.",
	}, []string{"reason"})
)

// ObserveWindow records one worker window's metrics.
func ObserveWindow(batchSize int, duration time.Duration) {
	IngestWindowBatchSize.Observe(float64(batchSize))
	IngestWindowDuration.Observe(duration.Seconds())
}
