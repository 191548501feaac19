package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the indexer and mirror.
type Metrics struct {
	// --- Event processing ---
	EventsApplied  *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec
	Duplicates     *prometheus.CounterVec
	CursorBlock    prometheus.Gauge
	StreamResets   prometheus.Counter
	LateArrivals   prometheus.Counter

	// --- Backfill ---
	BackfillLogs   prometheus.Counter
	BackfillRanges prometheus.Counter

	// --- Secondary store ---
	SecondaryWrites   *prometheus.CounterVec
	SecondaryFailures *prometheus.CounterVec
	SecondaryDropped  prometheus.Counter
	SecondaryDuration *prometheus.HistogramVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	applyBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1,
	}
	httpBuckets := []float64{
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5,
	}

	return &Metrics{
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpidx_events_applied_total",
			Help: "Events applied to the primary store",
		}, []string{"event_type"}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpidx_events_rejected_total",
			Help: "Events rejected (malformed, store failure)",
		}, []string{"event_type", "reason"}),

		EventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpidx_event_apply_duration_seconds",
			Help:    "Time to apply one event to the primary store",
			Buckets: applyBuckets,
		}, []string{"event_type"}),

		Duplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpidx_event_duplicates_total",
			Help: "Redelivered events skipped (lru/store tier)",
		}, []string{"tier"}),

		CursorBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpidx_cursor_block",
			Help: "Highest block number observed on the stream",
		}),

		StreamResets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpidx_stream_resets_total",
			Help: "Stream discontinuities that forced a full state flush",
		}),

		LateArrivals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpidx_late_arrivals_total",
			Help: "Events at or behind the cursor within reorg tolerance",
		}),

		BackfillLogs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpidx_backfill_logs_total",
			Help: "Historical logs fetched during backfill",
		}),

		BackfillRanges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpidx_backfill_ranges_total",
			Help: "Block-range pages scanned during backfill",
		}),

		SecondaryWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpidx_secondary_writes_total",
			Help: "Best-effort writes issued to the secondary store",
		}, []string{"table"}),

		SecondaryFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpidx_secondary_failures_total",
			Help: "Secondary store writes that failed (logged, not retried)",
		}, []string{"table"}),

		SecondaryDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpidx_secondary_dropped_total",
			Help: "Secondary writes dropped because the task group was full",
		}),

		SecondaryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpidx_secondary_duration_seconds",
			Help:    "Secondary store request latency",
			Buckets: httpBuckets,
		}, []string{"table"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpidx_query_requests_total",
			Help: "Read API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpidx_query_duration_seconds",
			Help:    "Read API latency",
			Buckets: httpBuckets,
		}, []string{"endpoint"}),
	}
}
