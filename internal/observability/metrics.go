package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LiveEventsTotal counts live events by kind and reconciliation outcome.
	LiveEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discussify_live_events_total",
		Help: "Live events received by kind and outcome (applied, duplicate, ignored)",
	}, []string{"kind", "outcome"})

	// OptimisticWritesTotal counts optimistic writes by kind and result.
	OptimisticWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discussify_optimistic_writes_total",
		Help: "Optimistic writes by kind (post, vote, comment) and result (submitted, confirmed, collapsed, rolled_back)",
	}, []string{"kind", "result"})

	// StaleCompletionsTotal counts async results dropped for a closed or replaced view.
	StaleCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discussify_stale_completions_total",
		Help: "Asynchronous completions dropped because their view was no longer active",
	}, []string{"operation"})

	// FeedEntries is the number of entries in the open feed.
	FeedEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discussify_feed_entries",
		Help: "Number of entries in the currently open feed",
	})

	// PreviewsOutstanding is the number of local previews not yet released.
	PreviewsOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discussify_previews_outstanding",
		Help: "Local media previews held by pending posts or drafts",
	})

	// APIRequestDuration records REST call latency by operation and status.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "discussify_api_request_duration_seconds",
		Help:    "REST API call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// LiveSubscriptions is the gauge of active community subscriptions per transport.
	LiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "discussify_live_subscriptions",
		Help: "Active live channel subscriptions",
	}, []string{"transport"})

	// LiveDrops counts live events dropped because a subscriber was not draining.
	LiveDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discussify_live_backpressure_drops_total",
		Help: "Live events dropped due to subscriber backpressure",
	}, []string{"transport"})
)

// TrackRequest returns a function that records request latency when called (e.g. defer).
func TrackRequest(operation string) func(status string) {
	start := time.Now()
	return func(status string) {
		APIRequestDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	}
}
