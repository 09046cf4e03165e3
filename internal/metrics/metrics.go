package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	itemsSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agrosync",
			Name:      "items_synced_total",
			Help:      "Queue items delivered to the remote endpoint.",
		},
	)

	itemsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agrosync",
			Name:      "items_failed_total",
			Help:      "Queue item delivery failures.",
		},
	)

	drains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrosync",
			Name:      "drains_total",
			Help:      "Drain passes by outcome.",
		},
		[]string{"outcome"},
	)

	cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrosync",
			Name:      "cache_requests_total",
			Help:      "Proxied requests by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agrosync",
			Name:      "queue_depth",
			Help:      "Pending items in the sync queue.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(itemsSynced, itemsFailed, drains, cacheRequests, queueDepth)
	})
}

// IncSynced counts a delivered queue item.
func IncSynced() { itemsSynced.Inc() }

// IncFailed counts a delivery failure.
func IncFailed() { itemsFailed.Inc() }

// IncDrain counts a drain pass with its outcome label.
func IncDrain(outcome string) { drains.WithLabelValues(outcome).Inc() }

// IncCache counts a proxied request for a strategy/outcome pair.
func IncCache(strategy, outcome string) { cacheRequests.WithLabelValues(strategy, outcome).Inc() }

// SetQueueDepth records the current pending depth.
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }
