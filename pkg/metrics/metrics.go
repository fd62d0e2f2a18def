package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts in-process cache lookups by cache (counters|policies) and result (hit|miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildstats_cache_lookups_total",
			Help: "Total number of in-process cache lookups",
		},
		[]string{"cache", "result"},
	)

	// StoreOperations counts persistent store calls by backend, operation and result (ok|error).
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildstats_store_operations_total",
			Help: "Total number of persistent store operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// MessageIncrements counts accepted message count increments.
	MessageIncrements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildstats_message_increments_total",
			Help: "Total number of message count increments",
		},
	)

	// CounterRollovers counts day rollovers observed on the increment and read paths.
	CounterRollovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildstats_counter_rollovers_total",
			Help: "Total number of counters reset because the stored day was not today",
		},
		[]string{"path"},
	)

	// CachedCounters tracks the number of entries held by the counter cache.
	CachedCounters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guildstats_cached_counters",
			Help: "Number of entries held by the counter cache",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guildstats_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
