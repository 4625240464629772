package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheReads counts cache reads by key family and result (hit, miss, stale, coalesced).
	CacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletin_cache_reads_total",
		Help: "Total number of cache reads by key family and result",
	}, []string{"family", "result"})

	// RemoteFetchLatency records fetch latency by key family.
	RemoteFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulletin_remote_fetch_latency_seconds",
		Help:    "Remote fetch latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"family"})

	// CacheInvalidations counts entries marked stale by key family.
	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletin_cache_invalidations_total",
		Help: "Total number of cache entries invalidated by key family",
	}, []string{"family"})

	// CacheDiscards counts responses dropped because their identity epoch ended.
	CacheDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bulletin_cache_stale_epoch_discards_total",
		Help: "Total number of fetch results discarded after an identity change",
	})

	// Mutations counts remote writes by operation and outcome code.
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletin_mutations_total",
		Help: "Total number of mutations by operation and outcome",
	}, []string{"operation", "outcome"})

	// ChannelRebuilds counts channel builds by outcome.
	ChannelRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletin_channel_rebuilds_total",
		Help: "Total number of remote channel builds by outcome",
	}, []string{"outcome"})

	// ChannelEpoch is the current identity epoch.
	ChannelEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bulletin_channel_epoch",
		Help: "Current identity epoch",
	})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletin_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// BusEvents counts invalidation bus events by transport and direction.
	BusEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletin_bus_events_total",
		Help: "Total invalidation bus events by transport and direction",
	}, []string{"transport", "direction"})

	// StoreQueries tracks devserver database statements by outcome.
	StoreQueries = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulletin_store_query_duration_seconds",
		Help:    "Duration of reference store queries",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"outcome"})
)

// TrackFetch returns a function that records fetch latency when called (e.g. defer).
func TrackFetch(family string) func() {
	start := time.Now()
	return func() {
		RemoteFetchLatency.WithLabelValues(family).Observe(time.Since(start).Seconds())
	}
}
