package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lookup metrics
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagpin_lookups_total",
			Help: "Total number of lookup requests by outcome",
		},
		[]string{"outcome"},
	)

	LookupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tagpin_lookup_duration_seconds",
			Help:    "Time from lookup request to outcome in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagpin_cache_hits_total",
			Help: "Total number of lookups served from the resolved mapping",
		},
	)

	InflightLookups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagpin_inflight_lookups",
			Help: "Number of references with an outstanding resolver request or store write",
		},
	)

	BufferedLookups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagpin_buffered_lookups",
			Help: "Number of lookup requests buffered while the cache is loading",
		},
	)

	PinsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagpin_pins_total",
			Help: "Total number of pinned references across live coordinators",
		},
	)

	// Resolver metrics
	ResolverRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagpin_resolver_requests_total",
			Help: "Total number of requests forwarded to the resolver",
		},
	)

	ResolverBackpressureTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagpin_resolver_backpressure_total",
			Help: "Total number of backpressure responses from the resolver",
		},
	)

	ResolverTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagpin_resolver_timeouts_total",
			Help: "Total number of self-imposed resolver timeouts",
		},
	)

	ResolverLateRepliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagpin_resolver_late_replies_total",
			Help: "Total number of resolver replies that arrived after timeout or eviction",
		},
	)

	// Store metrics
	StoreWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagpin_store_writes_total",
			Help: "Total number of pin writes by status",
		},
		[]string{"status"},
	)

	RehydrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tagpin_rehydration_duration_seconds",
			Help:    "Time taken to load and replay persisted pins on restart",
			Buckets: prometheus.DefBuckets,
		},
	)

	RehydratedPins = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tagpin_rehydrated_pins",
			Help:    "Number of pins loaded per restart",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagpin_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagpin_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(LookupsTotal)
	prometheus.MustRegister(LookupDuration)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(InflightLookups)
	prometheus.MustRegister(BufferedLookups)
	prometheus.MustRegister(PinsTotal)
	prometheus.MustRegister(ResolverRequestsTotal)
	prometheus.MustRegister(ResolverBackpressureTotal)
	prometheus.MustRegister(ResolverTimeoutsTotal)
	prometheus.MustRegister(ResolverLateRepliesTotal)
	prometheus.MustRegister(StoreWritesTotal)
	prometheus.MustRegister(RehydrationDuration)
	prometheus.MustRegister(RehydratedPins)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLookup records one delivered lookup outcome and its latency from
// the moment the waiter joined.
func ObserveLookup(outcome string, joined time.Time) {
	LookupsTotal.WithLabelValues(outcome).Inc()
	LookupDuration.Observe(time.Since(joined).Seconds())
}

// ObserveAPIRequest records one handled API call.
func ObserveAPIRequest(method string, status int, start time.Time) {
	APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// ObserveRehydration records one restart cache load.
func ObserveRehydration(pins int, start time.Time) {
	RehydratedPins.Observe(float64(pins))
	RehydrationDuration.Observe(time.Since(start).Seconds())
}
