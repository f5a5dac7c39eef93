// Package metrics provides Prometheus metrics for the analytics services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup results
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics holds all application metrics
type Metrics struct {
	Computations        *prometheus.CounterVec
	ComputeDuration     *prometheus.HistogramVec
	FactRowsFetched     prometheus.Histogram
	CacheLookups        *prometheus.CounterVec
	CacheKeysDeleted    prometheus.Counter
	EventsPublished     *prometheus.CounterVec
	EventsConsumed      *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec
	ConsumerLag         *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them on reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_computations_total",
			Help: "Brand-vs-generic and volume computations by origin and outcome",
		}, []string{"origin", "outcome"}),
		ComputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rx_compute_duration_seconds",
			Help:    "Time spent loading, normalizing and aggregating",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"origin"}),
		FactRowsFetched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rx_fact_rows_fetched",
			Help:    "Fact rows returned per query",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_cache_lookups_total",
			Help: "Result cache lookups by result",
		}, []string{"result"}),
		CacheKeysDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rx_cache_keys_deleted_total",
			Help: "Cached results removed by invalidation",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Kafka messages produced by topic and outcome",
		}, []string{"topic", "outcome"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Kafka messages consumed by topic and outcome",
		}, []string{"topic", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		ConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kafka_consumer_group_lag",
			Help: "Messages not yet consumed by group, topic and partition",
		}, []string{"group", "topic", "partition"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Computations,
		m.ComputeDuration,
		m.FactRowsFetched,
		m.CacheLookups,
		m.CacheKeysDeleted,
		m.EventsPublished,
		m.EventsConsumed,
		m.HTTPRequests,
		m.HTTPDuration,
		m.CircuitBreakerState,
		m.ConsumerLag,
	)
	return m
}

// ObserveComputation records the outcome and duration of one computation
func (m *Metrics) ObserveComputation(origin string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Computations.WithLabelValues(origin, outcome).Inc()
	m.ComputeDuration.WithLabelValues(origin).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// SetBreakerState exports a breaker state as 0 (closed), 1 (open) or 2 (half-open)
func (m *Metrics) SetBreakerState(name, state string) {
	v := 0.0
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// SetConsumerLag exports the per-partition lag of a consumer group
func (m *Metrics) SetConsumerLag(group string, lag map[string]map[int32]int64) {
	for topic, partitions := range lag {
		for p, n := range partitions {
			m.ConsumerLag.WithLabelValues(group, topic, strconv.Itoa(int(p))).Set(float64(n))
		}
	}
}

// Handler returns the Prometheus HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
