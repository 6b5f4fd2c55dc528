package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oentex"

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheRequests   *prometheus.CounterVec
	queryRetries    *prometheus.CounterVec
	queryFailures   *prometheus.CounterVec
	pageFallbacks   *prometheus.CounterVec
	malformedRows   *prometheus.CounterVec
	mutations       *prometheus.CounterVec
	liveConnections prometheus.Gauge
	httpDuration    *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Query cache lookups by scope and result (hit, miss, stale, stale_served).",
		}, []string{"scope", "result"}),
		queryRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "query_retries_total",
			Help:      "Retried backend queries by scope.",
		}, []string{"scope"}),
		queryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "query_failures_total",
			Help:      "Backend queries that failed after retries, by scope and error kind.",
		}, []string{"scope", "kind"}),
		pageFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deals",
			Name:      "pagination_fallbacks_total",
			Help:      "Paginated queries served by the client-side fallback, by reason.",
		}, []string{"reason"}),
		malformedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "malformed_rows_total",
			Help:      "Backend rows dropped because they failed validation.",
		}, []string{"entity"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "mutations_total",
			Help:      "Optimistic mutations by outcome (committed, rolled_back).",
		}, []string{"outcome"}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	reg.MustRegister(
		m.cacheRequests,
		m.queryRetries,
		m.queryFailures,
		m.pageFallbacks,
		m.malformedRows,
		m.mutations,
		m.liveConnections,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheRequest(scope, result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(scope, result).Inc()
}

func (m *Metrics) QueryRetry(scope string) {
	if m == nil {
		return
	}
	m.queryRetries.WithLabelValues(scope).Inc()
}

func (m *Metrics) QueryFailure(scope, kind string) {
	if m == nil {
		return
	}
	m.queryFailures.WithLabelValues(scope, kind).Inc()
}

func (m *Metrics) PaginationFallback(reason string) {
	if m == nil {
		return
	}
	m.pageFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) MalformedRow(entity string) {
	if m == nil {
		return
	}
	m.malformedRows.WithLabelValues(entity).Inc()
}

func (m *Metrics) Mutation(outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LiveConnected() {
	if m == nil {
		return
	}
	m.liveConnections.Inc()
}

func (m *Metrics) LiveDisconnected() {
	if m == nil {
		return
	}
	m.liveConnections.Dec()
}

// ObserveHTTP records one request
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}
