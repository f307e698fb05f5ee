package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records suggestion cache lookups.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records suggestion cache writes.
	CacheOperationStore CacheOperation = "store"
	// CacheOperationClear records administrative resets.
	CacheOperationClear CacheOperation = "clear"
)

// CacheResult captures the result of a cache operation.
type CacheResult string

const (
	CacheResultHit    CacheResult = "hit"
	CacheResultMiss   CacheResult = "miss"
	CacheResultStored CacheResult = "stored"
	CacheResultError  CacheResult = "error"
	CacheResultOK     CacheResult = "ok"
)

// UpstreamResult captures the result of an outbound suggestion request.
type UpstreamResult string

const (
	UpstreamResultOK    UpstreamResult = "ok"
	UpstreamResultError UpstreamResult = "error"
)

// Recorder publishes Prometheus metrics for the suggestion client.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	suggestRequests *prometheus.CounterVec
	suggestLatency  *prometheus.HistogramVec

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamItems    *prometheus.CounterVec

	cacheOperations *prometheus.CounterVec
	cacheStores     *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	suggestRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "addrnorm",
		Subsystem: "suggest",
		Name:      "requests_total",
		Help:      "Suggestion lookups served by the client, by operation and outcome.",
	}, []string{"operation", "outcome", "from_cache"})

	suggestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "addrnorm",
		Subsystem: "suggest",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for suggestion lookups.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation", "outcome"})

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "addrnorm",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Outbound requests to the suggestions API.",
	}, []string{"result"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "addrnorm",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for outbound suggestion requests.",
		Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"result"})

	upstreamItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "addrnorm",
		Subsystem: "upstream",
		Name:      "items_total",
		Help:      "Suggestion items received from the API, split by parse result.",
	}, []string{"result"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "addrnorm",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Suggestion cache operations.",
	}, []string{"operation", "result"})

	cacheStores := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "addrnorm",
		Subsystem: "cache",
		Name:      "stores_total",
		Help:      "Suggestion cache writes by TTL category.",
	}, []string{"category"})

	reg.MustRegister(suggestRequests, suggestLatency, upstreamRequests, upstreamLatency, upstreamItems, cacheOperations, cacheStores)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		suggestRequests:  suggestRequests,
		suggestLatency:   suggestLatency,
		upstreamRequests: upstreamRequests,
		upstreamLatency:  upstreamLatency,
		upstreamItems:    upstreamItems,
		cacheOperations:  cacheOperations,
		cacheStores:      cacheStores,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveSuggest records the outcome and latency of one suggestion lookup.
func (r *Recorder) ObserveSuggest(operation, outcome string, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	opLabel := normalizeLabel(operation)
	outcomeLabel := normalizeLabel(outcome)
	r.suggestRequests.WithLabelValues(opLabel, outcomeLabel, strconv.FormatBool(fromCache)).Inc()
	r.suggestLatency.WithLabelValues(opLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveUpstream records one outbound request and how many items it yielded.
func (r *Recorder) ObserveUpstream(result UpstreamResult, parsed, skipped int, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := normalizeLabel(string(result))
	r.upstreamRequests.WithLabelValues(resultLabel).Inc()
	r.upstreamLatency.WithLabelValues(resultLabel).Observe(duration.Seconds())
	if parsed > 0 {
		r.upstreamItems.WithLabelValues("parsed").Add(float64(parsed))
	}
	if skipped > 0 {
		r.upstreamItems.WithLabelValues("skipped").Add(float64(skipped))
	}
}

// ObserveCache records a cache operation result.
func (r *Recorder) ObserveCache(operation CacheOperation, result CacheResult) {
	if r == nil {
		return
	}
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	r.cacheOperations.WithLabelValues(opLabel, normalizeLabel(string(result))).Inc()
}

// ObserveCacheStore records a successful cache write under its TTL category.
func (r *Recorder) ObserveCacheStore(category string) {
	if r == nil {
		return
	}
	r.ObserveCache(CacheOperationStore, CacheResultStored)
	r.cacheStores.WithLabelValues(normalizeLabel(category)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
