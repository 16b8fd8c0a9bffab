// Package metrics exposes the pipeline's Prometheus collectors. All record
// helpers are safe to call before Init; they become no-ops.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "embed_star"

// Metrics wraps the prometheus collectors for the embedding pipeline.
type Metrics struct {
	registry *prometheus.Registry

	embeddingsTotal   *prometheus.CounterVec
	embeddingsErrors  *prometheus.CounterVec
	embeddingDuration *prometheus.HistogramVec

	reposPending   prometheus.Gauge
	reposProcessed prometheus.Gauge

	providerRequests *prometheus.CounterVec
	rateLimits       *prometheus.CounterVec

	activeConnections   *prometheus.GaugeVec
	circuitBreakerState *prometheus.GaugeVec
	retryAttempts       *prometheus.CounterVec

	poolConnectionsActive   prometheus.Gauge
	poolConnectionsIdle     prometheus.Gauge
	poolConnectionsWaiting  prometheus.Gauge
	poolConnectionsCreated  *prometheus.CounterVec
	poolConnectionsRecycled *prometheus.CounterVec
	poolConnectionErrors    *prometheus.CounterVec
	poolHealthCheckFailures *prometheus.CounterVec

	embeddingValidations *prometheus.CounterVec

	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	batchUpdates *prometheus.CounterVec

	uptime prometheus.GaugeFunc
}

// Buckets for embedding generation latency in seconds.
var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

var (
	global    *Metrics
	startTime = time.Now()
)

// Init builds the collector set on a fresh registry and installs it as the
// package global.
func Init() {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		embeddingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embeddings_total",
				Help:      "Total number of embeddings generated",
			},
			[]string{"provider", "model"},
		),

		embeddingsErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embeddings_errors_total",
				Help:      "Total number of embedding errors",
			},
			[]string{"provider", "error_type"},
		),

		embeddingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "embedding_duration_seconds",
				Help:      "Time taken to generate embeddings",
				Buckets:   durationBuckets,
			},
			[]string{"provider", "model"},
		),

		reposPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "repos_pending",
				Help:      "Number of repos pending embedding generation",
			},
		),

		reposProcessed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "repos_processed",
				Help:      "Total number of repos processed",
			},
		),

		providerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total requests to embedding providers",
			},
			[]string{"provider", "status"},
		),

		rateLimits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limits_total",
				Help:      "Total number of rate limit hits",
			},
			[]string{"provider"},
		),

		activeConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of active connections",
			},
			[]string{"type"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"service"},
		),

		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total retry attempts",
			},
			[]string{"operation"},
		),

		poolConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections_active",
				Help:      "Number of active pool connections",
			},
		),

		poolConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections_idle",
				Help:      "Number of idle pool connections",
			},
		),

		poolConnectionsWaiting: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections_waiting",
				Help:      "Number of requests waiting for a connection",
			},
		),

		poolConnectionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connections_created_total",
				Help:      "Total pool connections created",
			},
			[]string{"pool"},
		),

		poolConnectionsRecycled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connections_recycled_total",
				Help:      "Total pool connections recycled",
			},
			[]string{"pool"},
		),

		poolConnectionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connection_errors_total",
				Help:      "Total pool connection errors",
			},
			[]string{"pool", "error_type"},
		),

		poolHealthCheckFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_health_check_failures_total",
				Help:      "Total pool health check failures",
			},
			[]string{"pool"},
		),

		embeddingValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_validations_total",
				Help:      "Total embedding validation attempts",
			},
			[]string{"model", "status"},
		),

		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total embedding cache hits",
			},
		),

		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total embedding cache misses",
			},
		),

		batchUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_updates_total",
				Help:      "Batched embedding writes by status",
			},
			[]string{"status"},
		),
	}

	m.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the pipeline started",
		},
		func() float64 {
			return time.Since(startTime).Seconds()
		},
	)

	registry.MustRegister(
		m.embeddingsTotal,
		m.embeddingsErrors,
		m.embeddingDuration,
		m.reposPending,
		m.reposProcessed,
		m.providerRequests,
		m.rateLimits,
		m.activeConnections,
		m.circuitBreakerState,
		m.retryAttempts,
		m.poolConnectionsActive,
		m.poolConnectionsIdle,
		m.poolConnectionsWaiting,
		m.poolConnectionsCreated,
		m.poolConnectionsRecycled,
		m.poolConnectionErrors,
		m.poolHealthCheckFailures,
		m.embeddingValidations,
		m.cacheHits,
		m.cacheMisses,
		m.batchUpdates,
		m.uptime,
	)

	global = m
}

// RecordEmbeddingGenerated counts one finished embedding and its latency.
func RecordEmbeddingGenerated(provider, model string, seconds float64) {
	if global == nil {
		return
	}
	global.embeddingsTotal.WithLabelValues(provider, model).Inc()
	global.embeddingDuration.WithLabelValues(provider, model).Observe(seconds)
	global.reposProcessed.Inc()
}

// RecordEmbeddingError counts an embedding failure by error code.
func RecordEmbeddingError(provider, errorType string) {
	if global == nil {
		return
	}
	global.embeddingsErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordProviderRequest counts one provider round trip.
func RecordProviderRequest(provider string, success bool) {
	if global == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	global.providerRequests.WithLabelValues(provider, status).Inc()
}

// RecordRateLimit counts a throttled provider call.
func RecordRateLimit(provider string) {
	if global == nil {
		return
	}
	global.rateLimits.WithLabelValues(provider).Inc()
}

// SetPendingRepos sets the backlog gauge.
func SetPendingRepos(count int64) {
	if global == nil {
		return
	}
	global.reposPending.Set(float64(count))
}

// UpdateActiveConnections adjusts the connection gauge for a connection type.
func UpdateActiveConnections(connType string, delta int64) {
	if global == nil {
		return
	}
	global.activeConnections.WithLabelValues(connType).Add(float64(delta))
}

// RecordCircuitBreakerState sets the breaker gauge for a service.
// state: "closed", "open" or "half_open".
func RecordCircuitBreakerState(service, state string) {
	if global == nil {
		return
	}
	var value float64
	switch state {
	case "open":
		value = 1
	case "half_open":
		value = 2
	}
	global.circuitBreakerState.WithLabelValues(service).Set(value)
}

// RecordRetry counts one retry attempt for an operation.
func RecordRetry(operation string) {
	if global == nil {
		return
	}
	global.retryAttempts.WithLabelValues(operation).Inc()
}

// SetPoolConnections publishes the pool's occupancy gauges.
func SetPoolConnections(active, idle, waiting int) {
	if global == nil {
		return
	}
	global.poolConnectionsActive.Set(float64(active))
	global.poolConnectionsIdle.Set(float64(idle))
	global.poolConnectionsWaiting.Set(float64(waiting))
}

// IncPoolConnectionsCreated counts a fresh database session.
func IncPoolConnectionsCreated() {
	if global == nil {
		return
	}
	global.poolConnectionsCreated.WithLabelValues("surrealdb").Inc()
}

// IncPoolConnectionsRecycled counts a session replaced after a failed probe.
func IncPoolConnectionsRecycled() {
	if global == nil {
		return
	}
	global.poolConnectionsRecycled.WithLabelValues("surrealdb").Inc()
}

// IncPoolConnectionErrors counts a failed session creation.
func IncPoolConnectionErrors() {
	if global == nil {
		return
	}
	global.poolConnectionErrors.WithLabelValues("surrealdb", "create").Inc()
}

// IncPoolHealthCheckFailures counts a failed liveness probe.
func IncPoolHealthCheckFailures() {
	if global == nil {
		return
	}
	global.poolHealthCheckFailures.WithLabelValues("surrealdb").Inc()
}

// RecordEmbeddingValidation counts a validator verdict.
func RecordEmbeddingValidation(model string, pass bool) {
	if global == nil {
		return
	}
	status := "pass"
	if !pass {
		status = "fail"
	}
	global.embeddingValidations.WithLabelValues(model, status).Inc()
}

// RecordCacheHit counts an embedding served from cache.
func RecordCacheHit() {
	if global == nil {
		return
	}
	global.cacheHits.Inc()
}

// RecordCacheMiss counts a cache lookup that fell through to a provider.
func RecordCacheMiss() {
	if global == nil {
		return
	}
	global.cacheMisses.Inc()
}

// RecordBatchUpdate counts one write-back transaction.
func RecordBatchUpdate(success bool) {
	if global == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	global.batchUpdates.WithLabelValues(status).Inc()
}

// Handler returns the exposition endpoint for the monitoring server.
func Handler() http.Handler {
	if global == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(global.registry, promhttp.HandlerOpts{})
}

// Registry returns the prometheus registry for custom collectors.
func Registry() *prometheus.Registry {
	if global == nil {
		return nil
	}
	return global.registry
}
