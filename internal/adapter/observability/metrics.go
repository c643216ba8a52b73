// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// TransformRequestsTotal counts transform-backend invocations by backend and outcome.
	TransformRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transform_requests_total",
			Help: "Total number of transform backend invocations",
		},
		[]string{"backend", "outcome"},
	)
	// TransformDuration records durations of transform backend calls.
	TransformDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transform_duration_seconds",
			Help:    "Transform backend call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"backend"},
	)

	// DownloadStrategyTotal counts download fall-through attempts by strategy and outcome.
	DownloadStrategyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "download_strategy_total",
			Help: "Total download fall-through chain attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// JobsEnqueuedTotal counts jobs enqueued by type.
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	// JobsProcessing is a gauge of the number of currently processing jobs by type.
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	// JobsCompletedTotal counts jobs completed by type.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	// JobsFailedTotal counts jobs failed by type.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)
	// JobStageDuration records the wall-clock time spent in each pipeline stage.
	JobStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_stage_duration_seconds",
			Help:    "Duration of each worker pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		},
		[]string{"stage"},
	)

	// CreditLedgerOpsTotal counts reserve/release/finalize ledger operations by outcome.
	CreditLedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_ops_total",
			Help: "Total credit ledger operations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// CircuitBreakerStatus tracks circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)

	// DependencyUpGauge tracks the debounced up/down state of each lifecycle dependency.
	DependencyUpGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lifecycle_dependency_up",
			Help: "Debounced dependency health (1=up, 0=down)",
		},
		[]string{"dependency"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TransformRequestsTotal)
	prometheus.MustRegister(TransformDuration)
	prometheus.MustRegister(DownloadStrategyTotal)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobStageDuration)
	prometheus.MustRegister(CreditLedgerOpsTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
	prometheus.MustRegister(DependencyUpGauge)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob increments the enqueued jobs counter for the given type.
func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

// StartProcessingJob increments the processing gauge for the given type.
func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

// CompleteJob marks a job complete by decrementing processing gauge and incrementing completed counter.
func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

// FailJob marks a job failed by decrementing processing gauge and incrementing failed counter.
func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}

// ObserveStageDuration records the time spent in a pipeline stage.
func ObserveStageDuration(stage string, d time.Duration) {
	JobStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordTransform records the outcome and duration of a transform backend call.
func RecordTransform(backend, outcome string, d time.Duration) {
	TransformRequestsTotal.WithLabelValues(backend, outcome).Inc()
	TransformDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordDownloadStrategy records the outcome of one download fall-through attempt.
func RecordDownloadStrategy(strategy, outcome string) {
	DownloadStrategyTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordLedgerOp records the outcome of a credit ledger operation.
func RecordLedgerOp(kind, outcome string) {
	CreditLedgerOpsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}

// RecordDependencyUp records the debounced up/down state of a dependency.
func RecordDependencyUp(dependency string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	DependencyUpGauge.WithLabelValues(dependency).Set(v)
}
