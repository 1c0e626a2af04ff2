package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// HTTP server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream facilitator metrics
	UpstreamCallsTotal   *prometheus.CounterVec
	UpstreamCallDuration *prometheus.HistogramVec
	UpstreamErrorsTotal  *prometheus.CounterVec

	// Risk metrics
	RiskDecisionsTotal     *prometheus.CounterVec
	RiskEvaluationDuration *prometheus.HistogramVec

	// AP2 evidence metrics
	AP2VerificationsTotal *prometheus.CounterVec
	AP2FailuresTotal      *prometheus.CounterVec

	// Risk store metrics
	RiskSessionsActive      prometheus.Gauge
	RiskTracesActive        prometheus.Gauge
	RiskStoreEvictionsTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// HTTP server metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Upstream facilitator metrics
		UpstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_calls_total",
				Help: "Total number of calls to the upstream facilitator",
			},
			[]string{"operation", "status"},
		),
		UpstreamCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_call_duration_seconds",
				Help:    "Duration of upstream facilitator calls (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		),
		UpstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_errors_total",
				Help: "Total number of upstream facilitator errors",
			},
			[]string{"operation", "error_type"},
		),

		// Risk metrics
		RiskDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_risk_decisions_total",
				Help: "Total number of risk decisions by endpoint and outcome",
			},
			[]string{"endpoint", "decision"},
		),
		RiskEvaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_risk_evaluation_duration_seconds",
				Help:    "Duration of risk evaluations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"mode"},
		),

		// AP2 evidence metrics
		AP2VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ap2_verifications_total",
				Help: "Total number of AP2 evidence verifications",
			},
			[]string{"result"},
		),
		AP2FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ap2_failures_total",
				Help: "Total number of AP2 evidence verification failures by code",
			},
			[]string{"code"},
		),

		// Risk store metrics
		RiskSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_risk_sessions_active",
				Help: "Number of live risk sessions in the local store",
			},
		),
		RiskTracesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_risk_traces_active",
				Help: "Number of live agent traces in the local store",
			},
		),
		RiskStoreEvictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_risk_store_evictions_total",
				Help: "Total number of entries evicted from the local risk store",
			},
			[]string{"kind", "reason"},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),
	}
}

// ObserveHTTPRequest records a completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveUpstreamCall records a call to the upstream facilitator.
func (m *Metrics) ObserveUpstreamCall(operation string, status int, duration time.Duration, err error) {
	statusLabel := strconv.Itoa(status)
	if status == 0 {
		statusLabel = "error"
	}
	m.UpstreamCallsTotal.WithLabelValues(operation, statusLabel).Inc()
	m.UpstreamCallDuration.WithLabelValues(operation).Observe(duration.Seconds())

	if err != nil {
		errorType := "unknown"
		// Categorize errors
		if errStr := err.Error(); errStr != "" {
			switch {
			case contains(errStr, "timeout"):
				errorType = "timeout"
			case contains(errStr, "deadline"):
				errorType = "timeout"
			case contains(errStr, "connection"):
				errorType = "connection"
			case contains(errStr, "circuit breaker"):
				errorType = "circuit_open"
			default:
				errorType = "other"
			}
		}
		m.UpstreamErrorsTotal.WithLabelValues(operation, errorType).Inc()
	}
}

// ObserveRiskDecision records a risk decision attached to a proxy endpoint.
func (m *Metrics) ObserveRiskDecision(endpoint, decision string) {
	m.RiskDecisionsTotal.WithLabelValues(endpoint, decision).Inc()
}

// ObserveRiskEvaluation records the latency of a risk evaluation.
func (m *Metrics) ObserveRiskEvaluation(mode string, duration time.Duration) {
	m.RiskEvaluationDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveAP2Verification records an AP2 evidence verification outcome.
// Failed verifications also record the failing error code.
func (m *Metrics) ObserveAP2Verification(code string, ok bool) {
	if ok {
		m.AP2VerificationsTotal.WithLabelValues("success").Inc()
		return
	}
	m.AP2VerificationsTotal.WithLabelValues("failure").Inc()
	m.AP2FailuresTotal.WithLabelValues(code).Inc()
}

// SetRiskStoreSize records the current number of live entries in the local risk store.
func (m *Metrics) SetRiskStoreSize(sessions, traces int) {
	m.RiskSessionsActive.Set(float64(sessions))
	m.RiskTracesActive.Set(float64(traces))
}

// ObserveRiskStoreEviction records entries evicted from the local risk store.
func (m *Metrics) ObserveRiskStoreEviction(kind, reason string, count int) {
	if count <= 0 {
		return
	}
	m.RiskStoreEvictionsTotal.WithLabelValues(kind, reason).Add(float64(count))
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// Helper functions
func contains(s, substr string) bool {
	return len(s) >= len(substr) && s[:len(substr)] == substr ||
		len(s) > len(substr) && contains(s[1:], substr)
}
