package observability

import (
	"context"

	"github.com/x402secure/gateway/internal/metrics"
)

// PrometheusHook adapts the Prometheus metrics collector to the hook interfaces.
// This keeps metric emission decoupled from the proxy and risk code paths.
type PrometheusHook struct {
	metrics *metrics.Metrics
}

// NewPrometheusHook creates a hook that emits events to Prometheus metrics.
func NewPrometheusHook(m *metrics.Metrics) *PrometheusHook {
	return &PrometheusHook{metrics: m}
}

func (h *PrometheusHook) Name() string {
	return "prometheus"
}

// ===============================================
// ProxyHook Implementation
// ===============================================

func (h *PrometheusHook) OnVerifyCompleted(ctx context.Context, event VerifyEvent) {
	// Request counts and latency are recorded by the HTTP middleware
}

func (h *PrometheusHook) OnSettleCompleted(ctx context.Context, event SettleEvent) {
	// Request counts and latency are recorded by the HTTP middleware
}

// ===============================================
// RiskHook Implementation
// ===============================================

func (h *PrometheusHook) OnRiskDecision(ctx context.Context, event RiskDecisionEvent) {
	h.metrics.ObserveRiskDecision(event.Endpoint, event.Decision)
	if event.Mode != "" {
		h.metrics.ObserveRiskEvaluation(event.Mode, event.Duration)
	}
}

// ===============================================
// EvidenceHook Implementation
// ===============================================

func (h *PrometheusHook) OnEvidenceVerified(ctx context.Context, event EvidenceEvent) {
	h.metrics.ObserveAP2Verification(event.Code, event.Valid)
}

// ===============================================
// UpstreamHook Implementation
// ===============================================

func (h *PrometheusHook) OnUpstreamCall(ctx context.Context, event UpstreamCallEvent) {
	var err error
	if !event.Success {
		err = &upstreamError{errorType: event.ErrorType}
	}
	h.metrics.ObserveUpstreamCall(event.Operation, event.StatusCode, event.Duration, err)
}

// upstreamError is a minimal error type for the Prometheus hook.
type upstreamError struct {
	errorType string
}

func (e *upstreamError) Error() string {
	return e.errorType
}
