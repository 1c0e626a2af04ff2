package observability

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// LoggingHook logs all observability events using zerolog.
// Useful for debugging and development environments.
type LoggingHook struct {
	logger zerolog.Logger
}

// NewLoggingHook creates a hook that logs all events.
func NewLoggingHook(logger zerolog.Logger) *LoggingHook {
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

// ===============================================
// ProxyHook Implementation
// ===============================================

func (h *LoggingHook) OnVerifyCompleted(ctx context.Context, event VerifyEvent) {
	log := h.logger.Info()
	if !event.Valid {
		log = h.logger.Warn().Str("invalid_reason", event.InvalidReason)
	}

	log.Str("request_id", event.RequestID).
		Str("network", event.Network).
		Str("payer", event.Payer).
		Bool("is_valid", event.Valid).
		Dur("duration", event.Duration).
		Msg("verify completed")
}

func (h *LoggingHook) OnSettleCompleted(ctx context.Context, event SettleEvent) {
	log := h.logger.Info()
	if !event.Success {
		log = h.logger.Warn().Str("error_reason", event.ErrorReason)
	}

	log.Str("request_id", event.RequestID).
		Str("network", event.Network).
		Str("payer", event.Payer).
		Bool("success", event.Success).
		Str("transaction", event.Transaction).
		Dur("duration", event.Duration).
		Msg("settle completed")
}

// ===============================================
// RiskHook Implementation
// ===============================================

func (h *LoggingHook) OnRiskDecision(ctx context.Context, event RiskDecisionEvent) {
	log := h.logger.Info()
	if event.Decision == "deny" {
		log = h.logger.Warn().Str("reasons", strings.Join(event.Reasons, "; "))
	}

	log.Str("request_id", event.RequestID).
		Str("endpoint", event.Endpoint).
		Str("sid", event.SessionID).
		Str("tid", event.TraceID).
		Str("decision", event.Decision).
		Str("risk_level", event.RiskLevel).
		Str("mode", event.Mode).
		Int("ttl_seconds", event.TTLSeconds).
		Dur("duration", event.Duration).
		Msg("risk decision")
}

// ===============================================
// EvidenceHook Implementation
// ===============================================

func (h *LoggingHook) OnEvidenceVerified(ctx context.Context, event EvidenceEvent) {
	if event.Valid {
		h.logger.Info().
			Str("request_id", event.RequestID).
			Str("network", event.Network).
			Bool("signature_checked", event.SignatureChecked).
			Msg("AP2 evidence verified")
		return
	}

	h.logger.Warn().
		Str("request_id", event.RequestID).
		Str("network", event.Network).
		Str("code", event.Code).
		Str("reason", event.Reason).
		Msg("AP2 evidence rejected")
}

// ===============================================
// UpstreamHook Implementation
// ===============================================

func (h *LoggingHook) OnUpstreamCall(ctx context.Context, event UpstreamCallEvent) {
	log := h.logger.Debug()
	if !event.Success {
		log = h.logger.Warn().Str("error_type", event.ErrorType)
	}

	log.Str("operation", event.Operation).
		Str("url", event.URL).
		Int("status_code", event.StatusCode).
		Dur("duration", event.Duration).
		Msg("upstream facilitator call")
}
