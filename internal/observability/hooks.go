package observability

import (
	"context"
	"time"
)

// Hook is the base interface for all observability hooks.
// Implementations can emit events to DataDog, New Relic, OpenTelemetry, etc.
type Hook interface {
	// Name returns the hook's identifier for logging/debugging
	Name() string
}

// ProxyHook receives events when proxied x402 calls complete.
type ProxyHook interface {
	Hook

	// OnVerifyCompleted is called when a proxied verify call finishes.
	OnVerifyCompleted(ctx context.Context, event VerifyEvent)

	// OnSettleCompleted is called when a proxied settle call finishes.
	OnSettleCompleted(ctx context.Context, event SettleEvent)
}

// RiskHook receives events when a risk decision is attached to a request.
type RiskHook interface {
	Hook

	// OnRiskDecision is called after the risk evaluator returns a decision.
	OnRiskDecision(ctx context.Context, event RiskDecisionEvent)
}

// EvidenceHook receives events from AP2 evidence verification.
type EvidenceHook interface {
	Hook

	// OnEvidenceVerified is called after evidence verification (pass or fail).
	OnEvidenceVerified(ctx context.Context, event EvidenceEvent)
}

// UpstreamHook receives events from calls to the upstream facilitator.
type UpstreamHook interface {
	Hook

	// OnUpstreamCall is called after each facilitator round trip.
	OnUpstreamCall(ctx context.Context, event UpstreamCallEvent)
}

// ===============================================
// Event Types
// ===============================================

// VerifyEvent is emitted when a proxied verify call completes.
type VerifyEvent struct {
	Timestamp     time.Time
	RequestID     string
	Network       string
	PayTo         string
	Payer         string
	Valid         bool
	InvalidReason string // Set if Valid=false
	Duration      time.Duration
	Metadata      map[string]string
}

// SettleEvent is emitted when a proxied settle call completes.
type SettleEvent struct {
	Timestamp   time.Time
	RequestID   string
	Network     string
	Payer       string
	Success     bool
	Transaction string // On-chain transaction hash reported by the facilitator
	ErrorReason string // Set if Success=false
	Duration    time.Duration
	Metadata    map[string]string
}

// RiskDecisionEvent is emitted when a risk decision is attached to a request.
type RiskDecisionEvent struct {
	Timestamp  time.Time
	RequestID  string
	Endpoint   string // "verify" or "settle"
	SessionID  string
	TraceID    string
	Decision   string // "allow", "deny", "review", "skipped"
	RiskLevel  string
	Reasons    []string
	TTLSeconds int
	Mode       string // "local" or "forward"
	Duration   time.Duration
}

// EvidenceEvent is emitted after AP2 evidence verification.
type EvidenceEvent struct {
	Timestamp        time.Time
	RequestID        string
	Network          string
	Valid            bool
	Code             string // Error code, set if Valid=false
	Reason           string // Human-readable reason, set if Valid=false
	SignatureChecked bool   // true when an EIP-712 signature was recovered
}

// UpstreamCallEvent is emitted for calls to the upstream facilitator.
type UpstreamCallEvent struct {
	Timestamp  time.Time
	Operation  string // "verify" or "settle"
	URL        string
	StatusCode int
	Duration   time.Duration
	Success    bool
	ErrorType  string // "timeout", "connection", "circuit_open", "other"
}
