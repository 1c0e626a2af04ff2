// Package risk defines the wire contract of the risk endpoints and a small
// client SDK for buyer-side integrations.
package risk

import (
	"encoding/json"
	"fmt"

	"github.com/x402secure/gateway/pkg/secure"
)

// Decision outcomes.
const (
	DecisionAllow  = "allow"
	DecisionDeny   = "deny"
	DecisionReview = "review"
	// DecisionSkipped only appears in the X-Risk-Decision response header,
	// never in a Decision body.
	DecisionSkipped = "skipped"
)

// Risk levels.
const (
	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"
)

// DefaultDecisionTTLSeconds applies when an evaluator omits ttl_seconds.
const DefaultDecisionTTLSeconds = 300

// SessionRequest creates a risk session.
type SessionRequest struct {
	AgentDID      string         `json:"agent_did"`
	WalletAddress string         `json:"wallet_address,omitempty"`
	AgentEndpoint string         `json:"agent_endpoint,omitempty"`
	AppID         string         `json:"app_id,omitempty"`
	Device        map[string]any `json:"device,omitempty"`
}

// SessionResponse returns the minted session id and its expiry.
type SessionResponse struct {
	SID       string `json:"sid"`
	ExpiresAt string `json:"expires_at"`
}

// TraceRequest persists an agent trace under an existing session.
type TraceRequest struct {
	SID         string          `json:"sid"`
	Fingerprint map[string]any  `json:"fingerprint,omitempty"`
	Telemetry   map[string]any  `json:"telemetry,omitempty"`
	AgentTrace  json.RawMessage `json:"agent_trace,omitempty"`
}

// TraceResponse returns the minted trace id.
type TraceResponse struct {
	TID string `json:"tid"`
}

// TraceContext is the distributed-trace pair extracted from X-PAYMENT-SECURE.
type TraceContext struct {
	TP string `json:"tp"`
	TS string `json:"ts,omitempty"`
}

// PaymentContext is the protocol-agnostic payment envelope evaluated for risk.
type PaymentContext struct {
	Protocol string            `json:"protocol,omitempty"`
	Version  any               `json:"version,omitempty"`
	Network  string            `json:"network,omitempty"`
	Payload  map[string]any    `json:"payload"`
	Headers  map[string]string `json:"headers,omitempty"`
	Extra    map[string]any    `json:"extra,omitempty"`
}

// EvaluateRequest is the bundle posted to /risk/evaluate.
type EvaluateRequest struct {
	SID          string          `json:"sid"`
	TID          string          `json:"tid,omitempty"`
	TraceContext *TraceContext   `json:"trace_context,omitempty"`
	Payment      *PaymentContext `json:"payment,omitempty"`
	Mandate      *secure.Mandate `json:"mandate,omitempty"`
}

// Decision is the evaluator verdict consumed by the proxy gate.
type Decision struct {
	Decision    string         `json:"decision"`
	Reasons     []string       `json:"reasons"`
	DecisionID  string         `json:"decision_id"`
	TTLSeconds  int            `json:"ttl_seconds"`
	UsedMandate bool           `json:"used_mandate"`
	Warnings    []string       `json:"warnings"`
	RiskLevel   string         `json:"risk_level"`
	Extra       map[string]any `json:"extra"`
}

// DecodeDecision parses a decision body, applying schema defaults for
// omitted fields, and validates the result.
func DecodeDecision(data []byte) (*Decision, error) {
	d := &Decision{
		Reasons:    []string{},
		TTLSeconds: DefaultDecisionTTLSeconds,
		Warnings:   []string{},
		RiskLevel:  RiskLevelLow,
		Extra:      map[string]any{},
	}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate enforces the decision schema.
func (d *Decision) Validate() error {
	switch d.Decision {
	case DecisionAllow, DecisionDeny, DecisionReview:
	default:
		return fmt.Errorf("decision must be one of allow, deny, review (got %q)", d.Decision)
	}
	if d.DecisionID == "" {
		return fmt.Errorf("decision_id required")
	}
	switch d.RiskLevel {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh:
	default:
		return fmt.Errorf("risk_level must be one of low, medium, high (got %q)", d.RiskLevel)
	}
	if d.TTLSeconds < 0 {
		return fmt.Errorf("ttl_seconds must be non-negative")
	}
	return nil
}
