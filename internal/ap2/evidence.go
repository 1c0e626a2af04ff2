package ap2

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/x402secure/gateway/internal/errors"
	"github.com/x402secure/gateway/pkg/x402"
)

// Evidence is the decoded AP2 evidence document carried in X-AP2-EVIDENCE
// (or the ap2EvidenceHeader body field). Hash fields are hex encoded, with
// or without the 0x prefix, and at most 32 bytes.
type Evidence struct {
	V           int    `json:"v"`
	PaymentHash string `json:"paymentHash"`
	Resource    string `json:"resource"`
	OriginHash  string `json:"originHash"`
	Network     string `json:"network"`
	Asset       string `json:"asset"`
	PayTo       string `json:"payTo"`
	IntentUID   string `json:"intent_uid"`
	CartUID     string `json:"cart_uid,omitempty"`
	PaymentUID  string `json:"payment_uid,omitempty"`
	TraceUID    string `json:"trace_uid"`

	// Validity window. NotBefore/NotAfter are unix seconds; Exp is an
	// ISO-8601 alternative to NotAfter.
	NotBefore int64  `json:"notBefore,omitempty"`
	NotAfter  int64  `json:"notAfter,omitempty"`
	Exp       string `json:"exp,omitempty"`

	// Optional EIP-712 signature over the evidence fields.
	Sig string `json:"sig,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// Policy is the merchant's AP2 enforcement policy embedded in
// paymentRequirements.extra under "ap2" or "ap2-evidence".
type Policy struct {
	RequireIntentMandate  bool     `json:"requireIntentMandate"`
	RequireCartMandate    bool     `json:"requireCartMandate"`
	RequirePaymentMandate bool     `json:"requirePaymentMandate"`
	RequireTrace          bool     `json:"requireTrace"`
	AcceptedMerchantIDs   []string `json:"acceptedMerchantIds,omitempty"`
}

// Demands reports whether the policy requires evidence-backed verification.
// A request with no evidence passes only when nothing demands it; omitting
// evidence must not bypass a merchant's mandate requirements.
func (p Policy) Demands() bool {
	return p.RequireIntentMandate || p.RequireCartMandate ||
		p.RequirePaymentMandate || p.RequireTrace ||
		len(p.AcceptedMerchantIDs) > 0
}

// ExtractPolicy reads the AP2 policy out of the payment requirements.
// Absent policy means nothing is enforced; a malformed policy object is the
// merchant's configuration error, not the buyer's.
func ExtractPolicy(pr x402.PaymentRequirements) (Policy, error) {
	var policy Policy

	raw, ok := pr.Extra["ap2"]
	if !ok || raw == nil {
		raw, ok = pr.Extra["ap2-evidence"]
	}
	if !ok || raw == nil {
		return policy, nil
	}

	data, err := json.Marshal(raw)
	if err == nil {
		err = json.Unmarshal(data, &policy)
	}
	if err != nil {
		return Policy{}, failed(apperrors.ErrCodeUnspecified,
			fmt.Sprintf("Invalid AP2 policy in paymentRequirements.extra: %v", err))
	}
	return policy, nil
}

// ParseEvidence decodes base64(JSON evidence). The header value wins over
// the body field when both are present.
func ParseEvidence(headerVal, bodyVal string) (*Evidence, error) {
	raw := headerVal
	if raw == "" {
		raw = bodyVal
	}
	if raw == "" {
		return nil, failed(apperrors.ErrCodeAP2EvidenceMissing, "Missing AP2 evidence")
	}

	data, err := x402.SafeBase64Decode(raw)
	if err != nil {
		return nil, failed(apperrors.ErrCodeAP2EvidenceInvalid,
			fmt.Sprintf("Invalid AP2 evidence: %v", err))
	}

	var ev Evidence
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, failed(apperrors.ErrCodeAP2EvidenceInvalid,
			fmt.Sprintf("Invalid AP2 evidence: %v", err))
	}
	if err := ev.validateShape(); err != nil {
		return nil, failed(apperrors.ErrCodeAP2EvidenceInvalid,
			fmt.Sprintf("Invalid AP2 evidence: %v", err))
	}
	return &ev, nil
}

// validateShape enforces the required fields of the evidence schema. The
// mandate UIDs stay optional here; policy flags decide whether they must be
// present.
func (e *Evidence) validateShape() error {
	if e.V < 1 {
		return fmt.Errorf("missing or invalid field v")
	}
	required := []struct {
		name  string
		value string
	}{
		{"paymentHash", e.PaymentHash},
		{"resource", e.Resource},
		{"originHash", e.OriginHash},
		{"network", e.Network},
		{"asset", e.Asset},
		{"payTo", e.PayTo},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("missing required field %s", f.name)
		}
	}
	return nil
}
