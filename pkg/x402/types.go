package x402

import "encoding/json"

// PaymentRequirements follows the x402 specification for a single accepted
// payment option, as returned in a 402 preflight and echoed back on
// verify/settle. Reference: https://github.com/coinbase/x402
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired,omitempty"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Asset             string         `json:"asset,omitempty"`
	OutputSchema      any            `json:"outputSchema,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// VerifyRequest is the body accepted by POST /x402/verify and /x402/settle.
// The payload fields stay raw so fields outside the standard schema survive
// the round trip to the upstream facilitator.
type VerifyRequest struct {
	X402Version         int             `json:"x402Version"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`

	// AP2EvidenceHeader carries base64(JSON evidence) for callers that cannot
	// set the X-AP2-EVIDENCE header.
	AP2EvidenceHeader string `json:"ap2EvidenceHeader,omitempty"`
}

// SettleRequest shares the verify body shape.
type SettleRequest = VerifyRequest

// ForwardRequest is the JSON posted to the upstream facilitator. It carries
// both the structured payload and the exact header form (paymentHeader) so
// either facilitator dialect can consume it.
type ForwardRequest struct {
	X402Version         int             `json:"x402Version"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
	PaymentHeader       string          `json:"paymentHeader,omitempty"`
}

// VerifyResponse is the narrowed upstream verify result.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	Payer         string `json:"payer"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// SettleResponse is the narrowed upstream settlement result.
type SettleResponse struct {
	Success     bool   `json:"success"`
	Payer       string `json:"payer"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// DecodePaymentHeader decodes an X-PAYMENT header value into the generic
// payload map. The header is base64 of a JSON object; raw JSON is accepted
// as well since some clients skip encoding in tests.
func DecodePaymentHeader(header string) (map[string]any, error) {
	data, err := SafeBase64Decode(header)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
