package x402

// Header names consumed and emitted by the gateway.
const (
	HeaderPayment       = "X-PAYMENT"
	HeaderPaymentSecure = "X-PAYMENT-SECURE"
	HeaderRiskSession   = "X-RISK-SESSION"
	HeaderRiskTrace     = "X-RISK-TRACE"
	HeaderAP2Evidence   = "X-AP2-EVIDENCE"

	HeaderRequestID      = "X-Request-ID"
	HeaderRiskDecision   = "X-Risk-Decision"
	HeaderRiskDecisionID = "X-Risk-Decision-ID"
	HeaderRiskTTLSeconds = "X-Risk-TTL-Seconds"
)

// DefaultVersion is the x402 protocol version spoken when the caller omits
// x402Version.
const DefaultVersion = 1
