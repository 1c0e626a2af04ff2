package errors

// ErrorCode is the machine-readable identifier carried in error.code.
// The set is fixed; sellers and buyer SDKs branch on these strings.
type ErrorCode string

// Header and transport validation failures.
const (
	ErrCodeTraceHeaderInvalid        ErrorCode = "TRACE_HEADER_INVALID"
	ErrCodeTraceHeaderUnsupported    ErrorCode = "TRACE_HEADER_UNSUPPORTED"
	ErrCodeEvidenceHeaderInvalid     ErrorCode = "EVIDENCE_HEADER_INVALID"
	ErrCodeEvidenceHeaderUnsupported ErrorCode = "EVIDENCE_HEADER_UNSUPPORTED"
	ErrCodeRiskSessionInvalid        ErrorCode = "RISK_SESSION_INVALID"
	ErrCodeRiskTraceInvalid          ErrorCode = "RISK_TRACE_INVALID"
)

// AP2 evidence verification failures.
const (
	ErrCodeAP2EvidenceMissing     ErrorCode = "AP2_EVIDENCE_MISSING"
	ErrCodeAP2EvidenceInvalid     ErrorCode = "AP2_EVIDENCE_INVALID"
	ErrCodeAP2OriginMismatch      ErrorCode = "AP2_ORIGIN_MISMATCH"
	ErrCodeAP2ResourceMismatch    ErrorCode = "AP2_RESOURCE_MISMATCH"
	ErrCodeAP2NetworkMismatch     ErrorCode = "AP2_NETWORK_MISMATCH"
	ErrCodeAP2PayToMismatch       ErrorCode = "AP2_PAYTO_MISMATCH"
	ErrCodeAP2AssetMismatch       ErrorCode = "AP2_ASSET_MISMATCH"
	ErrCodeAP2TTLNotBefore        ErrorCode = "AP2_TTL_NOT_BEFORE"
	ErrCodeAP2TTLExpired          ErrorCode = "AP2_TTL_EXPIRED"
	ErrCodeAP2PaymentHashMismatch ErrorCode = "AP2_PAYMENT_HASH_MISMATCH"
	ErrCodeAP2MerchantDenied      ErrorCode = "AP2_MERCHANT_DENIED"
	ErrCodeAP2SigUnavailable      ErrorCode = "AP2_SIG_UNAVAILABLE"
	ErrCodeAP2SigInvalid          ErrorCode = "AP2_SIG_INVALID"
	ErrCodeAP2SigPayerMismatch    ErrorCode = "AP2_SIG_PAYER_MISMATCH"
	ErrCodeAP2ChainUnsupported    ErrorCode = "AP2_CHAIN_UNSUPPORTED"
)

// Risk gating outcomes.
const (
	ErrCodeRiskDenied ErrorCode = "RISK_DENIED"
	ErrCodeRiskReview ErrorCode = "RISK_REVIEW"
)

// ErrCodeUnspecified is the fallback for failures outside the taxonomy.
const ErrCodeUnspecified ErrorCode = "UNSPECIFIED"

// HTTPStatus returns the default HTTP status for this code. Call sites that
// propagate an upstream status override it via Error.Status.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - header/transport validation
	case ErrCodeTraceHeaderInvalid,
		ErrCodeTraceHeaderUnsupported,
		ErrCodeEvidenceHeaderInvalid,
		ErrCodeEvidenceHeaderUnsupported,
		ErrCodeRiskSessionInvalid,
		ErrCodeRiskTraceInvalid:
		return 400

	// 403 Forbidden - risk gate refused the operation
	case ErrCodeRiskDenied,
		ErrCodeRiskReview:
		return 403

	// 422 Unprocessable Entity - AP2 evidence failed verification
	case ErrCodeAP2EvidenceMissing,
		ErrCodeAP2EvidenceInvalid,
		ErrCodeAP2OriginMismatch,
		ErrCodeAP2ResourceMismatch,
		ErrCodeAP2NetworkMismatch,
		ErrCodeAP2PayToMismatch,
		ErrCodeAP2AssetMismatch,
		ErrCodeAP2TTLNotBefore,
		ErrCodeAP2TTLExpired,
		ErrCodeAP2PaymentHashMismatch,
		ErrCodeAP2MerchantDenied,
		ErrCodeAP2SigUnavailable,
		ErrCodeAP2SigInvalid,
		ErrCodeAP2SigPayerMismatch,
		ErrCodeAP2ChainUnsupported:
		return 422

	default:
		return 500
	}
}
