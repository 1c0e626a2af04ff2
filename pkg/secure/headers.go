// Package secure implements the X-PAYMENT-SECURE / X-AP2-EVIDENCE header
// codec and the risk-id header validation used by the payment gateway.
//
// Header grammar is versioned and strict: a parser rejects oversized values,
// unknown versions, and malformed segments with a HeaderError carrying the
// exact client-facing message.
package secure

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/x402secure/gateway/internal/errors"
)

const (
	// SecureVersion prefixes every X-PAYMENT-SECURE value.
	SecureVersion = "w3c.v1"
	// EvidenceVersion prefixes every X-AP2-EVIDENCE value.
	EvidenceVersion = "evd.v1"

	// MaxSecureLen bounds X-PAYMENT-SECURE in bytes.
	MaxSecureLen = 4096
	// MaxEvidenceLen bounds X-AP2-EVIDENCE in bytes.
	MaxEvidenceLen = 2048
)

// DefaultUUIDVersions is the accepted set for risk-id headers.
var DefaultUUIDVersions = []int{1, 4}

const (
	zeroTraceID = "00000000000000000000000000000000"
	zeroSpanID  = "0000000000000000"
)

// SecureHeader is a parsed X-PAYMENT-SECURE value. TP is the validated
// traceparent; TS is the raw tracestate segment, empty when absent.
type SecureHeader struct {
	TP string
	TS string
}

// Mandate is a parsed X-AP2-EVIDENCE value: a reference-plus-digest
// attestation over a JSON document. The JSON form matches the mandate
// subobject of an evaluate request.
type Mandate struct {
	Ref    string `json:"ref"`
	Digest string `json:"sha256_b64url"`
	MIME   string `json:"mime"`
	Size   int    `json:"size"`
}

// Traceparent is the four-field W3C trace context identifier.
type Traceparent struct {
	Version string
	TraceID string
	SpanID  string
	Flags   string
}

// String serializes back to the dash-joined wire form.
func (tp Traceparent) String() string {
	return tp.Version + "-" + tp.TraceID + "-" + tp.SpanID + "-" + tp.Flags
}

// ParsePaymentSecure validates an X-PAYMENT-SECURE header value.
// An empty value means the header was absent and is an error: the proxy
// requires trace context on every gated operation.
func ParsePaymentSecure(value string) (SecureHeader, error) {
	if value == "" {
		return SecureHeader{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "X-PAYMENT-SECURE required")
	}
	if len(value) > MaxSecureLen {
		return SecureHeader{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "X-PAYMENT-SECURE too large")
	}
	parts := strings.Split(value, ";")
	if parts[0] != SecureVersion {
		return SecureHeader{}, newHeaderError(errors.ErrCodeTraceHeaderUnsupported, "Unsupported X-PAYMENT-SECURE version")
	}
	kv := make(map[string]string, 2)
	for _, seg := range parts[1:] {
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			return SecureHeader{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "Malformed X-PAYMENT-SECURE segment")
		}
		if k != "tp" && k != "ts" {
			return SecureHeader{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "Malformed X-PAYMENT-SECURE segment")
		}
		kv[k] = v
	}
	tp := kv["tp"]
	if tp == "" {
		return SecureHeader{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "traceparent (tp) required")
	}
	if _, err := ValidateTraceparent(tp); err != nil {
		return SecureHeader{}, err
	}
	return SecureHeader{TP: tp, TS: kv["ts"]}, nil
}

// ValidateTraceparent checks the W3C traceparent grammar: version 00, a
// 32-hex non-zero trace id, a 16-hex non-zero span id, and 2-hex flags.
func ValidateTraceparent(value string) (Traceparent, error) {
	parts := strings.Split(value, "-")
	if len(parts) != 4 {
		return Traceparent{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "traceparent format invalid")
	}
	tp := Traceparent{Version: parts[0], TraceID: parts[1], SpanID: parts[2], Flags: parts[3]}
	if tp.Version != "00" {
		return Traceparent{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "traceparent version must be 00")
	}
	if len(tp.TraceID) != 32 || !isLowerHex(tp.TraceID) {
		return Traceparent{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "trace_id invalid")
	}
	if len(tp.SpanID) != 16 || !isLowerHex(tp.SpanID) {
		return Traceparent{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "span_id invalid")
	}
	if len(tp.Flags) != 2 || !isLowerHex(tp.Flags) {
		return Traceparent{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "flags invalid")
	}
	if tp.TraceID == zeroTraceID {
		return Traceparent{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "trace_id cannot be all zeros")
	}
	if tp.SpanID == zeroSpanID {
		return Traceparent{}, newHeaderError(errors.ErrCodeTraceHeaderInvalid, "span_id cannot be all zeros")
	}
	return tp, nil
}

// ParseEvidenceHeader validates an X-AP2-EVIDENCE header value and returns
// the mandate reference it carries. Unknown segments are tolerated; only
// the required keys are interpreted.
func ParseEvidenceHeader(value string) (Mandate, error) {
	if len(value) > MaxEvidenceLen {
		return Mandate{}, newHeaderError(errors.ErrCodeEvidenceHeaderInvalid, "X-AP2-EVIDENCE too large")
	}
	parts := strings.Split(value, ";")
	if parts[0] != EvidenceVersion {
		return Mandate{}, newHeaderError(errors.ErrCodeEvidenceHeaderUnsupported, "Unsupported X-AP2-EVIDENCE version")
	}
	kv := make(map[string]string, 4)
	for _, seg := range parts[1:] {
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			return Mandate{}, newHeaderError(errors.ErrCodeEvidenceHeaderInvalid, "Malformed X-AP2-EVIDENCE segment")
		}
		kv[k] = v
	}
	for _, k := range []string{"mr", "ms", "mt", "sz"} {
		if kv[k] == "" {
			return Mandate{}, newHeaderError(errors.ErrCodeEvidenceHeaderInvalid, "Missing required evidence keys")
		}
	}
	if kv["mt"] != "application/json" {
		return Mandate{}, newHeaderError(errors.ErrCodeEvidenceHeaderInvalid, "mt must be application/json")
	}
	size, err := strconv.Atoi(kv["sz"])
	if err != nil || size < 0 || !isDigits(kv["sz"]) {
		return Mandate{}, newHeaderError(errors.ErrCodeEvidenceHeaderInvalid, "sz must be decimal size")
	}
	return Mandate{Ref: kv["mr"], Digest: kv["ms"], MIME: kv["mt"], Size: size}, nil
}

// ParseRiskIDs validates the X-RISK-SESSION and X-RISK-TRACE values.
// The session id is required and returned in canonical lowercase form; the
// trace id is optional and returned verbatim once validated. accepted lists
// the permitted UUID versions; nil means DefaultUUIDVersions.
func ParseRiskIDs(sid, tid string, accepted []int) (string, string, error) {
	if accepted == nil {
		accepted = DefaultUUIDVersions
	}
	if sid == "" {
		return "", "", newHeaderError(errors.ErrCodeRiskSessionInvalid, "X-RISK-SESSION required")
	}
	normalized, err := validateUUID(sid, "X-RISK-SESSION", errors.ErrCodeRiskSessionInvalid, accepted)
	if err != nil {
		return "", "", err
	}
	if tid != "" {
		if _, err := validateUUID(tid, "X-RISK-TRACE", errors.ErrCodeRiskTraceInvalid, accepted); err != nil {
			return "", "", err
		}
	}
	return normalized, tid, nil
}

func validateUUID(value, name string, code errors.ErrorCode, accepted []int) (string, error) {
	u, err := uuid.Parse(value)
	if err == nil {
		for _, v := range accepted {
			if int(u.Version()) == v {
				return u.String(), nil
			}
		}
	}
	return "", newHeaderError(code, name+" must be UUID "+versionsLabel(accepted))
}

// versionsLabel renders an accepted-version list as "v1 or v4" style text.
func versionsLabel(accepted []int) string {
	labels := make([]string, len(accepted))
	for i, v := range accepted {
		labels[i] = "v" + strconv.Itoa(v)
	}
	switch len(labels) {
	case 0:
		return "v?"
	case 1:
		return labels[0]
	default:
		return strings.Join(labels[:len(labels)-1], ", ") + " or " + labels[len(labels)-1]
	}
}

func isLowerHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
