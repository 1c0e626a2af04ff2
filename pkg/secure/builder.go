package secure

import (
	"encoding/base64"
	"encoding/json"
	"net/url"

	"github.com/x402secure/gateway/internal/errors"
	"github.com/x402secure/gateway/pkg/x402"
)

// BuildPaymentSecure serializes a validated traceparent and an optional raw
// tracestate into an X-PAYMENT-SECURE value.
func BuildPaymentSecure(tp, ts string) (string, error) {
	if tp == "" {
		return "", newHeaderError(errors.ErrCodeTraceHeaderInvalid, "traceparent (tp) required")
	}
	if _, err := ValidateTraceparent(tp); err != nil {
		return "", err
	}
	header := SecureVersion + ";tp=" + tp
	if ts != "" {
		header += ";ts=" + ts
	}
	if len(header) > MaxSecureLen {
		return "", newHeaderError(errors.ErrCodeTraceHeaderInvalid, "X-PAYMENT-SECURE exceeds 4096 bytes")
	}
	return header, nil
}

// BuildPaymentSecureFromSpan serializes the active span context, encoding
// the optional state object into the tracestate segment. A zero traceparent
// means no span is active and is an error.
func BuildPaymentSecureFromSpan(tp Traceparent, state any) (string, error) {
	if tp.TraceID == "" || tp.TraceID == zeroTraceID || tp.SpanID == "" || tp.SpanID == zeroSpanID {
		return "", newHeaderError(errors.ErrCodeTraceHeaderInvalid, "No active span context; cannot build X-PAYMENT-SECURE")
	}
	ts := ""
	if state != nil {
		encoded, err := EncodeTraceState(state)
		if err != nil {
			return "", err
		}
		ts = encoded
	}
	return BuildPaymentSecure(tp.String(), ts)
}

// EncodeTraceState renders a state object as url-escaped base64 of its
// canonical JSON form.
func EncodeTraceState(state any) (string, error) {
	canonical, err := x402.CanonicalJSON(state)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(base64.StdEncoding.EncodeToString(canonical)), nil
}

// DecodeTraceState reverses EncodeTraceState. The value must decode to a
// JSON object.
func DecodeTraceState(ts string) (map[string]any, error) {
	unescaped, err := url.PathUnescape(ts)
	if err != nil {
		return nil, err
	}
	raw, err := x402.SafeBase64Decode(unescaped)
	if err != nil {
		return nil, err
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// TIDFromTraceState extracts the trace id smuggled through a tracestate
// value. Any decode failure yields an empty string; callers treat the id
// as simply absent.
func TIDFromTraceState(ts string) string {
	if ts == "" {
		return ""
	}
	state, err := DecodeTraceState(ts)
	if err != nil {
		return ""
	}
	tid, _ := state["tid"].(string)
	return tid
}
