package x402

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// SafeBase64Decode decodes standard or URL-safe base64, padded or not. The
// payment headers in the wild mix alphabets, so the strict stdlib decoders
// are tried in order.
func SafeBase64Decode(s string) ([]byte, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, errors.New("x402: empty base64 input")
	}
	if strings.HasPrefix(raw, "{") {
		return []byte(raw), nil
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(raw); err == nil {
			return data, nil
		}
	}
	return nil, errors.New("x402: invalid base64 input")
}

// SafeBase64Encode emits padded standard base64, the canonical form for
// X-PAYMENT and the snapshot fields.
func SafeBase64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// CanonicalJSON renders v as sorted-keys, minimal-whitespace, UTF-8 JSON.
// This is the byte form hashed for payment binding and embedded in
// tracestate, so it must be stable across processes.
func CanonicalJSON(v any) ([]byte, error) {
	// Round-trip raw JSON through any so objects become maps, which the
	// stdlib marshals with sorted keys.
	switch raw := v.(type) {
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		v = decoded
	case []byte:
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		v = decoded
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalBase64 is base64(CanonicalJSON(v)), the fallback X-PAYMENT form
// used when the caller did not supply the header itself.
func CanonicalBase64(v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SafeBase64Encode(data), nil
}
