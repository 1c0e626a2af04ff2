package secure

import (
	"strings"
	"testing"
)

func TestBuildPaymentSecureRoundTrip(t *testing.T) {
	values := []string{
		"w3c.v1;tp=" + validTP,
		"w3c.v1;tp=" + validTP + ";ts=eyJ0aWQiOiJhYmMifQ%3D%3D",
	}
	for _, v := range values {
		parsed, err := ParsePaymentSecure(v)
		if err != nil {
			t.Fatalf("parse(%q): %v", v, err)
		}
		built, err := BuildPaymentSecure(parsed.TP, parsed.TS)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		reparsed, err := ParsePaymentSecure(built)
		if err != nil {
			t.Fatalf("reparse(%q): %v", built, err)
		}
		if reparsed != parsed {
			t.Errorf("round trip changed header: %+v != %+v", reparsed, parsed)
		}
	}
}

func TestBuildPaymentSecureRejectsOversize(t *testing.T) {
	// 65 bytes of prefix+tp plus ";ts=" leaves 4027 bytes for state.
	if _, err := BuildPaymentSecure(validTP, strings.Repeat("A", 4027)); err != nil {
		t.Errorf("boundary build should pass: %v", err)
	}
	_, err := BuildPaymentSecure(validTP, strings.Repeat("A", 4028))
	if err == nil {
		t.Fatal("expected oversize error")
	}
	if err.Error() != "X-PAYMENT-SECURE exceeds 4096 bytes" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestBuildPaymentSecureRejectsInvalidTP(t *testing.T) {
	if _, err := BuildPaymentSecure("", ""); err == nil {
		t.Error("empty tp should fail")
	}
	if _, err := BuildPaymentSecure("00-bad-bad-01", ""); err == nil {
		t.Error("invalid tp should fail")
	}
}

func TestBuildPaymentSecureFromSpan(t *testing.T) {
	tp := Traceparent{
		Version: "00",
		TraceID: "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:  "00f067aa0ba902b7",
		Flags:   "01",
	}
	header, err := BuildPaymentSecureFromSpan(tp, map[string]any{"tid": "abc"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	parsed, err := ParsePaymentSecure(header)
	if err != nil {
		t.Fatalf("parse built header: %v", err)
	}
	if parsed.TP != validTP {
		t.Errorf("TP = %q", parsed.TP)
	}
	if got := TIDFromTraceState(parsed.TS); got != "abc" {
		t.Errorf("tid from tracestate = %q", got)
	}
}

func TestBuildPaymentSecureFromSpanNoContext(t *testing.T) {
	cases := []Traceparent{
		{},
		{Version: "00", TraceID: "00000000000000000000000000000000", SpanID: "00f067aa0ba902b7", Flags: "01"},
		{Version: "00", TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", SpanID: "0000000000000000", Flags: "01"},
	}
	for _, tp := range cases {
		_, err := BuildPaymentSecureFromSpan(tp, nil)
		if err == nil {
			t.Fatalf("zero span %+v should fail", tp)
		}
		if err.Error() != "No active span context; cannot build X-PAYMENT-SECURE" {
			t.Errorf("message = %q", err.Error())
		}
	}
}

func TestEncodeTraceStateEscapesBase64(t *testing.T) {
	// A state whose canonical JSON base64 contains +, / and = must come out
	// fully percent-encoded, matching url-escape of the raw base64 text.
	state := map[string]any{"tid": "abc", "x": "??>>??"}
	encoded, err := EncodeTraceState(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.ContainsAny(encoded, "+/=") {
		t.Errorf("encoded tracestate leaks raw base64 chars: %q", encoded)
	}
	decoded, err := DecodeTraceState(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["tid"] != "abc" || decoded["x"] != "??>>??" {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestTIDFromTraceStateGarbage(t *testing.T) {
	cases := []string{
		"",
		"%zz",
		"not-base64!!",
		"bm90IGpzb24",            // "not json"
		"eyJ0aWQiOiAxMjN9",       // {"tid": 123} - non-string tid
		"eyJvdGhlciI6ICJ4In0%3D", // {"other": "x"}
	}
	for _, ts := range cases {
		if got := TIDFromTraceState(ts); got != "" {
			t.Errorf("TIDFromTraceState(%q) = %q, want empty", ts, got)
		}
	}
}
