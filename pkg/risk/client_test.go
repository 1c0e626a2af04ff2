package risk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDecodeDecisionDefaults(t *testing.T) {
	d, err := DecodeDecision([]byte(`{"decision":"allow","decision_id":"d-1"}`))
	if err != nil {
		t.Fatalf("DecodeDecision: %v", err)
	}
	if d.Decision != DecisionAllow {
		t.Errorf("decision = %q, want allow", d.Decision)
	}
	if d.TTLSeconds != DefaultDecisionTTLSeconds {
		t.Errorf("ttl_seconds = %d, want %d", d.TTLSeconds, DefaultDecisionTTLSeconds)
	}
	if d.RiskLevel != RiskLevelLow {
		t.Errorf("risk_level = %q, want low", d.RiskLevel)
	}
	if d.Reasons == nil || d.Warnings == nil || d.Extra == nil {
		t.Errorf("slice/map fields must be non-nil: reasons=%v warnings=%v extra=%v", d.Reasons, d.Warnings, d.Extra)
	}
}

func TestDecodeDecisionRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown verdict", `{"decision":"maybe","decision_id":"d-1"}`, "decision must be one of"},
		{"missing decision_id", `{"decision":"allow"}`, "decision_id required"},
		{"unknown risk level", `{"decision":"allow","decision_id":"d-1","risk_level":"extreme"}`, "risk_level must be one of"},
		{"negative ttl", `{"decision":"allow","decision_id":"d-1","ttl_seconds":-5}`, "ttl_seconds must be non-negative"},
		{"not json", `decision: allow`, "invalid character"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDecision([]byte(tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestClientCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/risk/session" {
			t.Errorf("request = %s %s, want POST /risk/session", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Authorization = %q, want unset without a token", auth)
		}
		var req SessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.AgentDID != "did:example:agent-1" {
			t.Errorf("agent_did = %q", req.AgentDID)
		}
		json.NewEncoder(w).Encode(SessionResponse{SID: "11111111-1111-4111-8111-111111111111", ExpiresAt: "2026-01-01T00:00:00Z"})
	}))
	defer srv.Close()

	// Trailing slash is trimmed off the base URL.
	c := NewClient(srv.URL+"/", "", 2*time.Second)
	resp, err := c.CreateSession(context.Background(), SessionRequest{AgentDID: "did:example:agent-1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if resp.SID != "11111111-1111-4111-8111-111111111111" || resp.ExpiresAt == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestClientStoreTrace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/risk/trace" {
			t.Errorf("path = %s, want /risk/trace", r.URL.Path)
		}
		json.NewEncoder(w).Encode(TraceResponse{TID: "t-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 2*time.Second)
	resp, err := c.StoreTrace(context.Background(), TraceRequest{SID: "s-1", AgentTrace: json.RawMessage(`{"task":"demo"}`)})
	if err != nil {
		t.Fatalf("StoreTrace: %v", err)
	}
	if resp.TID != "t-1" {
		t.Errorf("tid = %q", resp.TID)
	}
}

func TestClientEvaluateSendsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want Bearer tok-1", auth)
		}
		w.Write([]byte(`{"decision":"allow","decision_id":"d-9"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", 2*time.Second)
	d, err := c.Evaluate(context.Background(), EvaluateRequest{SID: "s-1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Decision != DecisionAllow || d.TTLSeconds != DefaultDecisionTTLSeconds {
		t.Errorf("decision = %+v", d)
	}
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 2*time.Second)
	_, err := c.CreateSession(context.Background(), SessionRequest{AgentDID: "did:example:agent-1"})
	if err == nil {
		t.Fatal("expected an error")
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %T, want *StatusError", err)
	}
	if se.Status != http.StatusForbidden || !strings.Contains(se.Body, "denied") {
		t.Errorf("StatusError = %+v", se)
	}
}
