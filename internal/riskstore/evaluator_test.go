package riskstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/x402secure/gateway/pkg/risk"
	"github.com/x402secure/gateway/pkg/secure"
)

func TestEvaluator_Allow(t *testing.T) {
	store := New(5*time.Minute, 10)
	defer store.Stop()
	evaluator := NewEvaluator(store)

	session := store.CreateSession(SessionParams{AgentDID: "0xaaaa"})
	trace, err := store.CreateTrace(TraceParams{SID: session.SID})
	if err != nil {
		t.Fatal(err)
	}

	decision, err := evaluator.Evaluate(context.Background(), &risk.EvaluateRequest{
		SID: session.SID,
		TID: trace.TID,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Decision != risk.DecisionAllow {
		t.Errorf("decision = %s", decision.Decision)
	}
	if decision.RiskLevel != risk.RiskLevelLow {
		t.Errorf("risk_level = %s", decision.RiskLevel)
	}
	if decision.TTLSeconds != 300 {
		t.Errorf("ttl_seconds = %d", decision.TTLSeconds)
	}
	if decision.UsedMandate {
		t.Error("used_mandate should be false without a mandate")
	}
	if _, err := uuid.Parse(decision.DecisionID); err != nil {
		t.Errorf("decision_id not a UUID: %q", decision.DecisionID)
	}
	if decision.Reasons == nil || decision.Warnings == nil || decision.Extra == nil {
		t.Error("collections must serialize as empty, not null")
	}
	if err := decision.Validate(); err != nil {
		t.Errorf("local decision must satisfy the schema: %v", err)
	}
}

func TestEvaluator_UsedMandate(t *testing.T) {
	store := New(5*time.Minute, 10)
	defer store.Stop()
	evaluator := NewEvaluator(store)

	session := store.CreateSession(SessionParams{AgentDID: "0xaaaa"})

	decision, err := evaluator.Evaluate(context.Background(), &risk.EvaluateRequest{
		SID:     session.SID,
		Mandate: &secure.Mandate{Ref: "m1", Digest: "d", MIME: "application/json", Size: 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !decision.UsedMandate {
		t.Error("used_mandate should reflect mandate presence")
	}
}

func TestEvaluator_UnknownSession(t *testing.T) {
	store := New(5*time.Minute, 10)
	defer store.Stop()
	evaluator := NewEvaluator(store)

	_, err := evaluator.Evaluate(context.Background(), &risk.EvaluateRequest{SID: uuid.NewString()})
	if err != ErrUnknownSession {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
}

func TestEvaluator_TraceChecks(t *testing.T) {
	store := New(5*time.Minute, 10)
	defer store.Stop()
	evaluator := NewEvaluator(store)

	session := store.CreateSession(SessionParams{AgentDID: "0xaaaa"})
	other := store.CreateSession(SessionParams{AgentDID: "0xbbbb"})
	otherTrace, err := store.CreateTrace(TraceParams{SID: other.SID})
	if err != nil {
		t.Fatal(err)
	}

	_, err = evaluator.Evaluate(context.Background(), &risk.EvaluateRequest{
		SID: session.SID,
		TID: uuid.NewString(),
	})
	if err != ErrUnknownTrace {
		t.Errorf("expected ErrUnknownTrace, got %v", err)
	}

	// A tid owned by another session is rejected with a 400.
	_, err = evaluator.Evaluate(context.Background(), &risk.EvaluateRequest{
		SID: session.SID,
		TID: otherTrace.TID,
	})
	if err != ErrTraceNotLinked {
		t.Errorf("expected ErrTraceNotLinked, got %v", err)
	}
}

func TestEvaluator_ExpiredSessionBecomesUnknown(t *testing.T) {
	store := New(20*time.Millisecond, 10)
	defer store.Stop()
	evaluator := NewEvaluator(store)

	session := store.CreateSession(SessionParams{AgentDID: "0xaaaa"})

	if _, err := evaluator.Evaluate(context.Background(), &risk.EvaluateRequest{SID: session.SID}); err != nil {
		t.Fatalf("evaluate before expiry: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if _, err := evaluator.Evaluate(context.Background(), &risk.EvaluateRequest{SID: session.SID}); err != ErrUnknownSession {
		t.Errorf("expected ErrUnknownSession after TTL, got %v", err)
	}
}
