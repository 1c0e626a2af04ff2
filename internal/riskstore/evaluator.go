package riskstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/x402secure/gateway/pkg/risk"
)

// Evaluator is the local always-allow policy backed by the store. It checks
// session and trace liveness and linkage, then allows. Real policy lives in
// an external risk engine; this exists for development and testing
// deployments running with local risk enabled.
type Evaluator struct {
	store *Store
}

// NewEvaluator builds the local evaluator over a store.
func NewEvaluator(store *Store) *Evaluator {
	return &Evaluator{store: store}
}

// Evaluate validates the bundle against the store and returns an allow
// decision. The signature matches the remote engine client so the proxy can
// swap evaluators by mode; the local path never blocks.
func (e *Evaluator) Evaluate(ctx context.Context, req *risk.EvaluateRequest) (*risk.Decision, error) {
	if _, ok := e.store.Session(req.SID); !ok {
		return nil, ErrUnknownSession
	}
	if req.TID != "" {
		trace, ok := e.store.Trace(req.TID)
		if !ok {
			return nil, ErrUnknownTrace
		}
		if trace.SID != req.SID {
			return nil, ErrTraceNotLinked
		}
	}

	return &risk.Decision{
		Decision:    risk.DecisionAllow,
		Reasons:     []string{},
		DecisionID:  uuid.NewString(),
		TTLSeconds:  risk.DefaultDecisionTTLSeconds,
		UsedMandate: req.Mandate != nil,
		Warnings:    []string{},
		RiskLevel:   risk.RiskLevelLow,
		Extra:       map[string]any{},
	}, nil
}
