package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry manages a collection of observability hooks.
// It safely dispatches events to all registered hooks with error handling.
type Registry struct {
	proxyHooks    []ProxyHook
	riskHooks     []RiskHook
	evidenceHooks []EvidenceHook
	upstreamHooks []UpstreamHook
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
	}
}

// RegisterProxyHook adds a proxy hook to the registry.
func (r *Registry) RegisterProxyHook(hook ProxyHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxyHooks = append(r.proxyHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered proxy hook")
}

// RegisterRiskHook adds a risk hook to the registry.
func (r *Registry) RegisterRiskHook(hook RiskHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.riskHooks = append(r.riskHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered risk hook")
}

// RegisterEvidenceHook adds an evidence hook to the registry.
func (r *Registry) RegisterEvidenceHook(hook EvidenceHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evidenceHooks = append(r.evidenceHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered evidence hook")
}

// RegisterUpstreamHook adds an upstream hook to the registry.
func (r *Registry) RegisterUpstreamHook(hook UpstreamHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstreamHooks = append(r.upstreamHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered upstream hook")
}

// ===============================================
// Proxy Hook Dispatchers
// ===============================================

// EmitVerifyCompleted dispatches the event to all proxy hooks.
func (r *Registry) EmitVerifyCompleted(ctx context.Context, event VerifyEvent) {
	r.mu.RLock()
	hooks := r.proxyHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnVerifyCompleted", hook.Name())
			hook.OnVerifyCompleted(ctx, event)
		}()
	}
}

// EmitSettleCompleted dispatches the event to all proxy hooks.
func (r *Registry) EmitSettleCompleted(ctx context.Context, event SettleEvent) {
	r.mu.RLock()
	hooks := r.proxyHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnSettleCompleted", hook.Name())
			hook.OnSettleCompleted(ctx, event)
		}()
	}
}

// ===============================================
// Risk Hook Dispatchers
// ===============================================

// EmitRiskDecision dispatches the event to all risk hooks.
func (r *Registry) EmitRiskDecision(ctx context.Context, event RiskDecisionEvent) {
	r.mu.RLock()
	hooks := r.riskHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnRiskDecision", hook.Name())
			hook.OnRiskDecision(ctx, event)
		}()
	}
}

// ===============================================
// Evidence Hook Dispatchers
// ===============================================

// EmitEvidenceVerified dispatches the event to all evidence hooks.
func (r *Registry) EmitEvidenceVerified(ctx context.Context, event EvidenceEvent) {
	r.mu.RLock()
	hooks := r.evidenceHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnEvidenceVerified", hook.Name())
			hook.OnEvidenceVerified(ctx, event)
		}()
	}
}

// ===============================================
// Upstream Hook Dispatchers
// ===============================================

// EmitUpstreamCall dispatches the event to all upstream hooks.
func (r *Registry) EmitUpstreamCall(ctx context.Context, event UpstreamCallEvent) {
	r.mu.RLock()
	hooks := r.upstreamHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnUpstreamCall", hook.Name())
			hook.OnUpstreamCall(ctx, event)
		}()
	}
}

// ===============================================
// Error Recovery
// ===============================================

// recoverPanic recovers from panics in hook implementations.
// This ensures one bad hook doesn't crash the entire system.
func (r *Registry) recoverPanic(method, hookName string) {
	if err := recover(); err != nil {
		r.logger.Error().
			Str("hook", hookName).
			Str("method", method).
			Interface("panic", err).
			Msg("observability hook panicked (recovered)")
	}
}
