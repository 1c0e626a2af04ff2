package observability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// Mock hook implementations for testing

type mockProxyHook struct {
	mu           sync.Mutex
	verifyEvents []VerifyEvent
	settleEvents []SettleEvent
	shouldPanic  bool
}

func (h *mockProxyHook) Name() string { return "mock_proxy" }

func (h *mockProxyHook) OnVerifyCompleted(ctx context.Context, event VerifyEvent) {
	if h.shouldPanic {
		panic("intentional panic for testing")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.verifyEvents = append(h.verifyEvents, event)
}

func (h *mockProxyHook) OnSettleCompleted(ctx context.Context, event SettleEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settleEvents = append(h.settleEvents, event)
}

func (h *mockProxyHook) getVerifyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.verifyEvents)
}

func (h *mockProxyHook) getSettleCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.settleEvents)
}

type mockRiskHook struct {
	mu     sync.Mutex
	events []RiskDecisionEvent
}

func (h *mockRiskHook) Name() string { return "mock_risk" }

func (h *mockRiskHook) OnRiskDecision(ctx context.Context, event RiskDecisionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *mockRiskHook) getCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// Tests

func TestRegistry_RegisterAndEmitProxy(t *testing.T) {
	logger := zerolog.Nop()
	registry := NewRegistry(logger)

	hook := &mockProxyHook{}
	registry.RegisterProxyHook(hook)

	ctx := context.Background()

	verifyEvent := VerifyEvent{
		Timestamp: time.Now(),
		RequestID: "req_123",
		Network:   "base",
		Payer:     "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		Valid:     true,
		Duration:  100 * time.Millisecond,
	}
	registry.EmitVerifyCompleted(ctx, verifyEvent)

	if hook.getVerifyCount() != 1 {
		t.Errorf("Expected 1 verify event, got %d", hook.getVerifyCount())
	}

	settleEvent := SettleEvent{
		Timestamp:   time.Now(),
		RequestID:   "req_123",
		Network:     "base",
		Success:     true,
		Transaction: "0xabc",
		Duration:    250 * time.Millisecond,
	}
	registry.EmitSettleCompleted(ctx, settleEvent)

	if hook.getSettleCount() != 1 {
		t.Errorf("Expected 1 settle event, got %d", hook.getSettleCount())
	}
}

func TestRegistry_MultipleHooks(t *testing.T) {
	logger := zerolog.Nop()
	registry := NewRegistry(logger)

	hook1 := &mockProxyHook{}
	hook2 := &mockProxyHook{}

	registry.RegisterProxyHook(hook1)
	registry.RegisterProxyHook(hook2)

	ctx := context.Background()
	event := VerifyEvent{
		Timestamp: time.Now(),
		RequestID: "req_456",
		Network:   "base-sepolia",
	}

	registry.EmitVerifyCompleted(ctx, event)

	// Both hooks should receive the event
	if hook1.getVerifyCount() != 1 {
		t.Errorf("Hook1: Expected 1 verify event, got %d", hook1.getVerifyCount())
	}
	if hook2.getVerifyCount() != 1 {
		t.Errorf("Hook2: Expected 1 verify event, got %d", hook2.getVerifyCount())
	}
}

func TestRegistry_PanicRecovery(t *testing.T) {
	logger := zerolog.Nop()
	registry := NewRegistry(logger)

	// Hook that panics
	panicHook := &mockProxyHook{shouldPanic: true}
	normalHook := &mockProxyHook{}

	registry.RegisterProxyHook(panicHook)
	registry.RegisterProxyHook(normalHook)

	ctx := context.Background()
	event := VerifyEvent{
		Timestamp: time.Now(),
		RequestID: "req_789",
	}

	// Should not panic - panic should be recovered
	registry.EmitVerifyCompleted(ctx, event)

	// Normal hook should still receive event
	if normalHook.getVerifyCount() != 1 {
		t.Errorf("Normal hook should still receive event after panic, got %d events", normalHook.getVerifyCount())
	}
}

func TestRegistry_RiskHooks(t *testing.T) {
	logger := zerolog.Nop()
	registry := NewRegistry(logger)

	hook := &mockRiskHook{}
	registry.RegisterRiskHook(hook)

	ctx := context.Background()

	event := RiskDecisionEvent{
		Timestamp:  time.Now(),
		RequestID:  "req_123",
		Endpoint:   "verify",
		SessionID:  "sid-1",
		TraceID:    "tid-1",
		Decision:   "allow",
		RiskLevel:  "low",
		TTLSeconds: 300,
		Mode:       "local",
	}
	registry.EmitRiskDecision(ctx, event)

	if hook.getCount() != 1 {
		t.Errorf("Expected 1 risk decision event, got %d", hook.getCount())
	}
}

func TestRegistry_ConcurrentEmissions(t *testing.T) {
	logger := zerolog.Nop()
	registry := NewRegistry(logger)

	hook := &mockProxyHook{}
	registry.RegisterProxyHook(hook)

	ctx := context.Background()

	// Emit events concurrently
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			event := VerifyEvent{
				Timestamp: time.Now(),
				RequestID: "req_" + string(rune('0'+id)),
			}
			registry.EmitVerifyCompleted(ctx, event)
		}(i)
	}

	wg.Wait()

	if hook.getVerifyCount() != 100 {
		t.Errorf("Expected 100 verify events, got %d", hook.getVerifyCount())
	}
}
