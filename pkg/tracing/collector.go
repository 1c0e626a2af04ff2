// Package tracing records agent activity into an ordered event log and
// assembles the agent trace document a buyer stores with the gateway before
// paying. It understands the streaming event shapes emitted by OpenAI-style
// Responses APIs but is transport-agnostic: callers feed events in, the
// collector keeps the coalesced log.
package tracing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Event is one recorded trace entry. Events are schema-flexible and stored
// as opaque JSON by the gateway, so a map keeps the original field layout.
type Event map[string]any

// ToolFunc executes one agent tool with decoded arguments.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Collector accumulates trace events for a single agent run. Streamed
// function-call and reasoning deltas are coalesced into whole events by
// default. All methods are safe for concurrent use.
type Collector struct {
	mu           sync.Mutex
	coalesce     bool
	events       []Event
	argsBuf      map[string]string
	callNames    map[string]string
	reasoningBuf strings.Builder
	modelConfig  map[string]any
	startedAt    float64
	completedAt  float64
}

// NewCollector builds a coalescing collector.
func NewCollector() *Collector {
	return newCollector(true)
}

// NewRawCollector builds a collector that records a bare type marker per
// streamed event instead of coalescing deltas.
func NewRawCollector() *Collector {
	return newCollector(false)
}

func newCollector(coalesce bool) *Collector {
	return &Collector{
		coalesce:  coalesce,
		argsBuf:   map[string]string{},
		callNames: map[string]string{},
	}
}

// nowSeconds matches the original event records: unix time in float seconds.
func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func digestHex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RecordUserInput prepends the user input with its digest. The first call
// marks the run start.
func (c *Collector) RecordUserInput(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := nowSeconds()
	c.prependLocked(Event{
		"ts":           now,
		"type":         "user_input",
		"role":         "user",
		"content":      content,
		"content_hash": digestHex(content),
		"length":       utf8.RuneCountInString(content),
	})
	if c.startedAt == 0 {
		c.startedAt = now
	}
}

// RecordSystemPrompt prepends the system prompt with its digest. An empty
// version defaults to "v1.0".
func (c *Collector) RecordSystemPrompt(content, version string) {
	if version == "" {
		version = "v1.0"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prependLocked(Event{
		"ts":           nowSeconds(),
		"type":         "system_prompt",
		"role":         "system",
		"content":      content,
		"content_hash": digestHex(content),
		"version":      version,
		"length":       utf8.RuneCountInString(content),
	})
}

// RecordAgentOutput appends the agent's final output with its digest. The
// first call marks the run completion.
func (c *Collector) RecordAgentOutput(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := nowSeconds()
	c.events = append(c.events, Event{
		"ts":          now,
		"type":        "agent_output",
		"role":        "assistant",
		"content":     content,
		"output_hash": digestHex(content),
		"length":      utf8.RuneCountInString(content),
	})
	if c.completedAt == 0 {
		c.completedAt = now
	}
}

func (c *Collector) prependLocked(e Event) {
	c.events = append([]Event{e}, c.events...)
}

// SetModelConfig records the model configuration carried in the trace. An
// empty provider defaults to "openai"; extra keys are merged in and may
// override the named fields.
func (c *Collector) SetModelConfig(provider, model string, toolsEnabled []string, extra map[string]any) {
	if provider == "" {
		provider = "openai"
	}
	if toolsEnabled == nil {
		toolsEnabled = []string{}
	}
	mc := map[string]any{
		"provider":      provider,
		"model":         model,
		"tools_enabled": toolsEnabled,
	}
	for k, v := range extra {
		mc[k] = v
	}
	c.mu.Lock()
	c.modelConfig = mc
	c.mu.Unlock()
}

// Tool wraps fn so every invocation appends a tool_call event before and a
// tool_result event after execution. Failed calls record the error text.
func (c *Collector) Tool(name string, fn ToolFunc) ToolFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		c.append(Event{"ts": nowSeconds(), "type": "tool_call", "name": name, "args": args})
		out, err := fn(ctx, args)
		if err != nil {
			c.append(Event{"ts": nowSeconds(), "type": "tool_result", "name": name, "error": err.Error()})
			return nil, err
		}
		c.append(Event{"ts": nowSeconds(), "type": "tool_result", "name": name, "result": out})
		return out, nil
	}
}

func (c *Collector) append(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

// Events returns a snapshot of the recorded log in order.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// ModelConfig returns the recorded model configuration, nil when unset.
func (c *Collector) ModelConfig() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelConfig
}

// StartedAt returns the unix seconds of the first user input, 0 when unset.
func (c *Collector) StartedAt() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// CompletedAt returns the unix seconds of the first agent output, 0 when unset.
func (c *Collector) CompletedAt() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completedAt
}

// StreamItem is an output item attached to added and done stream events.
type StreamItem struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamEvent is the subset of a model stream event the collector inspects.
type StreamEvent struct {
	Type   string      `json:"type"`
	Item   *StreamItem `json:"item,omitempty"`
	CallID string      `json:"call_id,omitempty"`
	Delta  string      `json:"delta,omitempty"`
	Text   string      `json:"text,omitempty"`
}

// IngestEvent records one streamed event. In coalescing mode, function-call
// argument deltas buffer per call_id until the closing output_item.done
// carries the item, and reasoning deltas collapse into one reasoning_summary;
// unrecognized event types are dropped. In raw mode every event is recorded
// as a bare type marker.
func (c *Collector) IngestEvent(ev StreamEvent) {
	now := nowSeconds()
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.coalesce {
		c.events = append(c.events, Event{"ts": now, "type": ev.Type})
		return
	}

	switch ev.Type {
	case "response.output_item.added":
		if ev.Item != nil && ev.Item.Type == "function_call" && ev.Item.CallID != "" && ev.Item.Name != "" {
			c.callNames[ev.Item.CallID] = ev.Item.Name
			c.argsBuf[ev.Item.CallID] = ""
		}

	case "response.function_call_arguments.delta":
		if ev.CallID != "" {
			c.argsBuf[ev.CallID] += ev.Delta
		}

	case "response.function_call_arguments.done", "response.output_item.done":
		// Emission needs the full item; argument-done events without one
		// only ever precede an output_item.done that has it.
		if ev.Item == nil || ev.Item.Type != "function_call" || ev.Item.Name == "" {
			return
		}
		cid := ev.Item.CallID
		argsStr := ev.Item.Arguments
		if argsStr == "" {
			argsStr = c.argsBuf[cid]
		}
		c.events = append(c.events, Event{
			"ts":        now,
			"type":      "function_call",
			"name":      ev.Item.Name,
			"call_id":   cid,
			"arguments": decodeArguments(argsStr),
		})
		delete(c.argsBuf, cid)
		delete(c.callNames, cid)

	case "response.reasoning_summary_text.delta":
		c.reasoningBuf.WriteString(ev.Delta)

	case "response.reasoning_summary_text.done":
		text := ev.Text
		if text == "" {
			text = c.reasoningBuf.String()
		}
		c.events = append(c.events, Event{"ts": now, "type": "reasoning_summary", "text": text})
		c.reasoningBuf.Reset()

	case "response.created", "response.completed":
		c.events = append(c.events, Event{"ts": now, "type": ev.Type})
	}
}

// decodeArguments parses a streamed argument string, keeping the raw text
// under _raw when it is not valid JSON.
func decodeArguments(s string) any {
	if s == "" {
		return map[string]any{}
	}
	var args any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return map[string]any{"_raw": s}
	}
	return args
}
