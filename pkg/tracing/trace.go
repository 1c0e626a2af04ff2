package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/x402secure/gateway/pkg/risk"
)

// Stream yields model events until exhaustion. Next reports ok=false once
// the stream is done.
type Stream interface {
	Next() (StreamEvent, bool)
}

// StreamResult carries the outputs of a processed stream.
type StreamResult struct {
	// ToolResults maps tool name to the value its handler returned. A tool
	// called more than once keeps the last result.
	ToolResults map[string]any `json:"tool_results"`
}

// ProcessStream drains the stream, recording every event on the collector
// and executing each finalized function call through the matching handler
// in tools. Handler errors abort processing.
func (c *Collector) ProcessStream(ctx context.Context, stream Stream, tools map[string]ToolFunc) (*StreamResult, error) {
	results := map[string]any{}
	argBuf := map[string]string{}
	callNames := map[string]string{}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ev, ok := stream.Next()
		if !ok {
			break
		}
		c.IngestEvent(ev)

		switch ev.Type {
		case "response.output_item.added":
			if ev.Item != nil && ev.Item.Type == "function_call" && ev.Item.CallID != "" && ev.Item.Name != "" {
				callNames[ev.Item.CallID] = ev.Item.Name
				argBuf[ev.Item.CallID] = ""
			}

		case "response.function_call_arguments.delta":
			if ev.CallID != "" {
				argBuf[ev.CallID] += ev.Delta
			}

		case "response.function_call_arguments.done", "response.output_item.done":
			// The done event carries the call id on the item when present,
			// otherwise on the event itself.
			cid := ev.CallID
			var argsStr string
			if ev.Item != nil {
				cid = ev.Item.CallID
				argsStr = ev.Item.Arguments
			}
			name, started := callNames[cid]
			if !started {
				continue
			}
			if argsStr == "" {
				argsStr = argBuf[cid]
			}
			fn, ok := tools[name]
			if !ok {
				return nil, fmt.Errorf("tracing: no handler for tool %q", name)
			}
			out, err := fn(ctx, decodeToolArgs(argsStr))
			if err != nil {
				return nil, fmt.Errorf("tracing: tool %q: %w", name, err)
			}
			results[name] = out
			delete(argBuf, cid)
			delete(callNames, cid)
		}
	}

	return &StreamResult{ToolResults: results}, nil
}

// decodeToolArgs parses handler arguments, degrading to empty args on
// malformed JSON so a bad stream cannot block tool execution.
func decodeToolArgs(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// BuildAgentTrace assembles the canonical trace document from a finished
// run. model_config and session_context appear only when set.
func BuildAgentTrace(task string, params, environment map[string]any, c *Collector, sessionContext map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	if environment == nil {
		environment = map[string]any{}
	}
	doc := map[string]any{
		"task":        task,
		"parameters":  params,
		"environment": environment,
		"events":      c.Events(),
	}
	if mc := c.ModelConfig(); len(mc) > 0 {
		doc["model_config"] = mc
	}
	if len(sessionContext) > 0 {
		doc["session_context"] = sessionContext
	}
	doc["completed_at"] = time.Now().UTC().Format(time.RFC3339)
	return doc
}

// StoreAgentTrace assembles the trace document and persists it under sid
// through the gateway risk API, returning the minted tid.
func StoreAgentTrace(ctx context.Context, client *risk.Client, sid, task string, params, environment map[string]any, c *Collector, sessionContext map[string]any) (string, error) {
	doc := BuildAgentTrace(task, params, environment, c, sessionContext)
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("tracing: encode agent trace: %w", err)
	}
	resp, err := client.StoreTrace(ctx, risk.TraceRequest{SID: sid, AgentTrace: raw})
	if err != nil {
		return "", err
	}
	return resp.TID, nil
}
