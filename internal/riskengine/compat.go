package riskengine

import (
	"encoding/json"

	"github.com/x402secure/gateway/pkg/risk"
)

// The legacy trustline dialect differs from the native schema in three ways:
// sessions carry agent_id instead of agent_did, device is mandatory, and
// fingerprint/telemetry must be strings or null rather than objects.
// Evaluate payloads are identical in both dialects.

// legacySessionPayload maps a session request onto the legacy schema. Fields
// the legacy engine does not know (wallet_address, agent_endpoint) are
// dropped, with wallet_address doubling as the agent id when no DID was
// supplied.
func legacySessionPayload(req *risk.SessionRequest) map[string]any {
	agentID := req.AgentDID
	if agentID == "" {
		agentID = req.WalletAddress
	}

	p := map[string]any{"agent_id": agentID}
	if req.AppID != "" {
		p["app_id"] = req.AppID
	}
	if req.Device != nil {
		p["device"] = req.Device
	} else {
		p["device"] = map[string]any{"ua": "x402-proxy"}
	}
	return p
}

// legacyTracePayload maps a trace request onto the legacy schema, serializing
// the fingerprint and telemetry objects to JSON strings.
func legacyTracePayload(req *risk.TraceRequest) (map[string]any, error) {
	p := map[string]any{"sid": req.SID}

	if req.Fingerprint != nil {
		s, err := json.Marshal(req.Fingerprint)
		if err != nil {
			return nil, err
		}
		p["fingerprint"] = string(s)
	}
	if req.Telemetry != nil {
		s, err := json.Marshal(req.Telemetry)
		if err != nil {
			return nil, err
		}
		p["telemetry"] = string(s)
	}
	if len(req.AgentTrace) > 0 {
		p["agent_trace"] = req.AgentTrace
	}
	return p, nil
}
