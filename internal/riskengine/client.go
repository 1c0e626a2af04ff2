// Package riskengine calls an external risk engine over HTTP. It backs the
// risk router's forward mode (schema-validated re-emission, optional legacy
// dialect) and the proxy's risk gate.
package riskengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/x402secure/gateway/internal/circuitbreaker"
	"github.com/x402secure/gateway/internal/errors"
	"github.com/x402secure/gateway/internal/httputil"
	"github.com/x402secure/gateway/internal/logger"
	"github.com/x402secure/gateway/pkg/risk"
)

// Engine responses larger than this are truncated before decoding.
const maxResponseBytes = 1 << 20

// Client talks to an external risk engine.
type Client struct {
	baseURL    string
	token      string
	compat     bool
	httpClient *http.Client
	breakers   *circuitbreaker.Manager
}

// New builds a client for the engine at baseURL. token, when set, is sent as
// a bearer on every call. compat enables the legacy trustline dialect on the
// forward paths. breakers may be nil.
func New(baseURL, token string, compat bool, timeout time.Duration, breakers *circuitbreaker.Manager) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		compat:     compat,
		httpClient: httputil.NewClient(timeout),
		breakers:   breakers,
	}
}

// ForwardSession relays a session create and validates the engine's answer.
func (c *Client) ForwardSession(ctx context.Context, req *risk.SessionRequest) (*risk.SessionResponse, error) {
	var payload any = req
	if c.compat {
		payload = legacySessionPayload(req)
	}
	body, err := c.forward(ctx, "/risk/session", payload)
	if err != nil {
		return nil, err
	}

	var out risk.SessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, c.invalidResponse(ctx, "/risk/session", err)
	}
	if out.SID == "" {
		return nil, c.invalidResponse(ctx, "/risk/session", fmt.Errorf("sid required"))
	}
	if out.ExpiresAt == "" {
		return nil, c.invalidResponse(ctx, "/risk/session", fmt.Errorf("expires_at required"))
	}
	return &out, nil
}

// ForwardTrace relays a trace create. Engines on the legacy dialect answer
// with trace_id, which is aliased to tid here.
func (c *Client) ForwardTrace(ctx context.Context, req *risk.TraceRequest) (*risk.TraceResponse, error) {
	var payload any = req
	if c.compat {
		p, err := legacyTracePayload(req)
		if err != nil {
			return nil, fmt.Errorf("riskengine: encode legacy trace: %w", err)
		}
		payload = p
	}
	body, err := c.forward(ctx, "/risk/trace", payload)
	if err != nil {
		return nil, err
	}

	var out struct {
		TID     string `json:"tid"`
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, c.invalidResponse(ctx, "/risk/trace", err)
	}
	if out.TID == "" {
		out.TID = out.TraceID
	}
	if out.TID == "" {
		return nil, c.invalidResponse(ctx, "/risk/trace", fmt.Errorf("tid required"))
	}
	return &risk.TraceResponse{TID: out.TID}, nil
}

// ForwardEvaluate relays an evaluate and validates the decision schema. The
// legacy dialect leaves evaluate payloads untouched.
func (c *Client) ForwardEvaluate(ctx context.Context, req *risk.EvaluateRequest) (*risk.Decision, error) {
	body, err := c.forward(ctx, "/risk/evaluate", req)
	if err != nil {
		return nil, err
	}
	d, err := risk.DecodeDecision(body)
	if err != nil {
		return nil, c.invalidResponse(ctx, "/risk/evaluate", err)
	}
	return d, nil
}

// Evaluate posts the bundle for the proxy's risk gate. Unlike the forward
// paths it skips the content-type check and maps decode failures to the
// proxy's own 502 message.
func (c *Client) Evaluate(ctx context.Context, req *risk.EvaluateRequest) (*risk.Decision, error) {
	resp, err := c.post(ctx, "/risk/evaluate", req)
	if err != nil {
		return nil, err
	}
	d, err := risk.DecodeDecision(resp.body)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("risk engine returned an undecodable decision")
		return nil, errors.WithStatus(http.StatusBadGateway, errors.ErrCodeUnspecified,
			fmt.Sprintf("Invalid risk response: %v", err))
	}
	return d, nil
}

// forward runs the full router-side pipeline: POST, passthrough of non-200
// statuses, and the JSON content-type gate.
func (c *Client) forward(ctx context.Context, path string, payload any) ([]byte, error) {
	resp, err := c.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	if !isJSONContentType(resp.contentType) {
		return nil, errors.WithStatus(http.StatusBadGateway, errors.ErrCodeUnspecified,
			"invalid content-type from risk engine")
	}
	return resp.body, nil
}

type engineResponse struct {
	contentType string
	body        []byte
}

// post sends one JSON request through the engine breaker. A non-200 status
// is surfaced as-is with the engine body as the message.
func (c *Client) post(ctx context.Context, path string, payload any) (*engineResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("riskengine: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	type result struct {
		status      int
		contentType string
		body        []byte
	}
	res, err := c.breakers.Execute(circuitbreaker.ServiceRiskEngine, func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		return &result{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: body}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("riskengine: post %s: %w", path, err)
	}

	r := res.(*result)
	if r.status != http.StatusOK {
		return nil, errors.WithStatus(r.status, errors.ErrCodeUnspecified, string(r.body))
	}
	return &engineResponse{contentType: r.contentType, body: r.body}, nil
}

func (c *Client) invalidResponse(ctx context.Context, path string, err error) error {
	logger.FromContext(ctx).Error().Err(err).Str("path", path).Msg("risk engine response validation failed")
	return errors.WithStatus(http.StatusBadGateway, errors.ErrCodeUnspecified,
		fmt.Sprintf("Invalid response from risk engine: %v", err))
}

func isJSONContentType(ct string) bool {
	mediaType, _, _ := strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(mediaType)) == "application/json"
}
