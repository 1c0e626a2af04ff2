package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the gateway risk endpoints from buyer-side code.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a client for the gateway at baseURL. token is optional
// and sent as a bearer when set.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateSession mints a risk session for an agent.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.post(ctx, "/risk/session", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StoreTrace persists an agent trace and returns its tid.
func (c *Client) StoreTrace(ctx context.Context, req TraceRequest) (*TraceResponse, error) {
	var resp TraceResponse
	if err := c.post(ctx, "/risk/trace", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Evaluate requests a risk decision for a payment bundle.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*Decision, error) {
	body, err := c.postRaw(ctx, "/risk/evaluate", req)
	if err != nil {
		return nil, err
	}
	return DecodeDecision(body)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := c.postRaw(ctx, path, in)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *Client) postRaw(ctx context.Context, path string, in any) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("risk: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("risk: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("risk: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// StatusError reports a non-200 gateway response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("risk: unexpected status %d: %s", e.Status, e.Body)
}
