// Package proxy implements the gated x402 forwarding flow: risk evaluation,
// AP2 evidence checks, requirements sanitization, and the upstream
// facilitator round trip for /x402/verify and /x402/settle.
package proxy

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
	"github.com/x402secure/gateway/internal/metrics"
	"github.com/x402secure/gateway/internal/observability"
)

// Facilitator responses larger than this are truncated before decoding.
const maxResponseBytes = 1 << 20

// Endpoint labels shared by breakers, metrics, and upstream events.
const (
	opVerify = "verify"
	opSettle = "settle"
)

// Facilitator posts forward requests to the upstream verify and settle URLs.
type Facilitator struct {
	verifyURL  string
	settleURL  string
	httpClient *http.Client
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
	hooks      *observability.Registry
}

// NewFacilitator builds the upstream client. breakers, metricsCollector,
// and hooks may be nil.
func NewFacilitator(verifyURL, settleURL string, timeout time.Duration, breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics, hooks *observability.Registry) *Facilitator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Facilitator{
		verifyURL:  verifyURL,
		settleURL:  settleURL,
		httpClient: httputil.NewClient(timeout),
		breakers:   breakers,
		metrics:    metricsCollector,
		hooks:      hooks,
	}
}

// upstreamResult is one facilitator round trip. json stays nil when the body
// is not a JSON object.
type upstreamResult struct {
	status int
	body   []byte
	json   map[string]any
}

// Verify posts a forward request to the upstream verify URL.
func (f *Facilitator) Verify(ctx context.Context, payload any) (*upstreamResult, error) {
	return f.post(ctx, opVerify, f.verifyURL, payload)
}

// Settle posts a forward request to the upstream settle URL.
func (f *Facilitator) Settle(ctx context.Context, payload any) (*upstreamResult, error) {
	return f.post(ctx, opSettle, f.settleURL, payload)
}

// post runs one round trip through the operation's breaker. Every received
// status comes back as a result for the caller to pass through; only
// transport failures return an error, surfaced as 502 since the gateway
// could not complete the forward.
func (f *Facilitator) post(ctx context.Context, operation, url string, payload any) (*upstreamResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("proxy: encode forward request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	service := circuitbreaker.ServiceFacilitatorVerify
	if operation == opSettle {
		service = circuitbreaker.ServiceFacilitatorSettle
	}

	start := time.Now()
	res, err := f.breakers.Execute(service, func() (interface{}, error) {
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		return &upstreamResult{status: resp.StatusCode, body: body}, nil
	})
	duration := time.Since(start)

	status := 0
	if err == nil {
		status = res.(*upstreamResult).status
	}
	if f.metrics != nil {
		f.metrics.ObserveUpstreamCall(operation, status, duration, err)
	}
	if f.hooks != nil {
		f.hooks.EmitUpstreamCall(ctx, observability.UpstreamCallEvent{
			Timestamp:  time.Now().UTC(),
			Operation:  operation,
			URL:        url,
			StatusCode: status,
			Duration:   duration,
			Success:    err == nil && status == http.StatusOK,
			ErrorType:  upstreamErrorType(err),
		})
	}
	if err != nil {
		return nil, errors.WithStatus(http.StatusBadGateway, errors.ErrCodeUnspecified,
			fmt.Sprintf("Upstream %s failed: %v", operation, err))
	}

	result := res.(*upstreamResult)
	var decoded map[string]any
	if json.Unmarshal(result.body, &decoded) == nil {
		result.json = decoded
	}
	return result, nil
}

// upstreamErrorType buckets transport failures for the upstream event.
func upstreamErrorType(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	case strings.Contains(msg, "circuit breaker"):
		return "circuit_open"
	default:
		return "other"
	}
}
