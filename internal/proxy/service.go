package proxy

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/x402secure/gateway/internal/ap2"
	"github.com/x402secure/gateway/internal/config"
	apperrors "github.com/x402secure/gateway/internal/errors"
	"github.com/x402secure/gateway/internal/logger"
	"github.com/x402secure/gateway/internal/metrics"
	"github.com/x402secure/gateway/internal/observability"
	"github.com/x402secure/gateway/pkg/risk"
	"github.com/x402secure/gateway/pkg/secure"
	"github.com/x402secure/gateway/pkg/x402"
)

// Evaluator is the risk gate in front of the upstream forward. The local
// evaluator and the remote engine client both satisfy it; configuration
// decides which one the service holds.
type Evaluator interface {
	Evaluate(ctx context.Context, req *risk.EvaluateRequest) (*risk.Decision, error)
}

// Service orchestrates the gated verify/settle flow.
type Service struct {
	upstream     config.UpstreamConfig
	evaluator    Evaluator
	facilitator  *Facilitator
	verifier     *ap2.Verifier
	metrics      *metrics.Metrics
	hooks        *observability.Registry
	uuidVersions []int
	mode         string // "local" or "forward"

	lastVerify snapshotCell
	lastSettle snapshotCell
}

// NewService wires the proxy flow. metricsCollector and hooks may be nil;
// uuidVersions nil means the default accepted set.
func NewService(upstream config.UpstreamConfig, evaluator Evaluator, facilitator *Facilitator, verifier *ap2.Verifier, metricsCollector *metrics.Metrics, hooks *observability.Registry, uuidVersions []int, mode string) *Service {
	return &Service{
		upstream:     upstream,
		evaluator:    evaluator,
		facilitator:  facilitator,
		verifier:     verifier,
		metrics:      metricsCollector,
		hooks:        hooks,
		uuidVersions: uuidVersions,
		mode:         mode,
	}
}

// HandleVerify gates POST /x402/verify and forwards it upstream. The
// forwarded paymentPayload is the decoded X-PAYMENT header when the buyer
// sent one, since the header is authoritative and may carry fields the body
// model dropped.
func (s *Service) HandleVerify(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	w.Header().Set("X-Request-ID", requestID)
	ctx := logger.WithRequestID(r.Context(), requestID)
	start := time.Now()

	body, bodyPayload, pr, err := s.decodeProxyBody(r)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	paymentHeader := r.Header.Get("X-PAYMENT")
	payload := bodyPayload
	headerPayload := decodeHeaderPayload(paymentHeader)
	if headerPayload != nil {
		payload = headerPayload
	}

	if err := s.riskGate(ctx, w, r, payload, opVerify); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	if err := s.checkEvidence(ctx, r, body, pr, payload); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	sanitized, err := s.buildForwardRequirements(body)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	forwardPayload := body.PaymentPayload
	if headerPayload != nil {
		if data, err := json.Marshal(headerPayload); err == nil {
			forwardPayload = data
		}
	}
	forward := forwardRequest(body.X402Version, forwardPayload, sanitized, paymentHeader)

	result, err := s.facilitator.Verify(ctx, forward)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	snapshot := snapshotFor(s.upstream.VerifyURL, requestID, r.Header.Get("Origin"), result, "invalidReason")
	snapshot["sent_payment_requirements"] = sanitized
	s.lastVerify.store(snapshot)

	if result.status != http.StatusOK {
		s.writeError(ctx, w, apperrors.WithStatus(result.status, apperrors.ErrCodeUnspecified, string(result.body)))
		return
	}

	resp := narrowVerify(result.json)
	if s.hooks != nil {
		s.hooks.EmitVerifyCompleted(ctx, observability.VerifyEvent{
			Timestamp:     time.Now().UTC(),
			RequestID:     requestID,
			Network:       pr.Network,
			PayTo:         pr.PayTo,
			Payer:         resp.Payer,
			Valid:         resp.IsValid,
			InvalidReason: resp.InvalidReason,
			Duration:      time.Since(start),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSettle gates POST /x402/settle and forwards it upstream. Risk
// evaluation is skipped entirely when settle_risk_enabled is off, marked by
// X-Risk-Decision: skipped. The forwarded paymentPayload is always the body
// payload; evidence checks still bind to the X-PAYMENT header when present.
func (s *Service) HandleSettle(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	w.Header().Set("X-Request-ID", requestID)
	ctx := logger.WithRequestID(r.Context(), requestID)
	start := time.Now()

	body, bodyPayload, pr, err := s.decodeProxyBody(r)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	paymentHeader := r.Header.Get("X-PAYMENT")

	if s.upstream.SettleRiskEnabled {
		payload := bodyPayload
		if headerPayload := decodeHeaderPayload(paymentHeader); headerPayload != nil {
			payload = headerPayload
		}
		if err := s.riskGate(ctx, w, r, payload, opSettle); err != nil {
			s.writeError(ctx, w, err)
			return
		}
	} else {
		logger.FromContext(ctx).Info().Msg("risk evaluation disabled on settle, skipping")
		w.Header().Set("X-Risk-Decision", risk.DecisionSkipped)
	}

	if err := s.checkEvidence(ctx, r, body, pr, bodyPayload); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	sanitized, err := s.buildForwardRequirements(body)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	forward := forwardRequest(body.X402Version, body.PaymentPayload, sanitized, paymentHeader)

	result, err := s.facilitator.Settle(ctx, forward)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	s.lastSettle.store(snapshotFor(s.upstream.SettleURL, requestID, r.Header.Get("Origin"), result, "errorReason"))

	if result.status != http.StatusOK {
		s.writeError(ctx, w, apperrors.WithStatus(result.status, apperrors.ErrCodeUnspecified, string(result.body)))
		return
	}

	resp := narrowSettle(result.json)
	if s.hooks != nil {
		s.hooks.EmitSettleCompleted(ctx, observability.SettleEvent{
			Timestamp:   time.Now().UTC(),
			RequestID:   requestID,
			Network:     pr.Network,
			Payer:       resp.Payer,
			Success:     resp.Success,
			Transaction: resp.Transaction,
			ErrorReason: resp.ErrorReason,
			Duration:    time.Since(start),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDebug exposes the last verify/settle upstream exchanges. Disabled
// deployments answer 404 so the route stays indistinguishable from an
// unknown path.
func (s *Service) HandleDebug(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	w.Header().Set("X-Request-ID", requestID)
	if !s.upstream.DebugEnabled {
		apperrors.WriteJSON(w, http.StatusNotFound, apperrors.ErrCodeUnspecified, "Not Found", requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upstream": map[string]any{
			"verify_url": s.upstream.VerifyURL,
			"settle_url": s.upstream.SettleURL,
		},
		"last_verify": s.lastVerify.load(),
		"last_settle": s.lastSettle.load(),
	})
}

// decodeProxyBody parses the shared verify/settle body. Unknown fields pass
// through untouched; the payload fields stay raw JSON until needed.
func (s *Service) decodeProxyBody(r *http.Request) (*x402.VerifyRequest, map[string]any, x402.PaymentRequirements, error) {
	var body x402.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, nil, x402.PaymentRequirements{}, badRequestf("Invalid JSON body: %v", err)
	}

	var bodyPayload map[string]any
	if err := json.Unmarshal(body.PaymentPayload, &bodyPayload); err != nil {
		return nil, nil, x402.PaymentRequirements{}, badRequestf("Invalid paymentPayload: %v", err)
	}
	if bodyPayload == nil {
		return nil, nil, x402.PaymentRequirements{}, badRequestf("Invalid paymentPayload: expected a JSON object")
	}

	var pr x402.PaymentRequirements
	if err := json.Unmarshal(body.PaymentRequirements, &pr); err != nil {
		return nil, nil, x402.PaymentRequirements{}, badRequestf("Invalid paymentRequirements: %v", err)
	}
	if string(bytes.TrimSpace(body.PaymentRequirements)) == "null" {
		return nil, nil, x402.PaymentRequirements{}, badRequestf("Invalid paymentRequirements: expected a JSON object")
	}
	return &body, bodyPayload, pr, nil
}

// buildForwardRequirements sanitizes the raw requirements for the upstream.
func (s *Service) buildForwardRequirements(body *x402.VerifyRequest) (json.RawMessage, error) {
	sanitized, err := sanitizeRequirements(body.PaymentRequirements)
	if err != nil {
		return nil, badRequestf("Invalid paymentRequirements: %v", err)
	}
	return sanitized, nil
}

// riskGate runs header validation and the risk evaluation for one endpoint,
// decorating the response with the decision headers. A deny decision or any
// header violation comes back as a coded error.
func (s *Service) riskGate(ctx context.Context, w http.ResponseWriter, r *http.Request, payload map[string]any, endpoint string) error {
	sid, tid, err := secure.ParseRiskIDs(r.Header.Get("X-RISK-SESSION"), r.Header.Get("X-RISK-TRACE"), s.uuidVersions)
	if err != nil {
		return err
	}
	sh, err := secure.ParsePaymentSecure(r.Header.Get("X-PAYMENT-SECURE"))
	if err != nil {
		return err
	}
	var mandate *secure.Mandate
	if raw := r.Header.Get("X-AP2-EVIDENCE"); raw != "" {
		m, err := secure.ParseEvidenceHeader(raw)
		if err != nil {
			return err
		}
		mandate = &m
	}
	if tid == "" {
		tid = tidFromTracestate(sh.TS)
	}

	req := &risk.EvaluateRequest{
		SID:          sid,
		TID:          tid,
		TraceContext: &risk.TraceContext{TP: sh.TP, TS: sh.TS},
		Payment:      paymentContext(payload),
		Mandate:      mandate,
	}

	start := time.Now()
	decision, err := s.evaluator.Evaluate(ctx, req)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveRiskEvaluation(s.mode, elapsed)
	}
	if err != nil {
		return err
	}

	w.Header().Set("X-Risk-Decision", decision.Decision)
	if decision.DecisionID != "" {
		w.Header().Set("X-Risk-Decision-ID", decision.DecisionID)
	}
	if decision.TTLSeconds > 0 {
		w.Header().Set("X-Risk-TTL-Seconds", strconv.Itoa(decision.TTLSeconds))
	}
	logger.FromContext(ctx).Info().
		Str("endpoint", endpoint).
		Str("decision", decision.Decision).
		Str("decision_id", decision.DecisionID).
		Msg("risk decision attached")

	if s.metrics != nil {
		s.metrics.ObserveRiskDecision(endpoint, decision.Decision)
	}
	if s.hooks != nil {
		s.hooks.EmitRiskDecision(ctx, observability.RiskDecisionEvent{
			Timestamp:  time.Now().UTC(),
			RequestID:  logger.GetRequestID(ctx),
			Endpoint:   endpoint,
			SessionID:  sid,
			TraceID:    tid,
			Decision:   decision.Decision,
			RiskLevel:  decision.RiskLevel,
			Reasons:    decision.Reasons,
			TTLSeconds: decision.TTLSeconds,
			Mode:       s.mode,
			Duration:   elapsed,
		})
	}

	if decision.Decision == risk.DecisionDeny {
		msg := "Risk denied"
		if len(decision.Reasons) > 0 {
			msg += ": " + strings.Join(decision.Reasons, ", ")
		}
		return apperrors.WithStatus(http.StatusForbidden, apperrors.ErrCodeRiskDenied, msg)
	}
	return nil
}

// checkEvidence runs the AP2 chain when the request presents evidence or
// the requirements demand it, and emits the verification outcome. A clean
// skip emits nothing.
func (s *Service) checkEvidence(ctx context.Context, r *http.Request, body *x402.VerifyRequest, pr x402.PaymentRequirements, payload map[string]any) error {
	ev, err := s.verifier.VerifyIfPresent(ap2.VerifyInput{
		Requirements:  pr,
		Payload:       payload,
		PaymentHeader: r.Header.Get("X-PAYMENT"),
		OriginHeader:  r.Header.Get("Origin"),
		EvidenceBody:  body.AP2EvidenceHeader,
	})
	if err == nil && ev == nil {
		return nil
	}

	event := observability.EvidenceEvent{
		Timestamp:        time.Now().UTC(),
		RequestID:        logger.GetRequestID(ctx),
		Network:          pr.Network,
		Valid:            err == nil,
		SignatureChecked: ev != nil && ev.Sig != "",
	}
	var ce *ap2.CheckError
	if errors.As(err, &ce) {
		event.Code = string(ce.Code)
		event.Reason = ce.Message
	}
	if s.metrics != nil {
		s.metrics.ObserveAP2Verification(event.Code, err == nil)
	}
	if s.hooks != nil {
		s.hooks.EmitEvidenceVerified(ctx, event)
	}
	return err
}

// writeError renders the coded error envelope. Header violations surface
// with their code's default 400; AP2 check failures surface as 422 with the
// failing check's code.
func (s *Service) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var he secure.HeaderError
	if errors.As(err, &he) {
		err = apperrors.New(he.Code, he.Message)
	}
	var ce *ap2.CheckError
	if errors.As(err, &ce) {
		err = apperrors.WithStatus(http.StatusUnprocessableEntity, ce.Code, ce.Message)
	}
	status, code, message := apperrors.Resolve(err)

	log := logger.FromContext(ctx)
	evt := log.Warn()
	if status >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Int("status", status).Str("code", string(code)).Msg(message)

	apperrors.WriteJSON(w, status, code, message, logger.GetRequestID(ctx))
}

// forwardRequest assembles the upstream body. paymentHeader carries the
// inbound X-PAYMENT verbatim; without one the canonical base64 of the
// forwarded payload stands in so both facilitator dialects can consume it.
func forwardRequest(version int, payload, requirements json.RawMessage, paymentHeader string) *x402.ForwardRequest {
	forward := &x402.ForwardRequest{
		X402Version:         version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
		PaymentHeader:       paymentHeader,
	}
	if forward.PaymentHeader == "" {
		if b64, err := x402.CanonicalBase64(payload); err == nil {
			forward.PaymentHeader = b64
		}
	}
	return forward
}

// decodeHeaderPayload decodes X-PAYMENT into the payload map, or nil when
// the header is absent or undecodable. An undecodable header is not an
// error; the body payload serves instead.
func decodeHeaderPayload(paymentHeader string) map[string]any {
	if paymentHeader == "" {
		return nil
	}
	decoded, err := x402.DecodePaymentHeader(paymentHeader)
	if err != nil {
		return nil
	}
	return decoded
}

// tidFromTracestate pulls the buyer's trace id out of the tracestate
// segment: percent-decoded, base64-decoded, then a JSON object with a tid
// field. The segment is opaque vendor metadata, so anything that fails to
// decode is ignored rather than rejected.
func tidFromTracestate(ts string) string {
	if ts == "" {
		return ""
	}
	unescaped, err := url.PathUnescape(ts)
	if err != nil {
		return ""
	}
	data, err := x402.SafeBase64Decode(unescaped)
	if err != nil {
		return ""
	}
	var doc struct {
		TID string `json:"tid"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return doc.TID
}

// paymentContext projects the decoded payment payload into the evaluator's
// protocol-agnostic envelope. x402 buyers send scheme and x402Version;
// other protocols send protocol and version.
func paymentContext(payload map[string]any) *risk.PaymentContext {
	inner, _ := payload["payload"].(map[string]any)
	if inner == nil {
		inner = map[string]any{}
	}
	network, _ := payload["network"].(string)
	return &risk.PaymentContext{
		Protocol: firstString(payload, "protocol", "scheme"),
		Version:  firstValue(payload, "version", "x402Version"),
		Network:  network,
		Payload:  inner,
	}
}

// firstString returns the first non-empty string among the keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, _ := m[k].(string); s != "" {
			return s
		}
	}
	return ""
}

// firstValue returns the first present, non-empty value among the keys.
// Empty strings and zero numbers fall through like a JSON-level or.
func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
		case string:
			if v != "" {
				return v
			}
		case float64:
			if v != 0 {
				return v
			}
		default:
			return v
		}
	}
	return nil
}

// snapshotFor captures one upstream exchange for /x402/debug. reasonKey is
// invalidReason on verify and errorReason on settle; the bare error field
// some facilitators use backfills it either way.
func snapshotFor(upstreamURL, requestID, origin string, result *upstreamResult, reasonKey string) map[string]any {
	snapshot := map[string]any{
		"at":           time.Now().UTC().Format(time.RFC3339),
		"upstream_url": upstreamURL,
		"status_code":  result.status,
		"origin":       nullableString(origin),
		"request_id":   requestID,
		"text":         string(result.body),
		"json":         nil,
	}
	if result.json != nil {
		snapshot["json"] = result.json
		snapshot["payer"] = result.json["payer"]
		snapshot[reasonKey] = coalesce(result.json[reasonKey], result.json["error"])
	}
	return snapshot
}

// narrowVerify projects the upstream body onto the verify response shape.
func narrowVerify(data map[string]any) *x402.VerifyResponse {
	resp := &x402.VerifyResponse{}
	if data == nil {
		return resp
	}
	resp.IsValid, _ = data["isValid"].(bool)
	resp.Payer, _ = data["payer"].(string)
	if reason, ok := coalesce(data["invalidReason"], data["error"]).(string); ok {
		resp.InvalidReason = reason
	}
	return resp
}

// narrowSettle projects the upstream body onto the settle response shape.
func narrowSettle(data map[string]any) *x402.SettleResponse {
	resp := &x402.SettleResponse{}
	if data == nil {
		return resp
	}
	resp.Success, _ = data["success"].(bool)
	resp.Payer, _ = data["payer"].(string)
	resp.Transaction, _ = data["transaction"].(string)
	resp.Network, _ = data["network"].(string)
	if reason, ok := coalesce(data["errorReason"], data["error"]).(string); ok {
		resp.ErrorReason = reason
	}
	return resp
}

// coalesce returns the first present, non-empty value. Upstream bodies
// overload the reason fields with a bare error field, so empty strings fall
// through.
func coalesce(values ...any) any {
	for _, v := range values {
		switch t := v.(type) {
		case nil:
		case string:
			if t != "" {
				return v
			}
		default:
			return v
		}
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// newRequestID mints the 32-char lowercase hex id echoed on X-Request-ID.
func newRequestID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func badRequestf(format string, args ...any) error {
	return apperrors.WithStatus(http.StatusBadRequest, apperrors.ErrCodeUnspecified, fmt.Sprintf(format, args...))
}

// writeJSON renders a success body without HTML escaping so URLs and base64
// payloads stay byte-exact.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
