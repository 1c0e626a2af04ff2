package httpserver

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/x402secure/gateway/internal/errors"
	"github.com/x402secure/gateway/internal/logger"
	"github.com/x402secure/gateway/internal/riskstore"
	"github.com/x402secure/gateway/pkg/responders"
	"github.com/x402secure/gateway/pkg/risk"
)

var walletAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// createRiskSession mints a session in local mode or relays the request to
// the external risk engine.
func (h *handlers) createRiskSession(w http.ResponseWriter, r *http.Request) {
	var req risk.SessionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrCodeUnspecified, "Invalid JSON body: %v", err))
		return
	}
	if req.AgentDID == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrCodeUnspecified, "agent_did required"))
		return
	}
	if req.WalletAddress != "" && !walletAddressRe.MatchString(req.WalletAddress) {
		h.writeError(w, r, apperrors.New(apperrors.ErrCodeUnspecified, "wallet_address must be a 0x-prefixed 40-hex address"))
		return
	}

	if h.store != nil {
		session := h.store.CreateSession(riskstore.SessionParams{
			AgentDID:      req.AgentDID,
			WalletAddress: req.WalletAddress,
			AgentEndpoint: req.AgentEndpoint,
			AppID:         req.AppID,
			Device:        req.Device,
		})
		h.refreshStoreGauges()
		logger.FromContext(r.Context()).Info().
			Str("sid", session.SID).
			Time("expires_at", session.ExpiresAt).
			Msg("risk session created")
		responders.JSON(w, http.StatusOK, risk.SessionResponse{
			SID:       session.SID,
			ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
		})
		return
	}

	resp, err := h.engine.ForwardSession(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// createRiskTrace persists an agent trace under an existing session, or
// relays the request in forward mode.
func (h *handlers) createRiskTrace(w http.ResponseWriter, r *http.Request) {
	var req risk.TraceRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrCodeUnspecified, "Invalid JSON body: %v", err))
		return
	}
	if req.SID == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrCodeUnspecified, "sid required"))
		return
	}

	if h.store != nil {
		trace, err := h.store.CreateTrace(riskstore.TraceParams{
			SID:         req.SID,
			Fingerprint: req.Fingerprint,
			Telemetry:   req.Telemetry,
			AgentTrace:  req.AgentTrace,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.refreshStoreGauges()

		evt := logger.FromContext(r.Context()).Info().
			Str("tid", trace.TID).
			Str("sid", trace.SID)
		var summary struct {
			Task   string           `json:"task"`
			Events []map[string]any `json:"events"`
		}
		if len(req.AgentTrace) > 0 && json.Unmarshal(req.AgentTrace, &summary) == nil {
			evt = evt.Str("task", summary.Task).Int("events", len(summary.Events))
		}
		evt.Msg("risk trace created")

		responders.JSON(w, http.StatusOK, risk.TraceResponse{TID: trace.TID})
		return
	}

	resp, err := h.engine.ForwardTrace(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// evaluateRisk runs the local evaluator or relays to the external engine and
// re-emits its schema-validated decision.
func (h *handlers) evaluateRisk(w http.ResponseWriter, r *http.Request) {
	var req risk.EvaluateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrCodeUnspecified, "Invalid JSON body: %v", err))
		return
	}
	if req.SID == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrCodeUnspecified, "sid required"))
		return
	}
	if req.TraceContext == nil || req.TraceContext.TP == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrCodeUnspecified, "trace_context.tp required"))
		return
	}
	if req.Payment == nil || req.Payment.Protocol == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrCodeUnspecified, "payment.protocol required"))
		return
	}

	start := time.Now()
	var (
		decision *risk.Decision
		err      error
	)
	if h.localEval != nil {
		decision, err = h.localEval.Evaluate(r.Context(), &req)
	} else {
		decision, err = h.engine.ForwardEvaluate(r.Context(), &req)
	}
	if h.metrics != nil {
		h.metrics.ObserveRiskEvaluation(h.mode(), time.Since(start))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveRiskDecision("evaluate", decision.Decision)
	}

	logger.FromContext(r.Context()).Info().
		Str("decision", decision.Decision).
		Str("sid", req.SID).
		Str("tid", req.TID).
		Str("decision_id", decision.DecisionID).
		Bool("mandate", req.Mandate != nil).
		Msg("risk evaluated")

	responders.JSON(w, http.StatusOK, decision)
}

// getRiskTrace exposes a stored trace for diagnostics. Local mode only.
func (h *handlers) getRiskTrace(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, r, apperrors.WithStatus(http.StatusNotImplemented,
			apperrors.ErrCodeUnspecified, "Not available in forward mode"))
		return
	}

	tid := chi.URLParam(r, "tid")
	trace, ok := h.store.Trace(tid)
	if !ok {
		h.writeError(w, r, apperrors.WithStatus(http.StatusNotFound,
			apperrors.ErrCodeRiskTraceInvalid, "tid not found"))
		return
	}

	var agentTrace any
	if len(trace.AgentTrace) > 0 {
		agentTrace = trace.AgentTrace
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"sid":         trace.SID,
		"fingerprint": trace.Fingerprint,
		"telemetry":   trace.Telemetry,
		"agent_trace": agentTrace,
	})
}

// mode names the active evaluator for metric labels.
func (h *handlers) mode() string {
	if h.store != nil {
		return "local"
	}
	return "forward"
}

// refreshStoreGauges re-exports the store sizes after a mutation.
func (h *handlers) refreshStoreGauges() {
	if h.metrics == nil || h.store == nil {
		return
	}
	h.metrics.SetRiskStoreSize(h.store.Stats())
}

// writeError logs and writes the error envelope with the request id minted
// by the logger middleware.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := apperrors.Resolve(err)

	evt := logger.FromContext(r.Context()).Warn()
	if status >= 500 {
		evt = logger.FromContext(r.Context()).Error()
	}
	evt.Int("status", status).Str("code", string(code)).Msg(message)

	apperrors.WriteJSON(w, status, code, message, logger.GetRequestID(r.Context()))
}
