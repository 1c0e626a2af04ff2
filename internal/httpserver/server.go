// Package httpserver wires the gateway's HTTP surface: the public risk
// endpoints, the gated x402 forwarding endpoints, health, and metrics.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/x402secure/gateway/internal/config"
	"github.com/x402secure/gateway/internal/logger"
	"github.com/x402secure/gateway/internal/metrics"
	"github.com/x402secure/gateway/internal/proxy"
	"github.com/x402secure/gateway/internal/ratelimit"
	"github.com/x402secure/gateway/internal/riskengine"
	"github.com/x402secure/gateway/internal/riskstore"
	"github.com/x402secure/gateway/internal/versioning"
	"github.com/x402secure/gateway/pkg/responders"
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg       *config.Config
	proxy     *proxy.Service
	store     *riskstore.Store     // local-mode session and trace state, nil in forward mode
	localEval *riskstore.Evaluator // local-mode evaluator, nil in forward mode
	engine    *riskengine.Client   // forward-mode risk engine client, nil in local mode
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New builds the HTTP server with the configured router. Exactly one of
// store (local risk mode) and engine (forward mode) is non-nil.
func New(cfg *config.Config, proxySvc *proxy.Service, store *riskstore.Store, engine *riskengine.Client, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: newHandlers(cfg, proxySvc, store, engine, metricsCollector, appLogger),
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, proxySvc, store, engine, metricsCollector, appLogger)

	return s
}

func newHandlers(cfg *config.Config, proxySvc *proxy.Service, store *riskstore.Store, engine *riskengine.Client, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) handlers {
	h := handlers{
		cfg:     cfg,
		proxy:   proxySvc,
		store:   store,
		engine:  engine,
		metrics: metricsCollector,
		logger:  appLogger,
	}
	if store != nil {
		h.localEval = riskstore.NewEvaluator(store)
	}
	return h
}

// ConfigureRouter attaches gateway routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, proxySvc *proxy.Service, store *riskstore.Store, engine *riskengine.Client, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := newHandlers(cfg, proxySvc, store, engine, metricsCollector, appLogger)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Risk-Decision", "X-Risk-Decision-ID", "X-Risk-TTL-Seconds", "X-API-Version"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(httpMetrics(metricsCollector))

	// API version negotiation (Accept header / X-API-Version)
	router.Use(versioning.Negotiation)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled: cfg.RateLimit.GlobalEnabled,
		GlobalLimit:   cfg.RateLimit.GlobalLimit,
		GlobalWindow:  cfg.RateLimit.GlobalWindow.Duration,
		PerIPEnabled:  cfg.RateLimit.PerIPEnabled,
		PerIPLimit:    cfg.RateLimit.PerIPLimit,
		PerIPWindow:   cfg.RateLimit.PerIPWindow.Duration,
		Metrics:       metricsCollector,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	// Liveness and scrape targets stay fast regardless of upstream health.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", handler.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Risk and forwarding endpoints block on the store or on upstream calls.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post(prefix+"/risk/session", handler.createRiskSession)
		r.Post(prefix+"/risk/trace", handler.createRiskTrace)
		r.Post(prefix+"/risk/evaluate", handler.evaluateRisk)
		r.Get(prefix+"/risk/trace/{tid}", handler.getRiskTrace)

		r.Post(prefix+"/x402/verify", handler.proxy.HandleVerify)
		r.Post(prefix+"/x402/settle", handler.proxy.HandleSettle)
		r.Get(prefix+"/x402/debug", handler.proxy.HandleDebug)
	})
}

// health reports liveness and the configured upstream targets.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"time":            time.Now().UTC().Format(time.RFC3339),
		"upstream_verify": h.cfg.Upstream.VerifyURL,
		"upstream_settle": h.cfg.Upstream.SettleURL,
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
