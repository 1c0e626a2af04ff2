package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/x402secure/gateway/internal/ap2"
	"github.com/x402secure/gateway/internal/circuitbreaker"
	"github.com/x402secure/gateway/internal/config"
	"github.com/x402secure/gateway/internal/httpserver"
	"github.com/x402secure/gateway/internal/lifecycle"
	"github.com/x402secure/gateway/internal/logger"
	"github.com/x402secure/gateway/internal/metrics"
	"github.com/x402secure/gateway/internal/observability"
	"github.com/x402secure/gateway/internal/proxy"
	"github.com/x402secure/gateway/internal/riskengine"
	"github.com/x402secure/gateway/internal/riskstore"
)

// App wires the gateway components for reuse or standalone serving.
type App struct {
	Config   *config.Config
	Proxy    *proxy.Service
	Store    *riskstore.Store   // nil in forward mode
	Engine   *riskengine.Client // nil in local mode
	Breakers *circuitbreaker.Manager

	router           chi.Router
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
	hooks            *observability.Registry
	appLogger        zerolog.Logger
}

// Option configures App construction.
type Option func(*options)

type options struct {
	evaluator  proxy.Evaluator
	router     chi.Router
	registerer prometheus.Registerer
}

// WithEvaluator injects a custom risk evaluator for the proxy gate. The
// session and trace endpoints still follow the configured mode.
func WithEvaluator(evaluator proxy.Evaluator) Option {
	return func(o *options) {
		o.evaluator = evaluator
	}
}

// WithRouter allows callers to provide an existing chi.Router to register routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithRegisterer sets the Prometheus registerer for gateway metrics.
// Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = registerer
	}
}

// NewApp assembles the gateway services for embedding.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("gateway: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	registerer := optState.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	metricsCollector := metrics.New(registerer)
	app.metricsCollector = metricsCollector

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "x402-gateway",
		Environment: cfg.Logging.Environment,
	})
	app.appLogger = appLogger

	app.Breakers = circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	// The logging hook carries the verify/settle completion log lines.
	// Metrics are recorded directly by the services, so no Prometheus hook
	// is registered here; embedders mirroring events into their own
	// collectors can register one via Hooks().
	hooks := observability.NewRegistry(appLogger)
	loggingHook := observability.NewLoggingHook(appLogger)
	hooks.RegisterProxyHook(loggingHook)
	hooks.RegisterRiskHook(loggingHook)
	hooks.RegisterEvidenceHook(loggingHook)
	hooks.RegisterUpstreamHook(loggingHook)
	app.hooks = hooks

	mode := "forward"
	var evaluator proxy.Evaluator
	if cfg.Risk.LocalMode {
		mode = "local"
		store := riskstore.New(cfg.Risk.LocalTTL.Duration, cfg.Risk.LocalCapacity)
		store.OnEvict = metricsCollector.ObserveRiskStoreEviction
		app.Store = store
		app.resourceManager.RegisterFunc("risk-store", func() error {
			store.Stop()
			return nil
		})
		evaluator = riskstore.NewEvaluator(store)
	} else {
		engine := riskengine.New(cfg.Risk.EngineURL, cfg.Risk.InternalToken, cfg.Risk.EngineCompat, cfg.Upstream.Timeout.Duration, app.Breakers)
		app.Engine = engine
		evaluator = engine
	}
	if optState.evaluator != nil {
		evaluator = optState.evaluator
	}

	verifier := ap2.NewVerifier(cfg.AP2.NetworkChainMap)
	facilitator := proxy.NewFacilitator(cfg.Upstream.VerifyURL, cfg.Upstream.SettleURL, cfg.Upstream.Timeout.Duration, app.Breakers, metricsCollector, hooks)
	app.Proxy = proxy.NewService(cfg.Upstream, evaluator, facilitator, verifier, metricsCollector, hooks, cfg.Risk.AcceptedUUIDVersions, mode)

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	httpserver.ConfigureRouter(app.router, cfg, app.Proxy, app.Store, app.Engine, metricsCollector, appLogger)

	return app, nil
}

// Router returns the chi router with gateway routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Metrics returns the gateway metrics collector.
func (a *App) Metrics() *metrics.Metrics {
	return a.metricsCollector
}

// Logger returns the logger the gateway components write to.
func (a *App) Logger() zerolog.Logger {
	return a.appLogger
}

// Hooks returns the observability registry. Embedders may register
// additional hooks on it at any time.
func (a *App) Hooks() *observability.Registry {
	return a.hooks
}

// Close releases resources owned by the app (risk store cleanup, etc).
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// RegisterRoutes attaches gateway endpoints to the provided router using an existing App.
func RegisterRoutes(router chi.Router, app *App) {
	if router == nil || app == nil {
		return
	}

	// Reuse the app's metrics collector (already registered in NewApp)
	collector := app.metricsCollector
	if collector == nil {
		collector = metrics.New(prometheus.DefaultRegisterer)
	}

	httpserver.ConfigureRouter(router, app.Config, app.Proxy, app.Store, app.Engine, collector, app.appLogger)
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the gateway.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
