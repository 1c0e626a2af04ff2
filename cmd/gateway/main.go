package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/x402secure/gateway/internal/config"
	"github.com/x402secure/gateway/internal/httpserver"
	"github.com/x402secure/gateway/pkg/gateway"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// A .env file is optional; deployments usually set variables directly.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("load configuration")
	}

	app, err := gateway.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("assemble gateway")
	}

	appLogger := app.Logger()

	mode := "forward"
	if cfg.Risk.LocalMode {
		mode = "local"
	}
	appLogger.Info().
		Str("addr", cfg.Server.Address()).
		Str("mode", mode).
		Str("upstream_verify", cfg.Upstream.VerifyURL).
		Str("upstream_settle", cfg.Upstream.SettleURL).
		Msg("gateway starting")

	srv := httpserver.New(cfg, app.Proxy, app.Store, app.Engine, app.Metrics(), appLogger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error().Err(err).Msg("server failed")
			if closeErr := app.Close(); closeErr != nil {
				appLogger.Error().Err(closeErr).Msg("close gateway resources")
			}
			os.Exit(1)
		}
	case sig := <-stop:
		appLogger.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error().Err(err).Msg("server shutdown")
		}
	}

	if err := app.Close(); err != nil {
		appLogger.Error().Err(err).Msg("close gateway resources")
	}

	appLogger.Info().Msg("gateway stopped")
}
