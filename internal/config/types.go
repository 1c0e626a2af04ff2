package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Upstream       UpstreamConfig       `yaml:"upstream"`
	Risk           RiskConfig           `yaml:"risk"`
	AP2            AP2Config            `yaml:"ap2"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api", "/gateway")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics endpoint (leave empty to disable protection)
}

// Address joins host and port into a listen address.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// UpstreamConfig holds the facilitator forwarding targets and proxy behavior flags.
type UpstreamConfig struct {
	VerifyURL         string   `yaml:"verify_url"`
	SettleURL         string   `yaml:"settle_url"`
	Timeout           Duration `yaml:"timeout"`             // per outbound call
	DebugEnabled      bool     `yaml:"debug_enabled"`       // expose GET /x402/debug
	SettleRiskEnabled bool     `yaml:"settle_risk_enabled"` // gate /x402/settle on risk evaluation
}

// RiskConfig holds the risk-session store and evaluator dispatch configuration.
type RiskConfig struct {
	LocalMode            bool     `yaml:"local_mode"`     // in-process store and evaluator
	LocalTTL             Duration `yaml:"local_ttl"`      // session/trace lifetime
	LocalCapacity        int      `yaml:"local_capacity"` // max entries per map
	EngineURL            string   `yaml:"engine_url"`     // forward-mode base URL
	EngineCompat         bool     `yaml:"engine_compat"`  // legacy engine dialect adapter
	InternalToken        string   `yaml:"internal_token"` // bearer forwarded to the engine
	AcceptedUUIDVersions []int    `yaml:"accepted_uuid_versions"`
}

// AP2Config holds evidence verification settings.
type AP2Config struct {
	// NetworkChainMap resolves a payment network name to the EIP-712 chainId.
	NetworkChainMap map[string]int64 `yaml:"network_chain_map"`
}

// RateLimitConfig holds rate limiting configuration.
// Limits are generous: they exist to stop spam, not to restrict sellers.
type RateLimitConfig struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-IP rate limiting
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when external services are degraded.
type CircuitBreakerConfig struct {
	Enabled           bool                 `yaml:"enabled"`
	FacilitatorVerify BreakerServiceConfig `yaml:"facilitator_verify"`
	FacilitatorSettle BreakerServiceConfig `yaml:"facilitator_settle"`
	RiskEngine        BreakerServiceConfig `yaml:"risk_engine"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
