package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// defaultNetworkChainMap lists the chains the gateway can resolve without
// operator configuration.
func defaultNetworkChainMap() map[string]int64 {
	return map[string]int64{
		"base":         8453,
		"base-sepolia": 84532,
	}
}

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	// Apply defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Upstream.Timeout.Duration == 0 {
		c.Upstream.Timeout = Duration{Duration: 15 * time.Second}
	}
	if c.Risk.LocalTTL.Duration == 0 {
		c.Risk.LocalTTL = Duration{Duration: 900 * time.Second}
	}
	if c.Risk.LocalCapacity == 0 {
		c.Risk.LocalCapacity = 10000
	}
	if len(c.Risk.AcceptedUUIDVersions) == 0 {
		c.Risk.AcceptedUUIDVersions = []int{1, 4}
	}

	// Operator entries override defaults; defaults fill the gaps.
	merged := defaultNetworkChainMap()
	for name, id := range c.AP2.NetworkChainMap {
		merged[name] = id
	}
	c.AP2.NetworkChainMap = merged

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	if err := validateHTTPURL(c.Upstream.VerifyURL); err != nil {
		errs = append(errs, fmt.Sprintf("upstream.verify_url: %v", err))
	}
	if err := validateHTTPURL(c.Upstream.SettleURL); err != nil {
		errs = append(errs, fmt.Sprintf("upstream.settle_url: %v", err))
	}
	if c.Upstream.Timeout.Duration <= 0 {
		errs = append(errs, "upstream.timeout must be positive")
	}

	if c.Risk.LocalMode {
		if c.Risk.LocalTTL.Duration <= 0 {
			errs = append(errs, "risk.local_ttl must be positive")
		}
		if c.Risk.LocalCapacity <= 0 {
			errs = append(errs, "risk.local_capacity must be positive")
		}
	} else {
		if err := validateHTTPURL(c.Risk.EngineURL); err != nil {
			errs = append(errs, fmt.Sprintf("risk.engine_url: %v", err))
		}
	}
	for _, v := range c.Risk.AcceptedUUIDVersions {
		if v < 1 || v > 8 {
			errs = append(errs, fmt.Sprintf("risk.accepted_uuid_versions entry %d out of range", v))
		}
	}

	for name, id := range c.AP2.NetworkChainMap {
		if id <= 0 {
			errs = append(errs, fmt.Sprintf("ap2.network_chain_map[%s] must be a positive chain id", name))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// validateHTTPURL requires an absolute http or https URL.
func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
