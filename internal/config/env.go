package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. The PROXY_*
// and RISK_* names are the wire-compatible set sellers already deploy with;
// gateway-only additions use a GATEWAY_ prefix.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Host, "PROXY_HOST")
	setIntIfEnv(&c.Server.Port, "PROXY_PORT")
	setIfEnv(&c.Server.RoutePrefix, "GATEWAY_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "GATEWAY_ADMIN_METRICS_API_KEY")

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Upstream facilitator config
	setIfEnv(&c.Upstream.VerifyURL, "PROXY_UPSTREAM_VERIFY_URL")
	setIfEnv(&c.Upstream.SettleURL, "PROXY_UPSTREAM_SETTLE_URL")
	setSecondsIfEnv(&c.Upstream.Timeout, "PROXY_TIMEOUT_S")
	setBoolIfEnv(&c.Upstream.DebugEnabled, "PROXY_DEBUG_ENABLED")
	setBoolIfEnv(&c.Upstream.SettleRiskEnabled, "PROXY_SETTLE_RISK_ENABLED")

	// Risk config
	setBoolIfEnv(&c.Risk.LocalMode, "PROXY_LOCAL_RISK")
	setSecondsIfEnv(&c.Risk.LocalTTL, "PROXY_LOCAL_RISK_TTL")
	setIntIfEnv(&c.Risk.LocalCapacity, "PROXY_LOCAL_RISK_CAPACITY")
	setIfEnv(&c.Risk.EngineURL, "RISK_ENGINE_URL")
	setIfEnv(&c.Risk.InternalToken, "RISK_INTERNAL_TOKEN")
	if v := os.Getenv("RISK_ENGINE_COMPAT"); v != "" {
		c.Risk.EngineCompat = isCompatToken(v)
	}
	if v := os.Getenv("RISK_UUID_VERSIONS"); v != "" {
		if versions := parseUUIDVersions(v); len(versions) > 0 {
			c.Risk.AcceptedUUIDVersions = versions
		}
	}

	// AP2 config: entries override or extend the configured map
	if v := os.Getenv("PROXY_NETWORK_CHAIN_MAP"); v != "" {
		if m, err := parseChainMap(v); err == nil {
			if c.AP2.NetworkChainMap == nil {
				c.AP2.NetworkChainMap = make(map[string]int64, len(m))
			}
			for k, id := range m {
				c.AP2.NetworkChainMap[k] = id
			}
		}
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "yes" (any case) as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setSecondsIfEnv sets a Duration pointer from an environment variable holding
// a number of seconds, e.g. PROXY_TIMEOUT_S=15 or PROXY_TIMEOUT_S=2.5.
func setSecondsIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			*target = Duration{Duration: time.Duration(secs * float64(time.Second))}
		}
	}
}

// isCompatToken reports whether a RISK_ENGINE_COMPAT value selects the legacy
// trustline dialect.
func isCompatToken(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "trustline", "tl", "on", "true", "1":
		return true
	default:
		return false
	}
}

// parseChainMap parses a network→chainId map from either a JSON object
// ({"base":8453}) or a comma list (base:8453,base-sepolia:84532).
func parseChainMap(v string) (map[string]int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if strings.HasPrefix(v, "{") {
		var m map[string]int64
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	m := make(map[string]int64)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, id, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, strconv.ErrSyntax
		}
		chainID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, err
		}
		m[strings.TrimSpace(name)] = chainID
	}
	return m, nil
}

// parseUUIDVersions parses a comma list of UUID version numbers, e.g. "1,4,7".
func parseUUIDVersions(v string) []int {
	var versions []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(part, "v"))
		if err != nil || n < 1 || n > 8 {
			return nil
		}
		versions = append(versions, n)
	}
	return versions
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api", "gateway" -> "/gateway"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	// Ensure it starts with /
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	// Ensure it doesn't end with /
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
