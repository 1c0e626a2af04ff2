package proxy

import (
	"encoding/json"
	"fmt"
)

// sanitizeRequirements rewrites paymentRequirements for the upstream
// facilitator: null-valued top-level fields are dropped, and inside extra
// only the token metadata keys name and version survive. The gateway has
// already enforced the ap2 policy block by the time this runs, and upstream
// facilitators reject non-standard extra fields and null values.
func sanitizeRequirements(raw json.RawMessage) (json.RawMessage, error) {
	var pr map[string]any
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("decode paymentRequirements: %w", err)
	}

	for k, v := range pr {
		if v == nil {
			delete(pr, k)
		}
	}

	if extra, ok := pr["extra"].(map[string]any); ok {
		kept := map[string]any{}
		if name, ok := extra["name"]; ok {
			kept["name"] = name
		}
		if version, ok := extra["version"]; ok {
			kept["version"] = version
		}
		pr["extra"] = kept
	}

	return json.Marshal(pr)
}
