package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseOffsets parses a comma-separated duration list such as "3s,8s,15s".
// Offsets must be positive and strictly increasing.
func ParseOffsets(raw string) ([]time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("offset %s must be positive", d)
		}
		if len(out) > 0 && d <= out[len(out)-1] {
			return nil, fmt.Errorf("offsets must increase: %s after %s", d, out[len(out)-1])
		}
		out = append(out, d)
	}
	return out, nil
}
