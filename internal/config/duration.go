package config

import (
	"strings"
	"time"

	"go.trai.ch/zerr"
)

// ParseDurationField parses a non-negative duration. Empty means zero.
// path names the config key in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "invalid duration"), "field", path)
	}
	if d < 0 {
		return 0, zerr.With(zerr.New("duration must be >= 0"), "field", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
