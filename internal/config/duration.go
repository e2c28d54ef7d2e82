package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Timeouts and windows are Go duration strings such as "300ms" or "2m".
// A blank value leaves the setting unset.

var errNegativeDuration = errors.New("must not be negative")

// ParseDurationField parses the duration at key. Unset yields 0.
func ParseDurationField(key, raw string) (time.Duration, error) {
	return parseDuration(key, raw, 0)
}

// ParseDurationOrDefault is ParseDurationField with def standing in for an
// unset or zero value.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	return parseDuration(key, raw, def)
}

func parseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err == nil && d < 0 {
		err = errNegativeDuration
	}
	if err != nil {
		return 0, fmt.Errorf("%s = %q: %w", key, raw, err)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
