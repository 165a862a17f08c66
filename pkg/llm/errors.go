package llm

import (
	"errors"
	"strings"
)

// ErrRateLimited marks transport errors that are worth retrying
var ErrRateLimited = errors.New("rate limited")

// ConfigError is a configuration problem found before any network call
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Reason
}

// IsConfigError reports whether err is or wraps a *ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

var rateLimitMarkers = []string{
	"request would exceed the rate limit",
	"rate_limit_error",
	"overloaded",
}

// IsRateLimited reports whether err is a rate-limit or overload error.
// Adapters wrap ErrRateLimited when the status code says so; the message
// check covers errors raised from inside a stream.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
