package sandbox

import (
	"fmt"
	"time"
)

// Config defines script runner configuration
type Config struct {
	// Python is the interpreter used to run scripts
	Python string `json:"python"`

	// Timeout limits a single run when the caller's context has no deadline
	Timeout time.Duration `json:"timeout"`

	// Env are extra process environment variables. The runner starts from
	// a minimal environment, so provider keys never leak into scripts.
	Env map[string]string `json:"env"`

	// MaxOutputBytes truncates captured stdout and stderr
	MaxOutputBytes int `json:"max_output_bytes"`
}

// DefaultConfig returns a default runner configuration
func DefaultConfig() Config {
	return Config{
		Python:         "python3",
		Timeout:        60 * time.Second,
		MaxOutputBytes: 64 * 1024,
	}
}

// ValidateConfig validates a runner configuration
func ValidateConfig(cfg Config) error {
	if cfg.Python == "" {
		return ErrInterpreterRequired
	}
	if cfg.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if cfg.MaxOutputBytes < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOutputLimit, cfg.MaxOutputBytes)
	}
	return nil
}
