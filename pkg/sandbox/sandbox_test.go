package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "python3", cfg.Python)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 64*1024, cfg.MaxOutputBytes)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		err    error
	}{
		{name: "missing interpreter", mutate: func(c *Config) { c.Python = "" }, err: ErrInterpreterRequired},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, err: ErrInvalidTimeout},
		{name: "negative output limit", mutate: func(c *Config) { c.MaxOutputBytes = -1 }, err: ErrInvalidOutputLimit},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := ValidateConfig(cfg)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}
