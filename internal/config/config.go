package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config is the process configuration for otto
type Config struct {
	DataDir   string          `json:"data_dir" mapstructure:"data_dir"`
	Database  DatabaseConfig  `json:"database" mapstructure:"database"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	LLM       LLMConfig       `json:"llm" mapstructure:"llm"`
	Execution ExecutionConfig `json:"execution" mapstructure:"execution"`
	Lock      LockConfig      `json:"lock" mapstructure:"lock"`
	Queue     QueueConfig     `json:"queue" mapstructure:"queue"`
	Sweeper   SweeperConfig   `json:"sweeper" mapstructure:"sweeper"`
	Tasks     TasksConfig     `json:"tasks" mapstructure:"tasks"`
	Sandbox   SandboxConfig   `json:"sandbox" mapstructure:"sandbox"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Webhook   WebhookConfig   `json:"webhook" mapstructure:"webhook"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`
}

// DatabaseConfig locates the sqlite document store
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// Pricing is the USD cost per million tokens for one model
type Pricing struct {
	Input  float64 `json:"input" mapstructure:"input"`
	Output float64 `json:"output" mapstructure:"output"`
}

// LLMConfig holds provider settings. API keys here are used only when the
// provider's environment variable is unset.
type LLMConfig struct {
	DefaultModel string             `json:"default_model" mapstructure:"default_model"`
	APIKeys      map[string]string  `json:"api_keys" mapstructure:"api_keys"`
	Pricing      map[string]Pricing `json:"pricing" mapstructure:"pricing"`
	MaxTokens    int                `json:"max_tokens" mapstructure:"max_tokens"`
}

// ExecutionConfig bounds the tool loop
type ExecutionConfig struct {
	// MaxLLMCalls stops an execution after this many agent turns; 0 disables
	MaxLLMCalls          int  `json:"max_llm_calls" mapstructure:"max_llm_calls"`
	FailOnNoOutputTokens bool `json:"fail_on_no_output_tokens" mapstructure:"fail_on_no_output_tokens"`
	TimeoutMinutes       int  `json:"timeout_minutes" mapstructure:"timeout_minutes"`
}

// LockConfig holds named lock settings
type LockConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// QueueConfig holds job queue settings
type QueueConfig struct {
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`
}

// SweeperConfig holds the stale execution sweep schedule
type SweeperConfig struct {
	Schedule          string `json:"schedule" mapstructure:"schedule"`
	StaleAfterMinutes int    `json:"stale_after_minutes" mapstructure:"stale_after_minutes"`
}

// TasksConfig locates task definition files
type TasksConfig struct {
	Dir   string `json:"dir" mapstructure:"dir"`
	Watch bool   `json:"watch" mapstructure:"watch"`
}

// SandboxConfig configures the script runner
type SandboxConfig struct {
	Python         string `json:"python" mapstructure:"python"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// MetricsConfig holds the prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// WebhookConfig holds the document event listener. Empty Addr disables it.
type WebhookConfig struct {
	Addr              string `json:"addr" mapstructure:"addr"`
	Secret            string `json:"secret" mapstructure:"secret"`
	SignatureHeader   string `json:"signature_header" mapstructure:"signature_header"`
	MaxRequestsPerMin int    `json:"max_requests_per_min" mapstructure:"max_requests_per_min"`
}

// TracingConfig toggles OpenTelemetry
type TracingConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		LLM: LLMConfig{
			DefaultModel: "openai/gpt-4.1-mini",
			APIKeys:      map[string]string{},
			Pricing:      map[string]Pricing{},
			MaxTokens:    32000,
		},
		Execution: ExecutionConfig{
			MaxLLMCalls:          30,
			FailOnNoOutputTokens: true,
			TimeoutMinutes:       30,
		},
		Lock: LockConfig{
			TimeoutSeconds: 600,
		},
		Queue: QueueConfig{
			Concurrency: 4,
		},
		Sweeper: SweeperConfig{
			Schedule:          "@every 1m",
			StaleAfterMinutes: 10,
		},
		Sandbox: SandboxConfig{
			Python:         "python3",
			TimeoutSeconds: 60,
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
		Webhook: WebhookConfig{
			MaxRequestsPerMin: 120,
		},
	}
}

// String returns a JSON representation of the config with keys masked
func (c *Config) String() string {
	masked := *c
	masked.LLM.APIKeys = make(map[string]string, len(c.LLM.APIKeys))
	for k, v := range c.LLM.APIKeys {
		if v != "" {
			v = "********"
		}
		masked.LLM.APIKeys[k] = v
	}
	if masked.Webhook.Secret != "" {
		masked.Webhook.Secret = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return nil
}
