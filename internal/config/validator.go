package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Providers are the model prefixes otto can route
var Providers = []string{"openai", "anthropic", "gemini"}

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateModel requires a provider/model name with a known provider
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	provider, name, ok := strings.Cut(model, "/")
	if !ok || name == "" {
		return fmt.Errorf("model %s must be of the form provider/name", model)
	}
	for _, p := range Providers {
		if provider == p {
			return nil
		}
	}
	return fmt.Errorf("model %s has unknown provider %s (must be one of: %s)", model, provider, strings.Join(Providers, ", "))
}

// ValidateAPIKey checks the key prefix where the provider has a known one
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "gemini":
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Gemini API key format (should start with AIza)")
		}
	default:
		return fmt.Errorf("unknown provider %s", provider)
	}

	return nil
}

// ValidateSchedule checks a cron spec the way the sweeper will parse it
func (v *Validator) ValidateSchedule(spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig collects every problem rather than stopping at the first
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if cfg.LLM.DefaultModel != "" {
		if err := v.ValidateModel(cfg.LLM.DefaultModel); err != nil {
			errs = append(errs, fmt.Errorf("llm.default_model: %w", err))
		}
	}
	for provider, key := range cfg.LLM.APIKeys {
		if key == "" {
			continue
		}
		if err := v.ValidateAPIKey(key, provider); err != nil {
			errs = append(errs, fmt.Errorf("llm.api_keys.%s: %w", provider, err))
		}
	}
	for model, p := range cfg.LLM.Pricing {
		if p.Input < 0 || p.Output < 0 {
			errs = append(errs, fmt.Errorf("llm.pricing.%s: prices must be >= 0", model))
		}
	}
	if cfg.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive"))
	}

	if cfg.Execution.MaxLLMCalls < 0 {
		errs = append(errs, fmt.Errorf("execution.max_llm_calls must be >= 0"))
	}
	if cfg.Lock.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("lock.timeout_seconds must be positive"))
	}
	if cfg.Queue.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("queue.concurrency must be positive"))
	}
	if cfg.Sweeper.Schedule != "" {
		if err := v.ValidateSchedule(cfg.Sweeper.Schedule); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Sandbox.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout_seconds must be positive"))
	}
	if cfg.Webhook.MaxRequestsPerMin < 0 {
		errs = append(errs, fmt.Errorf("webhook.max_requests_per_min must be >= 0"))
	}
	if cfg.Tasks.Watch && cfg.Tasks.Dir == "" {
		errs = append(errs, fmt.Errorf("tasks.dir is required when tasks.watch is set"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
