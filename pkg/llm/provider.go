package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harun/otto/pkg/session"
)

// Provider names, also used as model prefixes
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Provider streams one completion, calling onDelta for each increment.
// FinishReason in the summary is normalized to FinishStop or FinishToolCalls
// when the provider reports an equivalent.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request, onDelta func(Delta)) (*Summary, error)
}

// ProviderCreator builds a Provider for a provider name and key
type ProviderCreator interface {
	NewProvider(provider, apiKey string) (Provider, error)
}

// ProviderFactory creates the SDK-backed providers
type ProviderFactory struct{}

// NewProvider creates a provider by name
func (f *ProviderFactory) NewProvider(provider, apiKey string) (Provider, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey), nil
	case ProviderGemini:
		return NewGeminiProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

var apiKeyNames = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

// SplitModel splits "provider/name" into its parts. ok is false for an
// unknown provider.
func SplitModel(model string) (provider, name string, ok bool) {
	provider, name, found := strings.Cut(model, "/")
	if !found || name == "" {
		return "", "", false
	}
	if _, known := apiKeyNames[provider]; !known {
		return "", "", false
	}
	return provider, name, true
}

// APIKeyName returns the environment variable holding the provider's key
func APIKeyName(provider string) string {
	return apiKeyNames[provider]
}

// resolveKey returns the key for provider from the environment, then from
// fallback, which is keyed by provider name.
func resolveKey(provider string, fallback map[string]string) (name, value string) {
	name = apiKeyNames[provider]
	if v := os.Getenv(name); v != "" {
		return name, v
	}
	if fallback != nil {
		if v := fallback[provider]; v != "" {
			return name, v
		}
		if v := fallback[strings.ToLower(name)]; v != "" {
			return name, v
		}
	}
	return name, ""
}

// Reasoning budgets in tokens for providers with explicit thinking
var thinkingBudgets = map[session.ReasoningEffort]int{
	session.EffortLow:    4096,
	session.EffortMedium: 8192,
	session.EffortHigh:   16384,
}

// ThinkingBudget returns the token budget for effort, or 0 for none
func ThinkingBudget(effort session.ReasoningEffort) int {
	return thinkingBudgets[effort]
}

// preserveThinking reports whether thinking blocks must be sent back to the
// model on later turns.
func preserveThinking(model string) bool {
	return strings.Contains(model, "sonnet") || strings.Contains(model, "opus")
}
