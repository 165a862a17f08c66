package llm

import (
	"github.com/openai/openai-go/option"
)

// GeminiBaseURL is Gemini's OpenAI-compatible endpoint
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// NewGeminiProvider creates a provider for Google Gemini through its
// OpenAI-compatible API. The thinking budget travels in extra_body.
func NewGeminiProvider(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithBaseURL(GeminiBaseURL)}, opts...)
	p := NewOpenAIProvider(apiKey, opts...)
	p.name = ProviderGemini
	p.requestOptions = geminiThinking
	return p
}

func geminiThinking(req Request) []option.RequestOption {
	if req.ThinkingBudget <= 0 {
		return nil
	}
	return []option.RequestOption{
		option.WithJSONSet("extra_body.google.thinking_config.thinking_budget", req.ThinkingBudget),
		option.WithJSONSet("extra_body.google.thinking_config.include_thoughts", true),
	}
}
