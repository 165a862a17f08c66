package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/otto/pkg/session"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider streams chat completions from OpenAI or an OpenAI-compatible
// endpoint
type OpenAIProvider struct {
	client openai.Client
	name   string
	// requestOptions adds per-request body fields for the reasoning budget
	requestOptions func(req Request) []option.RequestOption
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		name:   ProviderOpenAI,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Stream runs a streamed chat completion
func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onDelta func(Delta)) (*Summary, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	var opts []option.RequestOption
	if p.requestOptions != nil {
		opts = p.requestOptions(req)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	var thinking string
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if reasoning := reasoningContent(delta); reasoning != "" {
			thinking += reasoning
			onDelta(Delta{Thinking: reasoning})
			continue
		}
		if delta.Content != "" {
			onDelta(Delta{Text: delta.Content})
			continue
		}
		if len(delta.ToolCalls) > 0 && delta.ToolCalls[0].Function.Name != "" {
			onDelta(Delta{ToolCallName: delta.ToolCalls[0].Function.Name})
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}
	choice := acc.Choices[0]

	summary := &Summary{
		Text:         choice.Message.Content,
		FinishReason: normalizeFinish(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
		},
	}
	if thinking != "" {
		summary.Thinking = []Thinking{{Text: thinking}}
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}
		summary.ToolCalls = append(summary.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}

	return summary, nil
}

func (p *OpenAIProvider) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if req.System == "" {
				messages = append(messages, openai.SystemMessage(msg.Text()))
			}
		case RoleUser:
			messages = append(messages, openai.UserMessage(openAIUserParts(msg.Parts)))
		case RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text := msg.Text(); text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Text(), msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.ReasoningEffort)
	}

	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		})
	}

	return params, nil
}

func openAIUserParts(parts []Part) []openai.ChatCompletionContentPartUnionParam {
	out := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case session.ContentText:
			out = append(out, openai.TextContentPart(part.Text))
		case session.ContentImage:
			url := part.URL
			if url == "" {
				url = part.Data
			}
			out = append(out, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		case session.ContentFile:
			out = append(out, openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
				Filename: openai.String(part.Name),
				FileData: openai.String(part.Data),
			}))
		}
	}
	return out
}

// reasoningContent reads the non-standard reasoning_content delta field that
// OpenAI-compatible endpoints use for thinking
func reasoningContent(delta openai.ChatCompletionChunkChoiceDelta) string {
	field, ok := delta.JSON.ExtraFields["reasoning_content"]
	if !ok {
		return ""
	}
	var text string
	if err := json.Unmarshal([]byte(field.Raw()), &text); err != nil {
		return ""
	}
	return text
}

func normalizeFinish(reason string) string {
	switch reason {
	case "tool_calls", "function_call", "tool_use":
		return FinishToolCalls
	default:
		return reason
	}
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && (apiErr.StatusCode == 429 || apiErr.StatusCode == 529 || apiErr.StatusCode == 503) {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return err
}
