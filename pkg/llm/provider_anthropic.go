package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/otto/pkg/session"
)

const defaultAnthropicMaxTokens = 32000

// AnthropicProvider streams completions from Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string, opts ...option.RequestOption) *AnthropicProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return ProviderAnthropic
}

// Stream runs a streamed Messages call
func (p *AnthropicProvider) Stream(ctx context.Context, req Request, onDelta func(Delta)) (*Summary, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream: %w", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" && ev.ContentBlock.Name != "" {
				onDelta(Delta{ToolCallName: ev.ContentBlock.Name})
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text != "" {
					onDelta(Delta{Text: d.Text})
				}
			case anthropic.ThinkingDelta:
				if d.Thinking != "" {
					onDelta(Delta{Thinking: d.Thinking})
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicError(err)
	}

	return summarizeAnthropic(&message)
}

func summarizeAnthropic(message *anthropic.Message) (*Summary, error) {
	summary := &Summary{
		Usage: Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ThinkingBlock:
			if b.Thinking != "" {
				summary.Thinking = append(summary.Thinking, Thinking{Text: b.Thinking, Signature: b.Signature})
			}
		case anthropic.ToolUseBlock:
			args := map[string]interface{}{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, fmt.Errorf("failed to parse tool input: %w", err)
				}
			}
			summary.ToolCalls = append(summary.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}
	summary.Text = text.String()

	switch message.StopReason {
	case anthropic.StopReasonEndTurn:
		summary.FinishReason = FinishStop
	case anthropic.StopReasonToolUse:
		summary.FinishReason = FinishToolCalls
	default:
		summary.FinishReason = string(message.StopReason)
	}

	return summary, nil
}

func (p *AnthropicProvider) buildParams(req Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	if req.ThinkingBudget > 0 && maxTokens <= req.ThinkingBudget {
		maxTokens = req.ThinkingBudget + 4096
	}

	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	system := req.System
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = m.Text()
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if req.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}

	for _, tool := range req.Tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: tool.Parameters["properties"],
			},
		}
		toolParam.InputSchema.Required = requiredList(tool.Parameters["required"])
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	return params, nil
}

// toAnthropicMessages converts chat messages. Tool results become user
// tool_result blocks and consecutive same-role messages are merged, since
// the Messages API requires alternating roles.
func toAnthropicMessages(in []Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam

	push := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range in {
		switch m.Role {
		case RoleSystem:
			continue
		case RoleTool:
			push(anthropic.MessageParamRoleUser, []anthropic.ContentBlockParamUnion{
				anthropic.NewToolResultBlock(m.ToolCallID, m.Text(), m.IsError),
			})
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			// thinking must lead the assistant turn
			for _, part := range m.Parts {
				if part.Type == session.ContentThinking && part.Signature != "" {
					blocks = append(blocks, anthropic.NewThinkingBlock(part.Signature, part.Text))
				}
			}
			for _, part := range m.Parts {
				if part.Type == session.ContentText && part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			}
			for _, tc := range m.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			push(anthropic.MessageParamRoleAssistant, blocks)
		default:
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range m.Parts {
				block, ok := anthropicUserBlock(part)
				if ok {
					blocks = append(blocks, block)
				}
			}
			push(anthropic.MessageParamRoleUser, blocks)
		}
	}

	if len(out) == 0 {
		return nil, errors.New("no messages to send")
	}
	return out, nil
}

func anthropicUserBlock(part Part) (anthropic.ContentBlockParamUnion, bool) {
	switch part.Type {
	case session.ContentText:
		if part.Text == "" {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropic.NewTextBlock(part.Text), true
	case session.ContentImage:
		if part.Data != "" {
			mediaType, data, ok := parseDataURL(part.Data)
			if ok {
				return anthropic.NewImageBlockBase64(mediaType, data), true
			}
		}
		if part.URL != "" {
			return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: part.URL}), true
		}
	case session.ContentFile:
		mediaType, data, ok := parseDataURL(part.Data)
		if ok && mediaType == "application/pdf" {
			return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: data}), true
		}
		return anthropic.NewTextBlock(fmt.Sprintf("[attached file %s of type %s]", part.Name, mediaType)), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && (apiErr.StatusCode == 429 || apiErr.StatusCode == 529) {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return err
}

// parseDataURL splits "data:<type>;base64,<data>"
func parseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, _, _ = strings.Cut(meta, ";")
	return mediaType, data, true
}

func requiredList(v interface{}) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []interface{}:
		out := make([]string, 0, len(r))
		for _, item := range r {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
