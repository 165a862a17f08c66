package llm

import (
	"github.com/harun/otto/pkg/session"
)

// Message roles in provider-neutral chat form
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons normalized by every Provider
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// Part is one piece of message content
type Part struct {
	Type      session.ContentType
	Text      string
	Signature string
	URL       string
	Data      string
	Name      string
}

// ToolCall is a function call requested by the model
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// Message is a chat message in OpenAI chat-completion shape
type Message struct {
	Role       string
	Parts      []Part
	ToolCalls  []ToolCall
	ToolCallID string
	// IsError marks a tool message that carries a failure
	IsError bool
}

// Text joins the text parts of the message
func (m Message) Text() string {
	out := ""
	for _, p := range m.Parts {
		if p.Type == session.ContentText {
			out += p.Text
		}
	}
	return out
}

// Request is what a Provider needs for one streamed completion
type Request struct {
	// Model without the provider prefix
	Model    string
	System   string
	Messages []Message
	Tools    []session.ToolSchema
	// ReasoningEffort is sent as a textual hint when set
	ReasoningEffort string
	// ThinkingBudget is the token budget for providers with explicit thinking
	ThinkingBudget int
	MaxTokens      int
}

// Delta is one streamed increment. Exactly one field is set.
type Delta struct {
	Text         string
	Thinking     string
	ToolCallName string
}

// Thinking is a completed reasoning block
type Thinking struct {
	Text      string
	Signature string
}

// Usage counts tokens for one completion
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Summary is the fully accumulated completion
type Summary struct {
	Text      string
	ToolCalls []ToolCall
	Thinking  []Thinking
	Usage     Usage
	// Cost in USD when the provider reports it
	Cost         *float64
	FinishReason string
}

// ChunkType classifies a Chunk
type ChunkType string

const (
	ChunkSystem   ChunkType = "system"
	ChunkText     ChunkType = "text"
	ChunkThinking ChunkType = "thinking"
	ChunkToolUse  ChunkType = "tool_use"
)

// Chunk messages
const (
	MessageStart   = "start"
	MessageEnd     = "end"
	MessageError   = "error"
	MessageContent = "content"
)

// Chunk is one streamed event of an interaction. System chunks frame the
// stream; content chunks carry text, thinking or a tool name.
type Chunk struct {
	Type      ChunkType `json:"type"`
	Message   string    `json:"message"`
	Content   string    `json:"content"`
	ItemID    string    `json:"item_id"`
	SessionID string    `json:"session_id"`
}

// InteractRequest describes one turn. Session or Input must be set.
// Empty Model, System, Tools and ReasoningEffort fall back to the
// session's config.
type InteractRequest struct {
	Session         *session.Session
	Input           []session.Content
	Model           string
	System          string
	Tools           []session.ToolSchema
	ReasoningEffort session.ReasoningEffort
}

// InteractResult is the outcome of a successful turn
type InteractResult struct {
	// Session is a new copy holding the committed agent item
	Session *session.Session
	Item    *session.Item
	// Chunks are the content chunks in emission order
	Chunks []Chunk
}

// Price is the USD cost per million tokens
type Price struct {
	Input  float64
	Output float64
}
