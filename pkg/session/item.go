package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the author of an Item
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// EndReason records why the model ended its turn. Empty means unknown.
type EndReason string

const (
	EndTurn    EndReason = "turn_end"
	EndToolUse EndReason = "tool_use"
)

// Meta holds accounting and timing for an Item
type Meta struct {
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	Timestamp    time.Time `json:"timestamp"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	EndReason    EndReason `json:"end_reason,omitempty"`
	// Seconds from request start to the first streamed chunk
	TimeToFirstChunk float64 `json:"time_to_first_chunk"`
	// Mean seconds between streamed chunks
	InterChunkLatency float64 `json:"inter_chunk_latency"`
}

// Item is one node of the session tree
type Item struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Content      []Content `json:"content"`
	Next         []string  `json:"next"`
	SelectedNext int       `json:"selected_next"`
	Meta         Meta      `json:"meta"`
}

// NewID returns a dash-free random id
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewUserItem creates a user item holding content
func NewUserItem(content ...Content) *Item {
	return newItem(RoleUser, "", content)
}

// NewAgentItem creates an empty agent item for model
func NewAgentItem(model string) *Item {
	return newItem(RoleAgent, model, nil)
}

func newItem(role Role, model string, content []Content) *Item {
	if content == nil {
		content = []Content{}
	}
	return &Item{
		ID:      NewID(),
		Role:    role,
		Content: content,
		Next:    []string{},
		Meta: Meta{
			Model:     model,
			Timestamp: now(),
		},
	}
}

// ToolUses returns the tool_use blocks of the item in emission order
func (it *Item) ToolUses() []Content {
	var out []Content
	for _, c := range it.Content {
		if c.IsToolUse() {
			out = append(out, c)
		}
	}
	return out
}

// PendingToolUses returns the tool_use blocks still awaiting a result
func (it *Item) PendingToolUses() []Content {
	var out []Content
	for _, c := range it.Content {
		if c.IsPending() {
			out = append(out, c)
		}
	}
	return out
}

// HasToolUse reports whether the item requested the named tool
func (it *Item) HasToolUse(name string) bool {
	for _, c := range it.Content {
		if c.IsToolUse() && c.Name == name {
			return true
		}
	}
	return false
}

// Text concatenates the text blocks of the item
func (it *Item) Text() string {
	var b strings.Builder
	for _, c := range it.Content {
		if c.Type == ContentText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Clone returns a deep copy of the item
func (it *Item) Clone() *Item {
	out := *it
	out.Next = append([]string{}, it.Next...)
	out.Content = make([]Content, len(it.Content))
	for i, c := range it.Content {
		out.Content[i] = c.clone()
	}
	return &out
}

// now is UTC without a monotonic reading so stored times compare equal after
// a JSON round trip.
func now() time.Time {
	return time.Now().UTC()
}
