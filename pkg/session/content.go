package session

import (
	"encoding/json"
	"strings"
	"time"
)

// ContentType tags a Content block
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentFile     ContentType = "file"
	ContentThinking ContentType = "thinking"
	ContentToolUse  ContentType = "tool_use"
)

// ToolStatus is the lifecycle state of a tool_use block
type ToolStatus string

const (
	ToolPending ToolStatus = "pending"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// Content is a tagged union over text, image, file, thinking and tool_use.
// Only the fields relevant to Type are populated.
type Content struct {
	Type ContentType `json:"type"`

	// text, thinking
	Text string `json:"text,omitempty"`
	// thinking
	Signature string `json:"signature,omitempty"`
	// image
	URL string `json:"url,omitempty"`
	// image, file (data URL)
	Data string `json:"data,omitempty"`
	// file, tool_use
	Name string `json:"name,omitempty"`

	// tool_use
	ID        string                 `json:"id,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Override  map[string]interface{} `json:"override,omitempty"`
	Status    ToolStatus             `json:"status,omitempty"`
	Result    *string                `json:"result,omitempty"`
	Stdout    *string                `json:"stdout,omitempty"`
	Stderr    *string                `json:"stderr,omitempty"`
	StartTime *time.Time             `json:"start_time,omitempty"`
	EndTime   *time.Time             `json:"end_time,omitempty"`
}

// NewText creates a text block
func NewText(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// NewThinking creates a thinking block. Signature may be empty.
func NewThinking(text, signature string) Content {
	return Content{Type: ContentThinking, Text: text, Signature: signature}
}

// NewImage creates an image block from a URL or a data URL
func NewImage(url, data string) Content {
	return Content{Type: ContentImage, URL: url, Data: data}
}

// NewFile creates a file block from a data URL
func NewFile(name, data string) Content {
	return Content{Type: ContentFile, Name: name, Data: data}
}

// NewToolUse creates a pending tool_use block
func NewToolUse(id, name string, args map[string]interface{}) Content {
	if args == nil {
		args = map[string]interface{}{}
	}
	return Content{
		Type:   ContentToolUse,
		ID:     id,
		Name:   name,
		Args:   args,
		Status: ToolPending,
	}
}

// IsToolUse reports whether c is a tool_use block
func (c Content) IsToolUse() bool {
	return c.Type == ContentToolUse
}

// IsPending reports whether c is a tool_use block still awaiting a result
func (c Content) IsPending() bool {
	return c.Type == ContentToolUse && c.Status == ToolPending
}

// EffectiveArgs returns Args with any human override merged on top.
// The stored Args are never modified.
func (c Content) EffectiveArgs() map[string]interface{} {
	merged := make(map[string]interface{}, len(c.Args)+len(c.Override))
	for k, v := range c.Args {
		merged[k] = v
	}
	for k, v := range c.Override {
		merged[k] = v
	}
	return merged
}

// ResultString returns the result or "" when unset
func (c Content) ResultString() string {
	if c.Result == nil {
		return ""
	}
	return *c.Result
}

func (c Content) clone() Content {
	out := c
	out.Args = cloneMap(c.Args)
	out.Override = cloneMap(c.Override)
	out.Result = cloneString(c.Result)
	out.Stdout = cloneString(c.Stdout)
	out.Stderr = cloneString(c.Stderr)
	out.StartTime = cloneTime(c.StartTime)
	out.EndTime = cloneTime(c.EndTime)
	return out
}

// ToContent converts raw user input into content blocks.
// Data URLs become image or file blocks, http image links become image
// blocks, and everything else is text.
func ToContent(inputs ...string) []Content {
	content := make([]Content, 0, len(inputs))
	for _, in := range inputs {
		lower := strings.ToLower(in)
		switch {
		case strings.HasPrefix(lower, "data:image/"):
			content = append(content, NewImage("", in))
		case strings.HasPrefix(lower, "data:application/"):
			content = append(content, NewFile("", in))
		case strings.HasPrefix(lower, "http") && hasImageSuffix(lower):
			content = append(content, NewImage(in, ""))
		default:
			content = append(content, NewText(in))
		}
	}
	return content
}

func hasImageSuffix(s string) bool {
	for _, ext := range []string{".png", ".jpg", ".jpeg"} {
		if strings.HasSuffix(s, ext) {
			return true
		}
	}
	return false
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	// args are JSON-shaped; a JSON round trip gives a deep copy
	data, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
