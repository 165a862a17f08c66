package llm

import (
	"github.com/harun/otto/pkg/session"
)

// Render converts the active path into chat messages with the system prompt
// first. Tool results follow their assistant message as separate tool
// messages. Thinking is dropped unless keepThinking is set.
func Render(path []*session.Item, system string, keepThinking bool) []Message {
	messages := make([]Message, 0, len(path)+1)
	if system != "" {
		messages = append(messages, Message{
			Role:  RoleSystem,
			Parts: []Part{{Type: session.ContentText, Text: system}},
		})
	}

	for _, it := range path {
		msg := Message{Role: RoleUser}
		if it.Role == session.RoleAgent {
			msg.Role = RoleAssistant
		}

		var results []Message
		for _, c := range it.Content {
			switch c.Type {
			case session.ContentText:
				msg.Parts = append(msg.Parts, Part{Type: c.Type, Text: c.Text})
			case session.ContentImage:
				msg.Parts = append(msg.Parts, Part{Type: c.Type, URL: c.URL, Data: c.Data})
			case session.ContentFile:
				msg.Parts = append(msg.Parts, Part{Type: c.Type, Name: c.Name, Data: c.Data})
			case session.ContentThinking:
				if keepThinking {
					msg.Parts = append(msg.Parts, Part{Type: c.Type, Text: c.Text, Signature: c.Signature})
				}
			case session.ContentToolUse:
				// the model sees its own args; overrides only change execution
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: c.ID, Name: c.Name, Args: c.Args})
				if c.Status != session.ToolPending {
					results = append(results, Message{
						Role:       RoleTool,
						ToolCallID: c.ID,
						Parts:      []Part{{Type: session.ContentText, Text: c.ResultString()}},
						IsError:    c.Status == session.ToolError,
					})
				}
			}
		}

		messages = append(messages, msg)
		messages = append(messages, results...)
	}

	return messages
}
