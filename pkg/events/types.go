package events

import (
	"encoding/json"
	"time"
)

// StatusChanged is published on TopicExecutionStatus
type StatusChanged struct {
	ExecutionID string    `json:"execution_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// PermissionChanged is published on TopicPermission when a request is
// created or decided
type PermissionChanged struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	ToolUseID string `json:"tool_use_id"`
	Status    string `json:"status"`
}

// DocumentEvent is published on TopicDocuments by whatever owns the
// document; enabled tasks listening for Kind and Event are triggered.
type DocumentEvent struct {
	Kind  string          `json:"kind"`
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Doc   json.RawMessage `json:"doc,omitempty"`
}
