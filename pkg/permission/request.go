package permission

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Status is a request's decision
type Status string

const (
	StatusPending Status = "Pending"
	StatusGranted Status = "Granted"
	StatusDenied  Status = "Denied"
)

// Request asks a human to allow one tool_use
type Request struct {
	ID        string `json:"id"`
	SessionID string `json:"session"`
	ToolUseID string `json:"tool_use_id"`
	Status    Status `json:"status"`
	// ArgsUpdated is set when the grant came with override args
	ArgsUpdated bool       `json:"args_updated"`
	Viewed      bool       `json:"viewed"`
	DecidedBy   string     `json:"decided_by,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsDecided reports whether the request was granted or denied
func (r *Request) IsDecided() bool {
	return r.Status != StatusPending
}

func newID() string {
	id, _ := gonanoid.New()
	return id
}
