package execution

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of an execution
type Status string

const (
	StatusPending Status = "Pending"
	StatusWaiting Status = "Waiting"
	StatusRunning Status = "Running"
	StatusSuccess Status = "Success"
	StatusFailure Status = "Failure"
)

// Failure reasons
const (
	ReasonMaxLLMCalls       = "Max LLM calls reached"
	ReasonNoOutputTokens    = "No output tokens"
	ReasonPermissionDenied  = "Permission to use tool denied by user"
	reasonInteractionFailed = "Interaction errored out: "
	reasonRunToolsFailed    = "Error in run_tools: "
)

// ErrRetryUnavailable is returned when retrying an execution that has not failed
var ErrRetryUnavailable = errors.New("Retry available only for failed sessions")

// ErrInvalidTransition is returned for a status change the lifecycle forbids
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists the statuses each status may move to. Failure may
// only return to Pending through Retry.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailure},
	StatusRunning: {StatusWaiting, StatusSuccess, StatusFailure},
	StatusWaiting: {StatusRunning, StatusFailure},
	StatusFailure: {StatusPending},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further step will run
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Execution is one run of a task
type Execution struct {
	ID        string `json:"id"`
	Task      string `json:"task"`
	SessionID string `json:"session"`

	TargetKind string `json:"target_kind,omitempty"`
	Target     string `json:"target,omitempty"`
	// TargetDoc is the target snapshot taken when the execution started
	TargetDoc json.RawMessage `json:"target_doc,omitempty"`
	Event     string          `json:"event,omitempty"`
	// Input replaces the resolved context when set
	Input []string `json:"input,omitempty"`
	// Actor runs ungated tools; gated tools run as the user who granted them
	Actor string `json:"actor,omitempty"`

	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewID returns a time-ordered execution id
func NewID() string {
	return ulid.Make().String()
}

func (e *Execution) setStatus(status Status, reason string) error {
	if !CanTransition(e.Status, status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, e.Status, status)
	}
	e.Status = status
	e.Reason = reason
	e.UpdatedAt = time.Now().UTC()
	return nil
}
