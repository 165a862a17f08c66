package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/harun/otto/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit record kinds
const (
	AuditTool       = "tool"
	AuditPermission = "permission"
	AuditExecution  = "execution"
)

// AuditEvent is one line of the audit trail. Execution, session and task
// are filled from the context when empty.
type AuditEvent struct {
	Kind        string                 `json:"kind"`
	Time        time.Time              `json:"time"`
	Actor       string                 `json:"actor,omitempty"`
	Action      string                 `json:"action"`
	Outcome     string                 `json:"outcome"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	Task        string                 `json:"task,omitempty"`
	TraceID     string                 `json:"trace_id,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AuditLogger writes AuditEvents as JSON lines
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// NewAuditLogger writes to w
func NewAuditLogger(w io.Writer) *AuditLogger {
	a := &AuditLogger{logger: zerolog.New(w)}
	if c, ok := w.(io.Closer); ok {
		a.closer = c
	}
	return a
}

var (
	auditMu   sync.RWMutex
	auditInst = &AuditLogger{logger: zerolog.Nop()}
)

// GetAuditLogger returns the process audit logger. It discards events until
// InitAuditLogger or SetAuditLogger is called.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// SetAuditLogger replaces the process audit logger
func SetAuditLogger(a *AuditLogger) {
	auditMu.Lock()
	auditInst = a
	auditMu.Unlock()
}

// InitAuditLogger appends the audit trail to path
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	SetAuditLogger(NewAuditLogger(file))
	return nil
}

// Record writes event and mirrors it onto the active span
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if event.ExecutionID == "" {
		event.ExecutionID = tracing.GetExecutionID(ctx)
	}
	if event.SessionID == "" {
		event.SessionID = tracing.GetSessionID(ctx)
	}
	if event.Task == "" {
		event.Task = tracing.GetTask(ctx)
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+event.Action, trace.WithAttributes(
			attribute.String("audit.kind", event.Kind),
			attribute.String("audit.outcome", event.Outcome),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Log().
		Time("time", event.Time).
		Str("kind", event.Kind).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("outcome", event.Outcome).
		Str("execution_id", event.ExecutionID).
		Str("session_id", event.SessionID).
		Str("task", event.Task).
		Str("trace_id", event.TraceID).
		Fields(event.Metadata).
		Send()
}

// Close closes the underlying file, if any
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// RecordToolAudit records a tool run on behalf of actor
func RecordToolAudit(ctx context.Context, tool, actor, outcome string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     AuditTool,
		Actor:    actor,
		Action:   "run:" + tool,
		Outcome:  outcome,
		Metadata: metadata,
	})
}

// RecordPermissionAudit records a human decision on a permission request
func RecordPermissionAudit(ctx context.Context, requestID, actor, decision string, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["request_id"] = requestID
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     AuditPermission,
		Actor:    actor,
		Action:   "acknowledge",
		Outcome:  decision,
		Metadata: metadata,
	})
}

// RecordExecutionAudit records who started or retried an execution
func RecordExecutionAudit(ctx context.Context, executionID, actor, action, status string) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:        AuditExecution,
		Actor:       actor,
		Action:      action,
		Outcome:     status,
		ExecutionID: executionID,
	})
}
