package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/otto/internal/observability"
	"github.com/harun/otto/internal/tracing"
	"github.com/harun/otto/pkg/events"
	"github.com/harun/otto/pkg/lock"
	"github.com/harun/otto/pkg/notify"
	"github.com/harun/otto/pkg/session"
	"github.com/harun/otto/pkg/store"
	"github.com/harun/otto/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Acknowledge results
const (
	MessageAlreadyAcknowledged = "Request already acknowledged"
	MessageGranted             = "Request granted"
	MessageDenied              = "Request denied"
)

// Resumer continues the execution that owns a session
type Resumer interface {
	ResumeSession(ctx context.Context, sessionID string) error
}

// Coordinator creates and decides permission requests
type Coordinator struct {
	store     store.Store
	sessions  *session.Repository
	resumer   Resumer
	sink      notify.Sink
	publisher events.Publisher
	locker    lock.Locker
	logger    zerolog.Logger
}

// Config holds coordinator dependencies. Sink, Publisher and Locker are
// optional.
type Config struct {
	Store     store.Store
	Resumer   Resumer
	Sink      notify.Sink
	Publisher events.Publisher
	Locker    lock.Locker
	Logger    zerolog.Logger
}

// New creates a coordinator
func New(cfg Config) *Coordinator {
	observability.EnsureRegistered()

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Coordinator{
		store:     cfg.Store,
		sessions:  session.NewRepository(cfg.Store),
		resumer:   cfg.Resumer,
		sink:      cfg.Sink,
		publisher: publisher,
		locker:    cfg.Locker,
		logger:    cfg.Logger.With().Str("component", "permission").Logger(),
	}
}

// SetResumer wires the resumer after construction
func (c *Coordinator) SetResumer(r Resumer) {
	c.resumer = r
}

// Create stores a pending request for toolUseID. A request that already
// exists for the same tool_use is returned unchanged.
func (c *Coordinator) Create(ctx context.Context, sessionID, toolUseID string) (*Request, error) {
	existing, err := store.QueryAs[*Request](ctx, c.store, store.KindPermissionRequest,
		store.Eq("session", sessionID),
		store.Eq("tool_use_id", toolUseID),
	)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	req := &Request{
		ID:        newID(),
		SessionID: sessionID,
		ToolUseID: toolUseID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.Save(ctx, store.KindPermissionRequest, req.ID, req); err != nil {
		return nil, fmt.Errorf("failed to save permission request: %w", err)
	}

	observability.RecordPermissionRequest(strings.ToLower(string(StatusPending)))
	c.publish(ctx, req)
	log := tracing.LoggerFromContext(ctx, c.logger)
	log.Info().
		Str("request_id", req.ID).
		Str("tool_use_id", toolUseID).
		Msg("Permission requested")
	return req, nil
}

// Get loads a request
func (c *Coordinator) Get(ctx context.Context, id string) (*Request, error) {
	var req Request
	if err := c.store.Get(ctx, store.KindPermissionRequest, id, &req); err != nil {
		return nil, fmt.Errorf("failed to load permission request %s: %w", id, err)
	}
	return &req, nil
}

// ForSession lists a session's requests in creation order
func (c *Coordinator) ForSession(ctx context.Context, sessionID string) ([]*Request, error) {
	return store.QueryAs[*Request](ctx, c.store, store.KindPermissionRequest, store.Eq("session", sessionID))
}

// StatusMap maps each tool_use id with a request to its status
func (c *Coordinator) StatusMap(ctx context.Context, sessionID string) (map[string]Status, error) {
	reqs, err := c.ForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Status, len(reqs))
	for _, r := range reqs {
		out[r.ToolUseID] = r.Status
	}
	return out, nil
}

// Grant allows the tool_use, optionally replacing some of its args
func (c *Coordinator) Grant(ctx context.Context, id string, override map[string]interface{}) (string, error) {
	return c.Acknowledge(ctx, id, StatusGranted, override)
}

// Deny refuses the tool_use
func (c *Coordinator) Deny(ctx context.Context, id string) (string, error) {
	return c.Acknowledge(ctx, id, StatusDenied, nil)
}

// Acknowledge records a decision and resumes the owning execution. A
// request that is already decided is left alone. Overrides are only
// applied on grants; the tool_use keeps its original args beside them.
func (c *Coordinator) Acknowledge(ctx context.Context, id string, decision Status, override map[string]interface{}) (string, error) {
	if decision != StatusGranted && decision != StatusDenied {
		return "", fmt.Errorf("invalid decision %q", decision)
	}

	if c.locker != nil {
		release, err := c.locker.Acquire(ctx, store.KindPermissionRequest, id, "acknowledge")
		if err != nil {
			return "", err
		}
		defer release()
	}

	req, err := c.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if req.IsDecided() {
		return MessageAlreadyAcknowledged, nil
	}

	logger := tracing.LoggerFromContext(tracing.WithSessionID(ctx, req.SessionID), c.logger).With().
		Str("request_id", id).
		Str("tool_use_id", req.ToolUseID).
		Logger()

	if decision == StatusGranted && len(override) > 0 {
		found, err := c.sessions.SetOverride(ctx, req.SessionID, req.ToolUseID, override)
		if err != nil {
			return "", err
		}
		if !found {
			return "", fmt.Errorf("tool use %s not found in session %s", req.ToolUseID, req.SessionID)
		}
		req.ArgsUpdated = true
	}

	now := time.Now().UTC()
	req.Status = decision
	req.DecidedAt = &now
	req.DecidedBy = toolexecutor.ActorFromContext(ctx)
	if err := c.store.Save(ctx, store.KindPermissionRequest, req.ID, req); err != nil {
		return "", fmt.Errorf("failed to save permission request: %w", err)
	}

	observability.RecordPermissionRequest(strings.ToLower(string(decision)))
	observability.RecordPermissionAudit(ctx, req.ID, req.DecidedBy, string(decision), map[string]interface{}{
		"session":      req.SessionID,
		"tool_use_id":  req.ToolUseID,
		"args_updated": req.ArgsUpdated,
	})
	c.publish(ctx, req)
	logger.Info().Str("decision", string(decision)).Bool("args_updated", req.ArgsUpdated).Msg("Permission acknowledged")

	if c.resumer != nil {
		if err := c.resumer.ResumeSession(ctx, req.SessionID); err != nil {
			return "", fmt.Errorf("decision saved but resume failed: %w", err)
		}
	}

	if decision == StatusGranted {
		return MessageGranted, nil
	}
	return MessageDenied, nil
}

// MarkViewed records that a human opened the request
func (c *Coordinator) MarkViewed(ctx context.Context, id string) error {
	req, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Viewed {
		return nil
	}
	req.Viewed = true
	return c.store.Save(ctx, store.KindPermissionRequest, req.ID, req)
}

func (c *Coordinator) publish(ctx context.Context, req *Request) {
	err := c.publisher.Publish(ctx, events.TopicPermission, events.PermissionChanged{
		RequestID: req.ID,
		SessionID: req.SessionID,
		ToolUseID: req.ToolUseID,
		Status:    string(req.Status),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to publish permission event")
	}
}
