package session

import (
	"context"
	"fmt"

	"github.com/harun/otto/pkg/store"
)

// Repository persists sessions in their storage form
type Repository struct {
	store store.Store
}

// NewRepository creates a repository backed by s
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Load reads a session. Missing sessions wrap store.ErrNotFound.
func (r *Repository) Load(ctx context.Context, id string) (*Session, error) {
	var rec Record
	if err := r.store.Get(ctx, store.KindSession, id, &rec); err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return FromRecord(rec)
}

// Save writes the session
func (r *Repository) Save(ctx context.Context, s *Session) error {
	if err := r.store.Save(ctx, store.KindSession, s.ID, s.ToRecord()); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return nil
}

// SetOverride loads the session, stores override args on the tool_use and
// saves it. It reports whether the tool_use was found.
func (r *Repository) SetOverride(ctx context.Context, sessionID, toolUseID string, override map[string]interface{}) (bool, error) {
	s, err := r.Load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !s.SetOverride(toolUseID, override) {
		return false, nil
	}
	return true, r.Save(ctx, s)
}

// SetActive flips the is_active flag and records reason
func (r *Repository) SetActive(ctx context.Context, sessionID string, active bool, reason string) error {
	s, err := r.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	s.IsActive = active
	s.Reason = reason
	return r.Save(ctx, s)
}
