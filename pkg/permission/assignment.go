package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/otto/pkg/store"
)

// Assignment statuses
const (
	AssignmentOpen      = "Open"
	AssignmentCancelled = "Cancelled"
)

// Assignment links a user to a document. Users assigned to a request's
// task, tool, execution, session or target are notified about it.
type Assignment struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	RefKind   string    `json:"ref_kind"`
	RefID     string    `json:"ref_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Assign links user to (refKind, refID). Assigning twice reopens and
// returns the existing assignment.
func (c *Coordinator) Assign(ctx context.Context, user, refKind, refID string) (*Assignment, error) {
	if user == "" || refKind == "" || refID == "" {
		return nil, errors.New("user, ref kind and ref id are required")
	}

	existing, err := store.QueryAs[*Assignment](ctx, c.store, store.KindAssignment,
		store.Eq("user", user),
		store.Eq("ref_kind", refKind),
		store.Eq("ref_id", refID),
	)
	if err != nil {
		return nil, err
	}

	a := &Assignment{
		ID:        newID(),
		User:      user,
		RefKind:   refKind,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	}
	if len(existing) > 0 {
		a = existing[0]
	}
	a.Status = AssignmentOpen

	if err := c.store.Save(ctx, store.KindAssignment, a.ID, a); err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}
	return a, nil
}

// Unassign cancels a user's assignment, if any
func (c *Coordinator) Unassign(ctx context.Context, user, refKind, refID string) error {
	existing, err := store.QueryAs[*Assignment](ctx, c.store, store.KindAssignment,
		store.Eq("user", user),
		store.Eq("ref_kind", refKind),
		store.Eq("ref_id", refID),
	)
	if err != nil {
		return err
	}
	for _, a := range existing {
		a.Status = AssignmentCancelled
		if err := c.store.Save(ctx, store.KindAssignment, a.ID, a); err != nil {
			return err
		}
	}
	return nil
}

// assignees returns the open assignees of (refKind, refID)
func (c *Coordinator) assignees(ctx context.Context, refKind, refID string) ([]string, error) {
	if refKind == "" || refID == "" {
		return nil, nil
	}
	list, err := store.QueryAs[*Assignment](ctx, c.store, store.KindAssignment,
		store.Eq("ref_kind", refKind),
		store.Eq("ref_id", refID),
	)
	if err != nil {
		return nil, err
	}

	users := make([]string, 0, len(list))
	for _, a := range list {
		if a.Status != AssignmentCancelled {
			users = append(users, a.User)
		}
	}
	return users, nil
}
