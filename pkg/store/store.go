package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("document not found")

// Document kinds
const (
	KindSession           = "session"
	KindExecution         = "execution"
	KindPermissionRequest = "permission_request"
	KindTask              = "task"
	KindTool              = "tool"
	KindAssignment        = "assignment"
	KindNotification      = "notification"
)

// Filter matches documents whose JSON field equals Value. Field may be a
// dotted path such as "meta.model".
type Filter struct {
	Field string
	Value interface{}
}

// Eq builds an equality filter
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Value: value}
}

// Store is a JSON document store
type Store interface {
	// Get decodes the document into dest, or returns ErrNotFound
	Get(ctx context.Context, kind, id string, dest interface{}) error
	// Save inserts or replaces the document
	Save(ctx context.Context, kind, id string, doc interface{}) error
	// Query returns matching documents ordered by creation time
	Query(ctx context.Context, kind string, filters ...Filter) ([]json.RawMessage, error)
	// Delete removes the document, or returns ErrNotFound
	Delete(ctx context.Context, kind, id string) error
	Close() error
}

// QueryAs runs Query and decodes every match into T
func QueryAs[T any](ctx context.Context, s Store, kind string, filters ...Filter) ([]T, error) {
	raw, err := s.Query(ctx, kind, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Exists reports whether a document is stored
func Exists(ctx context.Context, s Store, kind, id string) (bool, error) {
	var discard json.RawMessage
	err := s.Get(ctx, kind, id, &discard)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
