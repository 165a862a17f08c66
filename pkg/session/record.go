package session

import (
	"fmt"
	"sort"
)

// RecordItem is an item in storage form
type RecordItem struct {
	Item
	// Selected marks items on the active path
	Selected bool `json:"selected"`
}

// Record is the storage form of a Session. Items on the active path come
// first, in path order, followed by every other item ordered by timestamp.
type Record struct {
	ID       string       `json:"id"`
	First    string       `json:"first"`
	Config   Config       `json:"config"`
	IsActive bool         `json:"is_active"`
	Reason   string       `json:"reason,omitempty"`
	Items    []RecordItem `json:"items"`
}

// ToRecord converts the session to its storage form
func (s *Session) ToRecord() Record {
	rec := Record{
		ID:       s.ID,
		First:    s.First,
		Config:   s.Config,
		IsActive: s.IsActive,
		Reason:   s.Reason,
		Items:    make([]RecordItem, 0, len(s.Items)),
	}

	onPath := make(map[string]bool)
	for _, it := range s.ActivePath() {
		onPath[it.ID] = true
		rec.Items = append(rec.Items, RecordItem{Item: *it.Clone(), Selected: true})
	}

	rest := make([]*Item, 0, len(s.Items)-len(onPath))
	for id, it := range s.Items {
		if !onPath[id] {
			rest = append(rest, it)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Meta.Timestamp.Equal(rest[j].Meta.Timestamp) {
			return rest[i].ID < rest[j].ID
		}
		return rest[i].Meta.Timestamp.Before(rest[j].Meta.Timestamp)
	})
	for _, it := range rest {
		rec.Items = append(rec.Items, RecordItem{Item: *it.Clone()})
	}

	return rec
}

// FromRecord rebuilds a session from storage form
func FromRecord(rec Record) (*Session, error) {
	s := &Session{
		ID:       rec.ID,
		First:    rec.First,
		Config:   rec.Config,
		IsActive: rec.IsActive,
		Reason:   rec.Reason,
		Items:    make(map[string]*Item, len(rec.Items)),
	}
	s.Config.ReasoningEffort = ParseEffort(string(s.Config.ReasoningEffort))

	for _, ri := range rec.Items {
		if _, dup := s.Items[ri.ID]; dup {
			return nil, fmt.Errorf("%w: item %s stored twice", ErrInvariant, ri.ID)
		}
		it := ri.Item.Clone()
		if it.Next == nil {
			it.Next = []string{}
		}
		if it.Content == nil {
			it.Content = []Content{}
		}
		s.Items[it.ID] = it
	}

	if s.First != "" {
		if _, ok := s.Items[s.First]; !ok {
			return nil, fmt.Errorf("%w: first item %s missing", ErrInvariant, s.First)
		}
	}

	return s, nil
}
