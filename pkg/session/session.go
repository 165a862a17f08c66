package session

import (
	"errors"
	"fmt"
)

// ErrInvariant is returned when an operation would break the tree shape.
// It signals a programming error; callers should not try to recover.
var ErrInvariant = errors.New("session invariant violated")

// ReasoningEffort selects how much thinking the model may spend
type ReasoningEffort string

const (
	EffortNone   ReasoningEffort = "None"
	EffortLow    ReasoningEffort = "Low"
	EffortMedium ReasoningEffort = "Medium"
	EffortHigh   ReasoningEffort = "High"
)

// ParseEffort normalizes effort, mapping anything unknown to EffortNone
func ParseEffort(effort string) ReasoningEffort {
	switch ReasoningEffort(effort) {
	case EffortLow, EffortMedium, EffortHigh:
		return ReasoningEffort(effort)
	default:
		return EffortNone
	}
}

// ToolSchema is a function definition offered to the model
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Config holds the interaction settings a session was created with
type Config struct {
	Model           string          `json:"model"`
	Instruction     string          `json:"instruction,omitempty"`
	ReasoningEffort ReasoningEffort `json:"reasoning_effort"`
	Tools           []ToolSchema    `json:"tools,omitempty"`
}

// Session is the arena holding every item of a conversation tree
type Session struct {
	ID     string           `json:"id"`
	First  string           `json:"first"`
	Items  map[string]*Item `json:"items"`
	Config Config           `json:"config"`

	// IsActive is set while an interaction is in flight
	IsActive bool `json:"is_active"`
	// Reason holds the last interaction failure, if any
	Reason string `json:"reason,omitempty"`
}

// New creates an empty session. The first item is added on first input.
func New(cfg Config) *Session {
	cfg.ReasoningEffort = ParseEffort(string(cfg.ReasoningEffort))
	return &Session{
		ID:     NewID(),
		Items:  make(map[string]*Item),
		Config: cfg,
	}
}

// IsEmpty reports whether the session has no reachable first item
func (s *Session) IsEmpty() bool {
	if s == nil || s.First == "" {
		return true
	}
	_, ok := s.Items[s.First]
	return !ok
}

// Clone returns a deep copy that can be mutated without affecting s
func (s *Session) Clone() *Session {
	out := *s
	out.Items = make(map[string]*Item, len(s.Items))
	for id, it := range s.Items {
		out.Items[id] = it.Clone()
	}
	out.Config.Tools = append([]ToolSchema(nil), s.Config.Tools...)
	return &out
}

// ActivePath walks from First following each SelectedNext. It returns nil for
// an empty session. The walk stops at the first item whose selection points
// past its children, at a dangling child id, or at an item already visited.
func (s *Session) ActivePath() []*Item {
	if s.IsEmpty() {
		return nil
	}

	visited := make(map[string]bool)
	current := s.Items[s.First]
	path := []*Item{}

	for current != nil && !visited[current.ID] {
		visited[current.ID] = true
		path = append(path, current)

		if current.SelectedNext < 0 || current.SelectedNext >= len(current.Next) {
			break
		}
		current = s.Items[current.Next[current.SelectedNext]]
	}

	return path
}

// LastID returns the terminal id of the active path, or "" when empty
func (s *Session) LastID() string {
	path := s.ActivePath()
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1].ID
}

// LastItem returns the terminal item of the active path
func (s *Session) LastItem() *Item {
	path := s.ActivePath()
	if len(path) == 0 {
		return nil
	}
	return path[len(path)-1]
}

// LastAgentItem returns the last agent item on the active path
func (s *Session) LastAgentItem() *Item {
	path := s.ActivePath()
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Role == RoleAgent {
			return path[i]
		}
	}
	return nil
}

// Append adds item as the newest child of parentID and selects it.
// On an empty session parentID must be "" and the item becomes First.
func (s *Session) Append(parentID string, item *Item) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: item id is required", ErrInvariant)
	}
	if _, exists := s.Items[item.ID]; exists {
		return fmt.Errorf("%w: item %s already exists", ErrInvariant, item.ID)
	}
	if s.Items == nil {
		s.Items = make(map[string]*Item)
	}

	if parentID == "" {
		if !s.IsEmpty() {
			return fmt.Errorf("%w: parent is required on a non-empty session", ErrInvariant)
		}
		s.First = item.ID
		s.Items[item.ID] = item
		return nil
	}

	parent, ok := s.Items[parentID]
	if !ok {
		return fmt.Errorf("%w: unknown parent %s", ErrInvariant, parentID)
	}
	for _, child := range parent.Next {
		if child == item.ID {
			return fmt.Errorf("%w: item %s is already a child of %s", ErrInvariant, item.ID, parentID)
		}
	}

	parent.Next = append(parent.Next, item.ID)
	parent.SelectedNext = len(parent.Next) - 1
	s.Items[item.ID] = item
	return nil
}

// AppendToLast appends item under the current active leaf
func (s *Session) AppendToLast(item *Item) error {
	return s.Append(s.LastID(), item)
}

// Select makes child the active branch under parentID
func (s *Session) Select(parentID, childID string) error {
	parent, ok := s.Items[parentID]
	if !ok {
		return fmt.Errorf("%w: unknown parent %s", ErrInvariant, parentID)
	}
	for i, child := range parent.Next {
		if child == childID {
			parent.SelectedNext = i
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not a child of %s", ErrInvariant, childID, parentID)
}

// AgentItemCount counts agent items across all branches
func (s *Session) AgentItemCount() int {
	count := 0
	for _, it := range s.Items {
		if it.Role == RoleAgent {
			count++
		}
	}
	return count
}

// FindToolUse returns the tool_use block with id from any branch
func (s *Session) FindToolUse(id string) (Content, bool) {
	for _, it := range s.Items {
		for _, c := range it.Content {
			if c.IsToolUse() && c.ID == id {
				return c, true
			}
		}
	}
	return Content{}, false
}

// SetOverride stores human-provided args on the tool_use block with id.
// The original args are kept untouched.
func (s *Session) SetOverride(toolUseID string, override map[string]interface{}) bool {
	for _, it := range s.Items {
		if it.Role != RoleAgent {
			continue
		}
		for i := range it.Content {
			c := &it.Content[i]
			if c.IsToolUse() && c.ID == toolUseID {
				c.Override = cloneMap(override)
				return true
			}
		}
	}
	return false
}
