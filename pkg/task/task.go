package task

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/harun/otto/pkg/session"
	"github.com/harun/otto/pkg/toolexecutor"
)

// Event names the document event a task listens for
type Event string

const (
	EventCreate Event = "On Create"
	EventUpdate Event = "On Update"
	EventDelete Event = "On Delete"
	EventSubmit Event = "On Submit"
	EventCancel Event = "On Cancel"
	EventManual Event = "Manual"
)

// hookEvents maps document hook names to events
var hookEvents = map[string]Event{
	"after_insert": EventCreate,
	"on_update":    EventUpdate,
	"on_delete":    EventDelete,
	"on_submit":    EventSubmit,
	"on_cancel":    EventCancel,
	"manual":       EventManual,
}

// ParseEvent accepts an event label or a document hook name
func ParseEvent(s string) (Event, bool) {
	if e, ok := hookEvents[s]; ok {
		return e, true
	}
	switch e := Event(s); e {
	case EventCreate, EventUpdate, EventDelete, EventSubmit, EventCancel, EventManual:
		return e, true
	}
	return "", false
}

// ToolRef attaches a tool to a task
type ToolRef struct {
	// Tool is the slug the tool is stored under
	Tool string `json:"tool" yaml:"tool"`
	// Slug renames the tool for this task's sessions
	Slug string `json:"slug,omitempty" yaml:"slug,omitempty"`
	// Env is a JSON object exposed to the script as otto.env
	Env     string `json:"env,omitempty" yaml:"env,omitempty"`
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled defaults to true
func (r ToolRef) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Task drives one kind of execution
type Task struct {
	Name       string `json:"name" yaml:"name"`
	Title      string `json:"title" yaml:"title"`
	Event      Event  `json:"event" yaml:"event"`
	TargetKind string `json:"target_kind,omitempty" yaml:"target_kind,omitempty"`
	NoTarget   bool   `json:"no_target" yaml:"no_target"`
	// Condition is a python expression over doc, or a script defining
	// condition(doc)
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	// GetContext is a script defining get_context(doc, event)
	GetContext      string                  `json:"get_context,omitempty" yaml:"get_context,omitempty"`
	Instruction     string                  `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	LLM             string                  `json:"llm,omitempty" yaml:"llm,omitempty"`
	ReasoningEffort session.ReasoningEffort `json:"reasoning_effort" yaml:"reasoning_effort"`
	Enabled         *bool                   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Tools           []ToolRef               `json:"tools" yaml:"tools"`
}

// IsEnabled defaults to true
func (t *Task) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// Validate normalizes the task and rejects definitions that cannot run
func (t *Task) Validate() error {
	if t.Name == "" {
		t.Name = slugify(t.Title)
	}
	if t.Name == "" {
		return errors.New("task needs a name or title")
	}
	if t.Title == "" {
		t.Title = t.Name
	}

	if t.NoTarget && strings.TrimSpace(t.GetContext) == "" {
		return errors.New("get_context cannot be empty if No Target is set")
	}
	if t.TargetKind == "" && !t.NoTarget {
		return fmt.Errorf("task %s needs a target kind unless no_target is set", t.Name)
	}

	for i, ref := range t.Tools {
		if ref.Tool == "" {
			return fmt.Errorf("tool %d of task %s has no tool", i+1, t.Name)
		}
		if ref.Slug != "" && toolexecutor.IsMetaTool(ref.Slug) {
			return fmt.Errorf("slug cannot be named %q as it is a meta tool", ref.Slug)
		}
	}

	if t.NoTarget {
		t.TargetKind = ""
		t.Event = EventManual
	}
	if t.Event == "" {
		t.Event = EventManual
	}
	event, ok := ParseEvent(string(t.Event))
	if !ok {
		return fmt.Errorf("unknown event %q", t.Event)
	}
	t.Event = event

	t.ReasoningEffort = session.ParseEffort(string(t.ReasoningEffort))
	if t.LLM == "" {
		t.ReasoningEffort = session.EffortNone
	}
	return nil
}

func slugify(title string) string {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "_")
}
