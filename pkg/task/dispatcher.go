package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/otto/internal/tracing"
	"github.com/harun/otto/pkg/events"
	"github.com/harun/otto/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Target is the document a task runs against
type Target struct {
	Kind string
	ID   string
	// Doc is the document snapshot the execution works from
	Doc json.RawMessage
}

// StartRequest asks a Starter to create and enqueue an execution
type StartRequest struct {
	Task   *Task
	Target Target
	Event  Event
	// Input replaces the resolved context when set
	Input []string
	// Model, ReasoningEffort and Instruction override the task's settings
	Model           string
	ReasoningEffort string
	Instruction     string
}

// Starter creates executions. It returns the new execution id.
type Starter interface {
	Start(ctx context.Context, req StartRequest) (string, error)
}

// Dispatcher turns document events into executions
type Dispatcher struct {
	catalog *Catalog
	runner  toolexecutor.Runner
	starter Starter
	logger  zerolog.Logger
}

// DispatcherConfig holds dispatcher dependencies
type DispatcherConfig struct {
	Catalog *Catalog
	// Runner evaluates conditions
	Runner  toolexecutor.Runner
	Starter Starter
	Logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		catalog: cfg.Catalog,
		runner:  cfg.Runner,
		starter: cfg.Starter,
		logger:  cfg.Logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Listen consumes document events from the bus until ctx is done
func (d *Dispatcher) Listen(ctx context.Context, bus *events.Bus) error {
	return events.Handle(ctx, bus, events.TopicDocuments, d.HandleDocument)
}

// HandleDocument triggers every enabled task that listens for the event
// and whose condition holds. A failing condition skips that task only.
func (d *Dispatcher) HandleDocument(ctx context.Context, ev events.DocumentEvent) error {
	event, ok := ParseEvent(ev.Event)
	if !ok {
		d.logger.Debug().Str("event", ev.Event).Msg("Ignoring unknown document event")
		return nil
	}

	tasks, err := d.catalog.TasksFor(ctx, ev.Kind, event)
	if err != nil {
		return fmt.Errorf("failed to list tasks for %s: %w", ev.Kind, err)
	}

	target := Target{Kind: ev.Kind, ID: ev.ID, Doc: ev.Doc}
	for _, t := range tasks {
		logger := d.logger.With().
			Str("task", t.Name).
			Str("target_kind", ev.Kind).
			Str("target", ev.ID).
			Str("event", string(event)).
			Logger()

		matched, err := EvalCondition(tracing.WithTask(ctx, t.Name), d.runner, t, ev.Doc)
		if err != nil {
			logger.Error().Err(err).Msg("Error evaluating condition")
			continue
		}
		if !matched {
			logger.Debug().Msg("Condition false")
			continue
		}

		id, err := d.Trigger(ctx, t, target, event)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to trigger task")
			continue
		}
		logger.Info().Str("execution_id", id).Msg("Task triggered")
	}
	return nil
}

// Trigger starts one execution of t against target
func (d *Dispatcher) Trigger(ctx context.Context, t *Task, target Target, event Event) (string, error) {
	if !t.IsEnabled() {
		return "", fmt.Errorf("task %s is disabled", t.Name)
	}
	if t.NoTarget {
		target = Target{}
	}
	return d.starter.Start(ctx, StartRequest{Task: t, Target: target, Event: event})
}
