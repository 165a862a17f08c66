package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/otto/internal/observability"
	"github.com/harun/otto/internal/tracing"
	"github.com/harun/otto/pkg/commandqueue"
	"github.com/harun/otto/pkg/events"
	"github.com/harun/otto/pkg/llm"
	"github.com/harun/otto/pkg/lock"
	"github.com/harun/otto/pkg/permission"
	"github.com/harun/otto/pkg/session"
	"github.com/harun/otto/pkg/store"
	"github.com/harun/otto/pkg/task"
	"github.com/harun/otto/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxLLMCalls bounds agent items per session
	DefaultMaxLLMCalls = 30
	// DefaultActor runs ungated tools when an execution names no actor
	DefaultActor = "otto"

	waitingCheckLock = "waiting_check"
)

// Interactor runs one provider turn
type Interactor interface {
	Interact(ctx context.Context, req llm.InteractRequest, onChunk func(llm.Chunk)) (*llm.InteractResult, error)
}

// ToolExecutor runs a stored tool
type ToolExecutor interface {
	Execute(ctx context.Context, tool *toolexecutor.Tool, args, env map[string]interface{}) (*toolexecutor.RunResult, error)
}

// Permissions creates requests and reads decisions
type Permissions interface {
	Create(ctx context.Context, sessionID, toolUseID string) (*permission.Request, error)
	ForSession(ctx context.Context, sessionID string) ([]*permission.Request, error)
	Notify(ctx context.Context, notices []permission.Notice) error
}

// Enqueuer schedules execution steps
type Enqueuer interface {
	Enqueue(ctx context.Context, job commandqueue.Job) bool
}

// Service creates executions and runs their steps
type Service struct {
	store       store.Store
	sessions    *session.Repository
	catalog     *task.Catalog
	interactor  Interactor
	tools       ToolExecutor
	runner      toolexecutor.Runner
	permissions Permissions
	locker      lock.Locker
	queue       Enqueuer
	publisher   events.Publisher
	logger      zerolog.Logger

	maxLLMCalls          int
	failOnNoOutputTokens bool
	timeout              time.Duration
}

// Config holds service dependencies and limits
type Config struct {
	Store       store.Store
	Catalog     *task.Catalog
	Interactor  Interactor
	Tools       ToolExecutor
	// Runner evaluates get_context scripts
	Runner      toolexecutor.Runner
	Permissions Permissions
	Locker      lock.Locker
	Queue       Enqueuer
	Publisher   events.Publisher
	Logger      zerolog.Logger

	// MaxLLMCalls of 0 disables the ceiling
	MaxLLMCalls          int
	FailOnNoOutputTokens bool
	// Timeout bounds a single step; 0 means no bound
	Timeout time.Duration
}

// New creates a service. The queue may be set later with SetQueue when
// the queue's handler needs the service.
func New(cfg Config) *Service {
	observability.EnsureRegistered()

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:                cfg.Store,
		sessions:             session.NewRepository(cfg.Store),
		catalog:              cfg.Catalog,
		interactor:           cfg.Interactor,
		tools:                cfg.Tools,
		runner:               cfg.Runner,
		permissions:          cfg.Permissions,
		locker:               cfg.Locker,
		queue:                cfg.Queue,
		publisher:            publisher,
		logger:               cfg.Logger,
		maxLLMCalls:          cfg.MaxLLMCalls,
		failOnNoOutputTokens: cfg.FailOnNoOutputTokens,
		timeout:              cfg.Timeout,
	}
}

// SetQueue sets the queue steps are enqueued on
func (s *Service) SetQueue(q Enqueuer) {
	s.queue = q
}

// Get loads an execution
func (s *Service) Get(ctx context.Context, id string) (*Execution, error) {
	var e Execution
	if err := s.store.Get(ctx, store.KindExecution, id, &e); err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
	}
	return &e, nil
}

// List returns executions in status, oldest first
func (s *Service) List(ctx context.Context, status Status) ([]*Execution, error) {
	return store.QueryAs[*Execution](ctx, s.store, store.KindExecution, store.Eq("status", string(status)))
}

// ForSession returns the execution that owns sessionID
func (s *Service) ForSession(ctx context.Context, sessionID string) (*Execution, error) {
	found, err := store.QueryAs[*Execution](ctx, s.store, store.KindExecution, store.Eq("session", sessionID))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no execution for session %s: %w", sessionID, store.ErrNotFound)
	}
	return found[len(found)-1], nil
}

// Start creates an execution and enqueues its first step. Executions whose
// task fails validation are saved as Failure and not enqueued.
func (s *Service) Start(ctx context.Context, req task.StartRequest) (string, error) {
	e, err := s.Create(ctx, req)
	if err != nil {
		return "", err
	}
	if e.Status == StatusPending {
		s.enqueue(ctx, commandqueue.KindExecute, e.ID)
	}
	return e.ID, nil
}

// Create saves a new execution and its empty session
func (s *Service) Create(ctx context.Context, req task.StartRequest) (*Execution, error) {
	if req.Task == nil {
		return nil, errors.New("execution needs a task")
	}
	t := req.Task

	sess, err := s.newSession(ctx, t, session.Config{
		Model:           firstNonEmpty(req.Model, t.LLM),
		Instruction:     firstNonEmpty(req.Instruction, t.Instruction),
		ReasoningEffort: session.ReasoningEffort(firstNonEmpty(req.ReasoningEffort, string(t.ReasoningEffort))),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := &Execution{
		ID:         NewID(),
		Task:       t.Name,
		SessionID:  sess.ID,
		TargetKind: req.Target.Kind,
		Target:     req.Target.ID,
		TargetDoc:  req.Target.Doc,
		Event:      string(req.Event),
		Input:      req.Input,
		Actor:      toolexecutor.ActorFromContext(ctx),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if e.Actor == "" {
		e.Actor = DefaultActor
	}

	reasons, err := s.Validate(ctx, t)
	if err != nil {
		return nil, err
	}
	if len(reasons) > 0 {
		e.Status = StatusFailure
		e.Reason = strings.Join(reasons, "\n")
	}

	if err := s.save(ctx, e); err != nil {
		return nil, err
	}
	observability.RecordExecutionStatus(string(e.Status))
	observability.RecordExecutionAudit(ctx, e.ID, e.Actor, "start", string(e.Status))
	s.logger.Info().
		Str("execution_id", e.ID).
		Str("task", e.Task).
		Str("status", string(e.Status)).
		Msg("Execution created")
	return e, nil
}

// Validate returns the reasons the task's tools cannot run
func (s *Service) Validate(ctx context.Context, t *task.Task) ([]string, error) {
	return s.catalog.ValidateTools(ctx, t)
}

// Retry starts a failed execution over on a new session with the previous
// session's settings and the task's current tools. It returns the new
// session id.
func (s *Service) Retry(ctx context.Context, id string) (string, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if e.Status != StatusFailure {
		return "", ErrRetryUnavailable
	}
	t, err := s.catalog.GetTask(ctx, e.Task)
	if err != nil {
		return "", err
	}

	prev, err := s.sessions.Load(ctx, e.SessionID)
	if err != nil {
		return "", err
	}
	sess, err := s.newSession(ctx, t, session.Config{
		Model:           prev.Config.Model,
		Instruction:     prev.Config.Instruction,
		ReasoningEffort: prev.Config.ReasoningEffort,
	})
	if err != nil {
		return "", err
	}

	e.SessionID = sess.ID
	if err := s.setStatus(ctx, e, StatusPending, ""); err != nil {
		return "", err
	}
	observability.RecordExecutionAudit(ctx, e.ID, actorOr(ctx, e.Actor), "retry", string(e.Status))
	s.enqueue(ctx, commandqueue.KindExecute, e.ID)
	return sess.ID, nil
}

// ResumeSession enqueues a resume for the execution owning sessionID
func (s *Service) ResumeSession(ctx context.Context, sessionID string) error {
	e, err := s.ForSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug().Str("session_id", sessionID).Msg("No execution to resume")
		return nil
	}
	if err != nil {
		return err
	}
	s.enqueue(ctx, commandqueue.KindResume, e.ID)
	return nil
}

// Handle runs a queued step
func (s *Service) Handle(ctx context.Context, job commandqueue.Job) error {
	ctx = tracing.WithExecutionID(ctx, job.ExecutionID)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	switch job.Kind {
	case commandqueue.KindExecute:
		return s.Execute(ctx, job.ExecutionID)
	case commandqueue.KindResume:
		return s.Resume(ctx, job.ExecutionID)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (s *Service) newSession(ctx context.Context, t *task.Task, cfg session.Config) (*session.Session, error) {
	tools, err := s.catalog.Tools(ctx, t)
	if err != nil {
		return nil, err
	}
	cfg.Tools = tools
	sess := session.New(cfg)
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) enqueue(ctx context.Context, kind commandqueue.Kind, id string) {
	if s.queue == nil {
		s.logger.Info().Str("execution_id", id).Str("kind", string(kind)).Msg("Step not enqueued, left for the sweeper")
		return
	}
	if !s.queue.Enqueue(ctx, commandqueue.Job{Kind: kind, ExecutionID: id}) {
		s.logger.Debug().Str("execution_id", id).Str("kind", string(kind)).Msg("Step already queued")
	}
}

func (s *Service) save(ctx context.Context, e *Execution) error {
	if err := s.store.Save(ctx, store.KindExecution, e.ID, e); err != nil {
		return fmt.Errorf("failed to save execution %s: %w", e.ID, err)
	}
	return nil
}

// setStatus moves e to status, saves it and announces the change
func (s *Service) setStatus(ctx context.Context, e *Execution, status Status, reason string) error {
	if err := e.setStatus(status, reason); err != nil {
		return err
	}
	if err := s.save(ctx, e); err != nil {
		return err
	}

	observability.RecordExecutionStatus(string(status))
	logger := tracing.LoggerFromContext(ctx, s.logger)
	ev := logger.Info()
	if status == StatusFailure {
		ev = logger.Warn()
	}
	ev.Str("execution_id", e.ID).Str("status", string(status)).Str("reason", reason).Msg("Execution status changed")

	if err := s.publisher.Publish(ctx, events.TopicExecutionStatus, events.StatusChanged{
		ExecutionID: e.ID,
		SessionID:   e.SessionID,
		Status:      string(status),
		Reason:      reason,
		At:          e.UpdatedAt,
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish status change")
	}
	return nil
}

// actorOr is the acting user in ctx, or fallback
func actorOr(ctx context.Context, fallback string) string {
	if actor := toolexecutor.ActorFromContext(ctx); actor != "" {
		return actor
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
