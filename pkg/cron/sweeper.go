package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/otto/pkg/commandqueue"
	"github.com/harun/otto/pkg/execution"
	"github.com/harun/otto/pkg/permission"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Executions lists executions by status
type Executions interface {
	List(ctx context.Context, status execution.Status) ([]*execution.Execution, error)
}

// Decisions reads the permission decisions of a session
type Decisions interface {
	StatusMap(ctx context.Context, sessionID string) (map[string]permission.Status, error)
}

// Sweeper periodically re-enqueues executions whose job was lost: stale
// Pending executions get an execute step and Waiting executions whose
// requests are all decided get a resume step.
type Sweeper struct {
	executions Executions
	decisions  Decisions
	queue      execution.Enqueuer
	schedule   string
	staleAfter time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	state   State
	running bool
}

// Config holds sweeper configuration
type Config struct {
	Executions Executions
	Decisions  Decisions
	Queue      execution.Enqueuer
	// Schedule is a cron expression or descriptor, DefaultSchedule if empty
	Schedule   string
	StaleAfter time.Duration
	Logger     zerolog.Logger
}

// New creates a sweeper
func New(cfg Config) (*Sweeper, error) {
	if cfg.Executions == nil {
		return nil, errors.New("executions are required")
	}
	if cfg.Decisions == nil {
		return nil, errors.New("decisions are required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return nil, err
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	return &Sweeper{
		executions: cfg.Executions,
		decisions:  cfg.Decisions,
		queue:      cfg.Queue,
		schedule:   cfg.Schedule,
		staleAfter: cfg.StaleAfter,
		logger:     cfg.Logger.With().Str("component", "sweeper").Logger(),
		now:        time.Now,
	}, nil
}

// Start schedules sweeps until Stop
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	entry, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.entry = entry
	s.running = true
	next := c.Entry(entry).Next
	s.state.NextRunAt = &next

	s.logger.Info().Str("schedule", s.schedule).Dur("stale_after", s.staleAfter).Msg("Sweeper started")
	return nil
}

// Stop cancels future sweeps and waits for a running one
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.state.NextRunAt = nil
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info().Msg("Sweeper stopped")
}

// State returns a copy of the run state
func (s *Sweeper) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sweep enqueues the steps of executions that fell through the cracks
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	start := s.now()
	res, err := s.sweep(ctx, start)
	s.record(start, res, err)
	return res, err
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	cutoff := now.Add(-s.staleAfter)

	pending, err := s.executions.List(ctx, execution.StatusPending)
	if err != nil {
		return res, fmt.Errorf("failed to list pending executions: %w", err)
	}
	for _, e := range pending {
		if e.UpdatedAt.After(cutoff) {
			continue
		}
		if s.queue.Enqueue(ctx, commandqueue.Job{Kind: commandqueue.KindExecute, ExecutionID: e.ID}) {
			res.Executed++
			s.logger.Info().Str("execution_id", e.ID).Time("updated_at", e.UpdatedAt).Msg("Re-enqueued stale pending execution")
		}
	}

	waiting, err := s.executions.List(ctx, execution.StatusWaiting)
	if err != nil {
		return res, fmt.Errorf("failed to list waiting executions: %w", err)
	}
	for _, e := range waiting {
		if e.UpdatedAt.After(cutoff) {
			continue
		}
		statuses, err := s.decisions.StatusMap(ctx, e.SessionID)
		if err != nil {
			return res, fmt.Errorf("failed to read decisions for %s: %w", e.ID, err)
		}
		if !allDecided(statuses) {
			continue
		}
		if s.queue.Enqueue(ctx, commandqueue.Job{Kind: commandqueue.KindResume, ExecutionID: e.ID}) {
			res.Resumed++
			s.logger.Info().Str("execution_id", e.ID).Msg("Re-enqueued decided waiting execution")
		}
	}
	return res, nil
}

func (s *Sweeper) record(start time.Time, res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.LastRunAt = &start
	s.state.LastDuration = s.now().Sub(start)
	s.state.LastResult = res
	if err != nil {
		s.state.LastStatus = "error"
		s.state.LastError = err.Error()
		s.state.ConsecutiveErrors++
	} else {
		s.state.LastStatus = "ok"
		s.state.LastError = ""
		s.state.ConsecutiveErrors = 0
	}
	if s.cron != nil {
		next := s.cron.Entry(s.entry).Next
		s.state.NextRunAt = &next
	}

	if res.Executed > 0 || res.Resumed > 0 {
		s.logger.Info().Int("executed", res.Executed).Int("resumed", res.Resumed).Msg("Sweep enqueued executions")
	}
}

func allDecided(statuses map[string]permission.Status) bool {
	for _, st := range statuses {
		if st == permission.StatusPending {
			return false
		}
	}
	return true
}
