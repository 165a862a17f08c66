package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/otto/pkg/commandqueue"
	"github.com/harun/otto/pkg/execution"
	"github.com/harun/otto/pkg/permission"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutions struct {
	byStatus map[execution.Status][]*execution.Execution
	err      error
}

func (s *stubExecutions) List(ctx context.Context, status execution.Status) ([]*execution.Execution, error) {
	return s.byStatus[status], s.err
}

type stubDecisions map[string]map[string]permission.Status

func (s stubDecisions) StatusMap(ctx context.Context, sessionID string) (map[string]permission.Status, error) {
	return s[sessionID], nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []commandqueue.Job
}

func (q *recordingQueue) Enqueue(ctx context.Context, job commandqueue.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func (q *recordingQueue) all() []commandqueue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]commandqueue.Job(nil), q.jobs...)
}

func setupTestSweeper(t *testing.T, execs *stubExecutions, decisions stubDecisions, schedule string) (*Sweeper, *recordingQueue) {
	t.Helper()
	q := &recordingQueue{}
	s, err := New(Config{
		Executions: execs,
		Decisions:  decisions,
		Queue:      q,
		Schedule:   schedule,
		StaleAfter: time.Minute,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s, q
}

func TestNew(t *testing.T) {
	t.Run("should default the schedule", func(t *testing.T) {
		s, _ := setupTestSweeper(t, &stubExecutions{}, stubDecisions{}, "")
		assert.Equal(t, DefaultSchedule, s.schedule)
	})

	t.Run("should reject a bad schedule", func(t *testing.T) {
		_, err := New(Config{Executions: &stubExecutions{}, Decisions: stubDecisions{}, Queue: &recordingQueue{}, Schedule: "sometimes"})
		assert.ErrorContains(t, err, "invalid cron expression")
	})

	t.Run("should require a queue", func(t *testing.T) {
		_, err := New(Config{Executions: &stubExecutions{}, Decisions: stubDecisions{}})
		assert.EqualError(t, err, "queue is required")
	})
}

func TestSweeper_Sweep(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-10 * time.Minute)
	fresh := now.Add(-10 * time.Second)

	t.Run("should enqueue stale pending executions", func(t *testing.T) {
		execs := &stubExecutions{byStatus: map[execution.Status][]*execution.Execution{
			execution.StatusPending: {
				{ID: "old", UpdatedAt: old},
				{ID: "fresh", UpdatedAt: fresh},
			},
		}}
		s, q := setupTestSweeper(t, execs, stubDecisions{}, "")
		s.now = func() time.Time { return now }

		res, err := s.Sweep(context.Background())
		require.NoError(t, err)

		assert.Equal(t, Result{Executed: 1}, res)
		assert.Equal(t, []commandqueue.Job{{Kind: commandqueue.KindExecute, ExecutionID: "old"}}, q.all())
	})

	t.Run("should resume waiting executions once every request is decided", func(t *testing.T) {
		execs := &stubExecutions{byStatus: map[execution.Status][]*execution.Execution{
			execution.StatusWaiting: {
				{ID: "decided", SessionID: "s1", UpdatedAt: old},
				{ID: "undecided", SessionID: "s2", UpdatedAt: old},
				{ID: "recent", SessionID: "s3", UpdatedAt: fresh},
			},
		}}
		decisions := stubDecisions{
			"s1": {"call_1": permission.StatusGranted, "call_2": permission.StatusDenied},
			"s2": {"call_1": permission.StatusGranted, "call_2": permission.StatusPending},
			"s3": {"call_1": permission.StatusGranted},
		}
		s, q := setupTestSweeper(t, execs, decisions, "")
		s.now = func() time.Time { return now }

		res, err := s.Sweep(context.Background())
		require.NoError(t, err)

		assert.Equal(t, Result{Resumed: 1}, res)
		assert.Equal(t, []commandqueue.Job{{Kind: commandqueue.KindResume, ExecutionID: "decided"}}, q.all())

		state := s.State()
		assert.Equal(t, "ok", state.LastStatus)
		assert.Equal(t, Result{Resumed: 1}, state.LastResult)
	})

	t.Run("should count consecutive errors", func(t *testing.T) {
		s, _ := setupTestSweeper(t, &stubExecutions{err: errors.New("database is locked")}, stubDecisions{}, "")

		_, err := s.Sweep(context.Background())
		require.Error(t, err)
		_, err = s.Sweep(context.Background())
		require.Error(t, err)

		state := s.State()
		assert.Equal(t, "error", state.LastStatus)
		assert.Contains(t, state.LastError, "database is locked")
		assert.Equal(t, 2, state.ConsecutiveErrors)
	})
}

func TestSweeper_Start(t *testing.T) {
	t.Run("should sweep on schedule", func(t *testing.T) {
		execs := &stubExecutions{byStatus: map[execution.Status][]*execution.Execution{
			execution.StatusPending: {{ID: "old", UpdatedAt: time.Now().Add(-time.Hour)}},
		}}
		s, q := setupTestSweeper(t, execs, stubDecisions{}, "@every 1s")

		require.NoError(t, s.Start())
		require.NoError(t, s.Start())
		assert.NotNil(t, s.State().NextRunAt)

		assert.Eventually(t, func() bool { return len(q.all()) > 0 }, 3*time.Second, 20*time.Millisecond)
		s.Stop()
		assert.Nil(t, s.State().NextRunAt)
	})
}
