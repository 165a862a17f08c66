package permission

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/harun/otto/pkg/notify"
	"github.com/harun/otto/pkg/session"
	"github.com/harun/otto/pkg/store"
	"github.com/harun/otto/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResumer struct {
	mu       sync.Mutex
	sessions []string
	err      error
}

func (r *stubResumer) ResumeSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sessionID)
	return r.err
}

type recordingSink struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (s *recordingSink) Notify(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

type testEnv struct {
	coord   *Coordinator
	store   store.Store
	resumer *stubResumer
	sink    *recordingSink
	session *session.Session
}

func setupTestCoordinator(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	resumer := &stubResumer{}
	sink := &recordingSink{}

	sess := session.New(session.Config{Model: "openai/gpt-4.1-nano"})
	require.NoError(t, sess.AppendToLast(session.NewUserItem(session.NewText("clean up"))))
	agent := session.NewAgentItem("openai/gpt-4.1-nano")
	agent.Content = append(agent.Content, session.NewToolUse("call_1", "delete_record", map[string]interface{}{"record_id": float64(7)}))
	require.NoError(t, sess.AppendToLast(agent))
	require.NoError(t, session.NewRepository(st).Save(context.Background(), sess))

	coord := New(Config{Store: st, Resumer: resumer, Sink: sink, Logger: zerolog.Nop()})
	return &testEnv{coord: coord, store: st, resumer: resumer, sink: sink, session: sess}
}

func TestCoordinator_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a pending request", func(t *testing.T) {
		env := setupTestCoordinator(t)

		req, err := env.coord.Create(ctx, env.session.ID, "call_1")
		require.NoError(t, err)

		assert.NotEmpty(t, req.ID)
		assert.Equal(t, StatusPending, req.Status)
		assert.False(t, req.IsDecided())

		statuses, err := env.coord.StatusMap(ctx, env.session.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]Status{"call_1": StatusPending}, statuses)
	})

	t.Run("should not duplicate requests for one tool use", func(t *testing.T) {
		env := setupTestCoordinator(t)

		first, err := env.coord.Create(ctx, env.session.ID, "call_1")
		require.NoError(t, err)
		second, err := env.coord.Create(ctx, env.session.ID, "call_1")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		reqs, err := env.coord.ForSession(ctx, env.session.ID)
		require.NoError(t, err)
		assert.Len(t, reqs, 1)
	})
}

func TestCoordinator_Acknowledge(t *testing.T) {
	ctx := context.Background()

	t.Run("should grant and resume", func(t *testing.T) {
		env := setupTestCoordinator(t)
		req, err := env.coord.Create(ctx, env.session.ID, "call_1")
		require.NoError(t, err)

		msg, err := env.coord.Grant(toolexecutor.WithActor(ctx, "alice"), req.ID, nil)
		require.NoError(t, err)

		assert.Equal(t, MessageGranted, msg)
		got, err := env.coord.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusGranted, got.Status)
		assert.Equal(t, "alice", got.DecidedBy)
		assert.NotNil(t, got.DecidedAt)
		assert.False(t, got.ArgsUpdated)
		assert.Equal(t, []string{env.session.ID}, env.resumer.sessions)
	})

	t.Run("should store overrides beside the original args", func(t *testing.T) {
		env := setupTestCoordinator(t)
		req, err := env.coord.Create(ctx, env.session.ID, "call_1")
		require.NoError(t, err)

		_, err = env.coord.Grant(ctx, req.ID, map[string]interface{}{"record_id": float64(8)})
		require.NoError(t, err)

		got, err := env.coord.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.True(t, got.ArgsUpdated)

		sess, err := session.NewRepository(env.store).Load(ctx, env.session.ID)
		require.NoError(t, err)
		tu, ok := sess.FindToolUse("call_1")
		require.True(t, ok)
		assert.Equal(t, float64(7), tu.Args["record_id"])
		assert.Equal(t, float64(8), tu.EffectiveArgs()["record_id"])
	})

	t.Run("should ignore overrides on deny", func(t *testing.T) {
		env := setupTestCoordinator(t)
		req, err := env.coord.Create(ctx, env.session.ID, "call_1")
		require.NoError(t, err)

		msg, err := env.coord.Acknowledge(ctx, req.ID, StatusDenied, map[string]interface{}{"record_id": float64(8)})
		require.NoError(t, err)
		assert.Equal(t, MessageDenied, msg)

		sess, err := session.NewRepository(env.store).Load(ctx, env.session.ID)
		require.NoError(t, err)
		tu, _ := sess.FindToolUse("call_1")
		assert.Nil(t, tu.Override)
	})

	t.Run("should not re-decide", func(t *testing.T) {
		env := setupTestCoordinator(t)
		req, err := env.coord.Create(ctx, env.session.ID, "call_1")
		require.NoError(t, err)

		_, err = env.coord.Deny(ctx, req.ID)
		require.NoError(t, err)
		msg, err := env.coord.Grant(ctx, req.ID, nil)
		require.NoError(t, err)

		assert.Equal(t, MessageAlreadyAcknowledged, msg)
		got, _ := env.coord.Get(ctx, req.ID)
		assert.Equal(t, StatusDenied, got.Status)
		assert.Len(t, env.resumer.sessions, 1)
	})

	t.Run("should reject pending as a decision", func(t *testing.T) {
		env := setupTestCoordinator(t)
		req, _ := env.coord.Create(ctx, env.session.ID, "call_1")

		_, err := env.coord.Acknowledge(ctx, req.ID, StatusPending, nil)
		assert.ErrorContains(t, err, "invalid decision")
	})

	t.Run("should fail overrides for unknown tool uses", func(t *testing.T) {
		env := setupTestCoordinator(t)
		req, _ := env.coord.Create(ctx, env.session.ID, "call_x")

		_, err := env.coord.Grant(ctx, req.ID, map[string]interface{}{"a": 1})
		assert.ErrorContains(t, err, "tool use call_x not found")

		got, _ := env.coord.Get(ctx, req.ID)
		assert.Equal(t, StatusPending, got.Status)
	})

	t.Run("should keep the decision when resume fails", func(t *testing.T) {
		env := setupTestCoordinator(t)
		env.resumer.err = errors.New("queue closed")
		req, _ := env.coord.Create(ctx, env.session.ID, "call_1")

		_, err := env.coord.Grant(ctx, req.ID, nil)
		assert.ErrorContains(t, err, "resume failed")

		got, _ := env.coord.Get(ctx, req.ID)
		assert.Equal(t, StatusGranted, got.Status)
	})

	t.Run("should report unknown requests", func(t *testing.T) {
		env := setupTestCoordinator(t)
		_, err := env.coord.Grant(ctx, "nope", nil)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestCoordinator_MarkViewed(t *testing.T) {
	ctx := context.Background()
	env := setupTestCoordinator(t)
	req, _ := env.coord.Create(ctx, env.session.ID, "call_1")

	require.NoError(t, env.coord.MarkViewed(ctx, req.ID))

	got, _ := env.coord.Get(ctx, req.ID)
	assert.True(t, got.Viewed)
}
