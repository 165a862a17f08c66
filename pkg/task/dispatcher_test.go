package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harun/otto/pkg/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStarter struct {
	mu       sync.Mutex
	requests []StartRequest
	err      error
}

func (s *stubStarter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *stubStarter) Start(_ context.Context, req StartRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.requests = append(s.requests, req)
	return fmt.Sprintf("exec-%d", len(s.requests)), nil
}

func setupTestDispatcher(t *testing.T, runner *stubRunner) (*Dispatcher, *Catalog, *stubStarter) {
	t.Helper()
	catalog := setupTestCatalog(t)
	starter := &stubStarter{}
	d := NewDispatcher(DispatcherConfig{Catalog: catalog, Runner: runner, Starter: starter, Logger: zerolog.Nop()})
	return d, catalog, starter
}

func TestDispatcher_HandleDocument(t *testing.T) {
	ctx := context.Background()
	doc := json.RawMessage(`{"status":"Open"}`)

	t.Run("should trigger matching tasks", func(t *testing.T) {
		d, catalog, starter := setupTestDispatcher(t, &stubRunner{result: true})
		require.NoError(t, catalog.SaveTask(ctx, &Task{Name: "triage", TargetKind: "ticket", Event: EventCreate, Condition: "doc['status'] == 'Open'"}))
		require.NoError(t, catalog.SaveTask(ctx, &Task{Name: "other", TargetKind: "ticket", Event: EventUpdate}))

		err := d.HandleDocument(ctx, events.DocumentEvent{Kind: "ticket", ID: "T-1", Event: "after_insert", Doc: doc})
		require.NoError(t, err)

		require.Len(t, starter.requests, 1)
		req := starter.requests[0]
		assert.Equal(t, "triage", req.Task.Name)
		assert.Equal(t, EventCreate, req.Event)
		assert.Equal(t, Target{Kind: "ticket", ID: "T-1", Doc: doc}, req.Target)
	})

	t.Run("should skip tasks whose condition fails", func(t *testing.T) {
		d, catalog, starter := setupTestDispatcher(t, &stubRunner{result: false})
		require.NoError(t, catalog.SaveTask(ctx, &Task{Name: "triage", TargetKind: "ticket", Event: EventCreate, Condition: "False"}))

		require.NoError(t, d.HandleDocument(ctx, events.DocumentEvent{Kind: "ticket", ID: "T-1", Event: "On Create", Doc: doc}))
		assert.Empty(t, starter.requests)
	})

	t.Run("should skip tasks whose condition errors", func(t *testing.T) {
		d, catalog, starter := setupTestDispatcher(t, &stubRunner{err: errors.New("NameError")})
		require.NoError(t, catalog.SaveTask(ctx, &Task{Name: "triage", TargetKind: "ticket", Event: EventCreate, Condition: "x"}))

		require.NoError(t, d.HandleDocument(ctx, events.DocumentEvent{Kind: "ticket", ID: "T-1", Event: "On Create", Doc: doc}))
		assert.Empty(t, starter.requests)
	})

	t.Run("should ignore unknown events", func(t *testing.T) {
		d, _, starter := setupTestDispatcher(t, &stubRunner{})
		require.NoError(t, d.HandleDocument(ctx, events.DocumentEvent{Kind: "ticket", ID: "T-1", Event: "validate"}))
		assert.Empty(t, starter.requests)
	})

	t.Run("should deliver events from the bus", func(t *testing.T) {
		d, catalog, starter := setupTestDispatcher(t, &stubRunner{})
		require.NoError(t, catalog.SaveTask(ctx, &Task{Name: "triage", TargetKind: "ticket", Event: EventDelete}))

		bus := events.NewBus(zerolog.Nop())
		listenCtx, cancel := context.WithCancel(ctx)
		t.Cleanup(func() {
			cancel()
			_ = bus.Close()
		})
		require.NoError(t, d.Listen(listenCtx, bus))

		require.NoError(t, bus.Publish(ctx, events.TopicDocuments, events.DocumentEvent{Kind: "ticket", ID: "T-9", Event: "on_delete", Doc: doc}))

		assert.Eventually(t, func() bool { return starter.count() == 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestDispatcher_Trigger(t *testing.T) {
	ctx := context.Background()

	t.Run("should drop the target for no-target tasks", func(t *testing.T) {
		d, _, starter := setupTestDispatcher(t, &stubRunner{})
		task := &Task{Name: "digest", NoTarget: true, GetContext: "def get_context(doc, event):\n    return 'x'\n"}
		require.NoError(t, task.Validate())

		id, err := d.Trigger(ctx, task, Target{Kind: "ticket", ID: "T-1"}, EventManual)
		require.NoError(t, err)

		assert.Equal(t, "exec-1", id)
		assert.Equal(t, Target{}, starter.requests[0].Target)
	})

	t.Run("should refuse disabled tasks", func(t *testing.T) {
		d, _, starter := setupTestDispatcher(t, &stubRunner{})
		_, err := d.Trigger(ctx, &Task{Name: "off", Enabled: boolPtr(false)}, Target{}, EventManual)

		assert.ErrorContains(t, err, "disabled")
		assert.Empty(t, starter.requests)
	})
}
