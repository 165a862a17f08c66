package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveContext(t *testing.T) {
	ctx := context.Background()
	doc := json.RawMessage(`{"name":"T-1","status":"Open"}`)
	script := "def get_context(doc, event):\n    return doc['name']\n"

	t.Run("should use the document without a script", func(t *testing.T) {
		runner := &stubRunner{}
		got, err := ResolveContext(ctx, runner, &Task{Name: "t"}, doc, EventCreate)

		require.NoError(t, err)
		assert.Equal(t, []string{string(doc)}, got)
		assert.Empty(t, runner.calls)
	})

	t.Run("should fail without script or document", func(t *testing.T) {
		_, err := ResolveContext(ctx, &stubRunner{}, &Task{Name: "t"}, nil, EventManual)
		assert.ErrorIs(t, err, ErrNoContext)
		assert.EqualError(t, err, "get_context is not set on Task and no target Doc is provided")
	})

	t.Run("should call get_context with doc and event", func(t *testing.T) {
		runner := &stubRunner{result: "T-1"}
		got, err := ResolveContext(ctx, runner, &Task{Name: "t", GetContext: script}, doc, EventCreate)

		require.NoError(t, err)
		assert.Equal(t, []string{"T-1"}, got)

		require.Len(t, runner.calls, 1)
		call := runner.calls[0]
		assert.Equal(t, ContextFunction, call.Function)
		assert.Equal(t, []string{"doc", "event"}, call.ArgNames)
		assert.Equal(t, "On Create", call.Args["event"])
		assert.Equal(t, map[string]interface{}{"name": "T-1", "status": "Open"}, call.Args["doc"])
	})

	t.Run("should flatten list results", func(t *testing.T) {
		runner := &stubRunner{result: []interface{}{
			"plain",
			map[string]interface{}{"type": "text", "text": "block"},
			map[string]interface{}{"type": "image", "url": "https://x.test/a.png"},
			map[string]interface{}{"n": float64(1)},
		}}
		got, err := ResolveContext(ctx, runner, &Task{Name: "t", GetContext: script}, nil, EventManual)

		require.NoError(t, err)
		assert.Equal(t, []string{"plain", "block", "https://x.test/a.png", `{"n":1}`}, got)
		assert.Nil(t, runner.calls[0].Args["doc"])
	})

	t.Run("should encode other results as JSON", func(t *testing.T) {
		runner := &stubRunner{result: map[string]interface{}{"a": true}}
		got, err := ResolveContext(ctx, runner, &Task{Name: "t", GetContext: script}, nil, EventManual)

		require.NoError(t, err)
		assert.Equal(t, []string{`{"a":true}`}, got)
	})

	t.Run("should pass script errors through", func(t *testing.T) {
		runner := &stubRunner{err: errors.New("script failed: KeyError: 'name'")}
		_, err := ResolveContext(ctx, runner, &Task{Name: "t", GetContext: script}, doc, EventManual)
		assert.EqualError(t, err, "script failed: KeyError: 'name'")
	})
}

func TestEvalCondition(t *testing.T) {
	ctx := context.Background()
	doc := json.RawMessage(`{"status":"Open"}`)

	t.Run("should match without a condition", func(t *testing.T) {
		runner := &stubRunner{}
		ok, err := EvalCondition(ctx, runner, &Task{Name: "t"}, doc)

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, runner.calls)
	})

	t.Run("should wrap bare expressions", func(t *testing.T) {
		runner := &stubRunner{result: true}
		ok, err := EvalCondition(ctx, runner, &Task{Name: "t", Condition: " doc['status'] == 'Open' "}, doc)

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "def condition(doc):\n    return bool(doc['status'] == 'Open')\n", runner.calls[0].Code)
		assert.Equal(t, ConditionFunction, runner.calls[0].Function)
	})

	t.Run("should keep scripts that define condition", func(t *testing.T) {
		code := "def condition(doc):\n    return doc['status'] != 'Closed'\n"
		runner := &stubRunner{result: false}
		ok, err := EvalCondition(ctx, runner, &Task{Name: "t", Condition: code}, doc)

		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, code, runner.calls[0].Code)
	})

	t.Run("should treat non-bool results as false", func(t *testing.T) {
		ok, err := EvalCondition(ctx, &stubRunner{result: "yes"}, &Task{Name: "t", Condition: "1"}, doc)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
