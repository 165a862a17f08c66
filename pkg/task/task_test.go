package task

import (
	"context"
	"testing"

	"github.com/harun/otto/pkg/session"
	"github.com/harun/otto/pkg/store"
	"github.com/harun/otto/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	calls  []toolexecutor.RunRequest
	result interface{}
	err    error
}

func (r *stubRunner) Run(_ context.Context, req toolexecutor.RunRequest) (*toolexecutor.RunResult, error) {
	r.calls = append(r.calls, req)
	if r.err != nil {
		return &toolexecutor.RunResult{}, r.err
	}
	return &toolexecutor.RunResult{Result: r.result}, nil
}

func boolPtr(b bool) *bool { return &b }

func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog(store.NewMemory())
	ctx := context.Background()

	for _, tool := range []*toolexecutor.Tool{
		{
			Slug:               "delete_record",
			Description:        "Deletes a record",
			Code:               "def main(record_id: int):\n    return record_id\n",
			Args:               []toolexecutor.Arg{{Name: "record_id", Description: "Record"}},
			RequiresPermission: true,
		},
		{
			Slug:        "get_record",
			Description: "Reads a record",
			Code:        "def main(record_id: int):\n    return record_id\n",
			Args:        []toolexecutor.Arg{{Name: "record_id", Description: "Record"}},
		},
		{
			Slug: "broken",
			Code: "import os\ndef main():\n    pass\n",
		},
	} {
		require.NoError(t, c.SaveTool(ctx, tool))
	}
	return c
}

func TestTask_Validate(t *testing.T) {
	t.Run("should derive the name from the title", func(t *testing.T) {
		task := &Task{Title: "Close Stale Tickets!", TargetKind: "ticket", Event: "on_update"}
		require.NoError(t, task.Validate())

		assert.Equal(t, "close_stale_tickets", task.Name)
		assert.Equal(t, EventUpdate, task.Event)
	})

	t.Run("should require get_context without a target", func(t *testing.T) {
		task := &Task{Name: "digest", NoTarget: true}
		assert.EqualError(t, task.Validate(), "get_context cannot be empty if No Target is set")
	})

	t.Run("should force manual events without a target", func(t *testing.T) {
		task := &Task{Name: "digest", NoTarget: true, TargetKind: "ticket", Event: EventCreate, GetContext: "def get_context(doc, event):\n    return 'x'\n"}
		require.NoError(t, task.Validate())

		assert.Equal(t, "", task.TargetKind)
		assert.Equal(t, EventManual, task.Event)
	})

	t.Run("should require a target kind otherwise", func(t *testing.T) {
		task := &Task{Name: "triage"}
		assert.ErrorContains(t, task.Validate(), "needs a target kind")
	})

	t.Run("should reject meta tool slugs", func(t *testing.T) {
		task := &Task{Name: "triage", TargetKind: "ticket", Tools: []ToolRef{{Tool: "get_record", Slug: "end_task"}}}
		assert.ErrorContains(t, task.Validate(), `"end_task" as it is a meta tool`)
	})

	t.Run("should reject unknown events", func(t *testing.T) {
		task := &Task{Name: "triage", TargetKind: "ticket", Event: "On Fire"}
		assert.ErrorContains(t, task.Validate(), "unknown event")
	})

	t.Run("should drop reasoning without a model", func(t *testing.T) {
		task := &Task{Name: "triage", TargetKind: "ticket", ReasoningEffort: session.EffortHigh}
		require.NoError(t, task.Validate())
		assert.Equal(t, session.EffortNone, task.ReasoningEffort)

		task = &Task{Name: "triage", TargetKind: "ticket", LLM: "anthropic/claude-sonnet-4-5", ReasoningEffort: "Extreme"}
		require.NoError(t, task.Validate())
		assert.Equal(t, session.EffortNone, task.ReasoningEffort)

		task = &Task{Name: "triage", TargetKind: "ticket", LLM: "anthropic/claude-sonnet-4-5", ReasoningEffort: session.EffortLow}
		require.NoError(t, task.Validate())
		assert.Equal(t, session.EffortLow, task.ReasoningEffort)
	})
}

func TestParseEvent(t *testing.T) {
	for in, want := range map[string]Event{
		"after_insert": EventCreate,
		"on_cancel":    EventCancel,
		"On Submit":    EventSubmit,
		"Manual":       EventManual,
	} {
		got, ok := ParseEvent(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseEvent("validate")
	assert.False(t, ok)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("should store invalid tools with reasons", func(t *testing.T) {
		c := setupTestCatalog(t)

		tool, err := c.GetTool(ctx, "broken")
		require.NoError(t, err)
		assert.False(t, tool.IsValid)
		assert.Contains(t, tool.Reason, "Import of os is not allowed (line: 1)")
	})

	t.Run("should report missing tools", func(t *testing.T) {
		c := setupTestCatalog(t)
		_, err := c.GetTool(ctx, "nope")
		assert.ErrorIs(t, err, toolexecutor.ErrToolNotFound)
	})

	t.Run("should offer valid enabled tools plus meta tools", func(t *testing.T) {
		c := setupTestCatalog(t)
		task := &Task{Name: "triage", Tools: []ToolRef{
			{Tool: "delete_record", Slug: "remove"},
			{Tool: "get_record", Enabled: boolPtr(false)},
			{Tool: "broken"},
			{Tool: "missing"},
		}}

		schemas, err := c.Tools(ctx, task)
		require.NoError(t, err)

		var names []string
		for _, s := range schemas {
			names = append(names, s.Name)
		}
		assert.Equal(t, []string{"remove", toolexecutor.ToolThink, toolexecutor.ToolEndTask}, names)
	})

	t.Run("should map session slugs to tools", func(t *testing.T) {
		c := setupTestCatalog(t)
		task := &Task{Name: "triage", Tools: []ToolRef{
			{Tool: "delete_record", Slug: "remove", Env: `{"soft": true}`},
			{Tool: "get_record", Enabled: boolPtr(false)},
		}}

		m, err := c.ToolMap(ctx, task)
		require.NoError(t, err)

		assert.Equal(t, map[string]ToolMapItem{
			"remove":     {ToolName: "delete_record", Env: `{"soft": true}`, RequiresPermission: true},
			"get_record": {ToolName: "get_record"},
		}, m)
	})

	t.Run("should list tool problems", func(t *testing.T) {
		c := setupTestCatalog(t)
		task := &Task{Name: "triage", Tools: []ToolRef{
			{Tool: "get_record", Env: "{nope"},
			{Tool: "broken"},
			{Tool: "missing"},
		}}

		reasons, err := c.ValidateTools(ctx, task)
		require.NoError(t, err)

		require.Len(t, reasons, 3)
		assert.Contains(t, reasons[0], "Tool get_record env is not valid JSON")
		assert.Equal(t, "Tool broken is not valid", reasons[1])
		assert.Equal(t, "Tool missing not found", reasons[2])
	})

	t.Run("should find enabled tasks by kind and event", func(t *testing.T) {
		c := setupTestCatalog(t)
		require.NoError(t, c.SaveTask(ctx, &Task{Name: "a", TargetKind: "ticket", Event: EventCreate}))
		require.NoError(t, c.SaveTask(ctx, &Task{Name: "b", TargetKind: "ticket", Event: EventCreate, Enabled: boolPtr(false)}))
		require.NoError(t, c.SaveTask(ctx, &Task{Name: "c", TargetKind: "ticket", Event: EventUpdate}))
		require.NoError(t, c.SaveTask(ctx, &Task{Name: "d", TargetKind: "invoice", Event: EventCreate}))

		tasks, err := c.TasksFor(ctx, "ticket", EventCreate)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "a", tasks[0].Name)
	})
}

func TestParseEnv(t *testing.T) {
	env, err := ParseEnv("")
	assert.NoError(t, err)
	assert.Nil(t, env)

	env, err = ParseEnv(`{"k": 1}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"k": float64(1)}, env)

	_, err = ParseEnv("[1]")
	assert.Error(t, err)
}
