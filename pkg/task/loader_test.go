package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/otto/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDefinitions = `
tools:
  - slug: delete_record
    description: Deletes a record
    requires_permission: true
    args:
      - name: record_id
        description: Record to delete
    code: |
      def main(record_id: int):
          return {"deleted": record_id}
  - title: Shell Out
    code: |
      import subprocess
      def main():
          pass
---
tasks:
  - title: Clean Up
    target_kind: ticket
    event: on_update
    llm: openai/gpt-4.1-nano
    instruction: Delete spam tickets.
    tools:
      - tool: delete_record
        env: '{"soft": true}'
`

func TestParse(t *testing.T) {
	defs, err := Parse([]byte(sampleDefinitions))
	require.NoError(t, err)

	require.Len(t, defs.Tools, 2)
	require.Len(t, defs.Tasks, 1)
	assert.Equal(t, "delete_record", defs.Tools[0].Slug)
	assert.True(t, defs.Tools[0].RequiresPermission)
	assert.Equal(t, "Clean Up", defs.Tasks[0].Title)
	assert.Equal(t, `{"soft": true}`, defs.Tasks[0].Tools[0].Env)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("tools: [\n"))
	assert.Error(t, err)
}

func TestCatalog_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("should store tools and tasks", func(t *testing.T) {
		c := NewCatalog(store.NewMemory())
		path := filepath.Join(t.TempDir(), "defs.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleDefinitions), 0o644))

		defs, err := LoadFile(path)
		require.NoError(t, err)
		report, err := c.Apply(ctx, defs)
		require.NoError(t, err)

		assert.Equal(t, 2, report.Tools)
		assert.Equal(t, 1, report.Tasks)
		assert.Contains(t, report.InvalidTools["shell_out"], "Import of subprocess is not allowed (line: 1)")

		tool, err := c.GetTool(ctx, "delete_record")
		require.NoError(t, err)
		assert.True(t, tool.IsValid, tool.Reason)
		assert.Equal(t, "integer", tool.Args[0].Type)

		task, err := c.GetTask(ctx, "clean_up")
		require.NoError(t, err)
		assert.Equal(t, EventUpdate, task.Event)
	})

	t.Run("should stop at the first bad task", func(t *testing.T) {
		c := NewCatalog(store.NewMemory())
		defs := &Definitions{Tasks: []*Task{{Name: "bad", NoTarget: true}}}

		report, err := c.Apply(ctx, defs)
		assert.ErrorContains(t, err, "task bad")
		assert.Equal(t, 0, report.Tasks)
	})

	t.Run("should report unreadable files", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "failed to read")
	})
}
