package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/otto/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher(t *testing.T) {
	t.Run("should load existing files and reload on change", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(sampleDefinitions), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

		catalog := NewCatalog(store.NewMemory())
		applied := make(chan string, 10)
		w, err := NewWatcher(catalog, zerolog.Nop(), func(path string, _ *LoadReport, err error) {
			if err == nil {
				applied <- filepath.Base(path)
			}
		})
		require.NoError(t, err)
		w.mu.Lock()
		w.debounce = 10 * time.Millisecond
		w.mu.Unlock()
		t.Cleanup(func() { _ = w.Stop() })

		require.NoError(t, w.Watch(dir))
		assert.Equal(t, "a.yaml", <-applied)

		second := `
tasks:
  - name: nightly
    no_target: true
    get_context: |
      def get_context(doc, event):
          return "run"
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(second), 0o644))

		select {
		case name := <-applied:
			assert.Equal(t, "b.yml", name)
		case <-time.After(2 * time.Second):
			t.Fatal("definitions not reloaded")
		}

		task, err := catalog.GetTask(context.Background(), "nightly")
		require.NoError(t, err)
		assert.Equal(t, EventManual, task.Event)
	})
}
