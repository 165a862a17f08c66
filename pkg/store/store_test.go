package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Viewed bool              `json:"viewed"`
	Count  int               `json:"count"`
	Meta   map[string]string `json:"meta,omitempty"`
}

func setupStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(SQLiteConfig{
		Path:   filepath.Join(t.TempDir(), "otto.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	for name, s := range setupStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			t.Run("should return ErrNotFound for missing documents", func(t *testing.T) {
				var d testDoc
				assert.ErrorIs(t, s.Get(ctx, KindExecution, "missing", &d), ErrNotFound)
				assert.ErrorIs(t, s.Delete(ctx, KindExecution, "missing"), ErrNotFound)

				ok, err := Exists(ctx, s, KindExecution, "missing")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("should save and overwrite documents", func(t *testing.T) {
				require.NoError(t, s.Save(ctx, KindExecution, "e1", testDoc{ID: "e1", Status: "Pending"}))
				require.NoError(t, s.Save(ctx, KindExecution, "e1", testDoc{ID: "e1", Status: "Running", Count: 2}))

				var d testDoc
				require.NoError(t, s.Get(ctx, KindExecution, "e1", &d))
				assert.Equal(t, "Running", d.Status)
				assert.Equal(t, 2, d.Count)
			})

			t.Run("should keep kinds apart", func(t *testing.T) {
				require.NoError(t, s.Save(ctx, KindTask, "e1", testDoc{ID: "task"}))

				var d testDoc
				require.NoError(t, s.Get(ctx, KindExecution, "e1", &d))
				assert.Equal(t, "e1", d.ID)
			})

			t.Run("should filter by field in creation order", func(t *testing.T) {
				require.NoError(t, s.Save(ctx, KindPermissionRequest, "p1", testDoc{ID: "p1", Status: "Pending"}))
				require.NoError(t, s.Save(ctx, KindPermissionRequest, "p2", testDoc{ID: "p2", Status: "Granted", Viewed: true}))
				require.NoError(t, s.Save(ctx, KindPermissionRequest, "p3", testDoc{ID: "p3", Status: "Pending", Viewed: true, Meta: map[string]string{"tool": "delete_record"}}))

				pending, err := QueryAs[testDoc](ctx, s, KindPermissionRequest, Eq("status", "Pending"))
				require.NoError(t, err)
				require.Len(t, pending, 2)
				assert.Equal(t, "p1", pending[0].ID)
				assert.Equal(t, "p3", pending[1].ID)

				viewed, err := QueryAs[testDoc](ctx, s, KindPermissionRequest, Eq("status", "Pending"), Eq("viewed", true))
				require.NoError(t, err)
				require.Len(t, viewed, 1)
				assert.Equal(t, "p3", viewed[0].ID)

				nested, err := QueryAs[testDoc](ctx, s, KindPermissionRequest, Eq("meta.tool", "delete_record"))
				require.NoError(t, err)
				assert.Len(t, nested, 1)

				all, err := s.Query(ctx, KindPermissionRequest)
				require.NoError(t, err)
				assert.Len(t, all, 3)
			})

			t.Run("should delete documents", func(t *testing.T) {
				require.NoError(t, s.Save(ctx, KindAssignment, "a1", testDoc{ID: "a1"}))
				require.NoError(t, s.Delete(ctx, KindAssignment, "a1"))

				ok, err := Exists(ctx, s, KindAssignment, "a1")
				require.NoError(t, err)
				assert.False(t, ok)
			})
		})
	}
}

func TestSQLite_Reopen(t *testing.T) {
	t.Run("should persist across reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "otto.db")
		s, err := NewSQLite(SQLiteConfig{Path: path, Logger: zerolog.Nop()})
		require.NoError(t, err)
		require.NoError(t, s.Save(context.Background(), KindSession, "s1", testDoc{ID: "s1"}))
		require.NoError(t, s.Close())

		s, err = NewSQLite(SQLiteConfig{Path: path, Logger: zerolog.Nop()})
		require.NoError(t, err)
		defer s.Close()

		var d testDoc
		require.NoError(t, s.Get(context.Background(), KindSession, "s1", &d))
		assert.Equal(t, "s1", d.ID)
	})

	t.Run("should require a path", func(t *testing.T) {
		_, err := NewSQLite(SQLiteConfig{})
		assert.Error(t, err)
	})
}
