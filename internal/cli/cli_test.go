package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	t.Run("should split kind and id", func(t *testing.T) {
		target, err := parseTarget("ticket:T-1")
		require.NoError(t, err)
		assert.Equal(t, "ticket", target.Kind)
		assert.Equal(t, "T-1", target.ID)
	})

	t.Run("should keep colons in the id", func(t *testing.T) {
		target, err := parseTarget("url:https://example.com")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", target.ID)
	})

	t.Run("should allow no target", func(t *testing.T) {
		target, err := parseTarget("")
		require.NoError(t, err)
		assert.Empty(t, target.Kind)
	})

	t.Run("should reject malformed targets", func(t *testing.T) {
		for _, v := range []string{"ticket", ":1", "ticket:"} {
			_, err := parseTarget(v)
			assert.Error(t, err, v)
		}
	})
}

func TestParseOverride(t *testing.T) {
	t.Run("should decode a JSON object", func(t *testing.T) {
		override, err := parseOverride(`{"record_id": 9}`)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"record_id": float64(9)}, override)
	})

	t.Run("should allow no override", func(t *testing.T) {
		override, err := parseOverride("")
		require.NoError(t, err)
		assert.Nil(t, override)
	})

	t.Run("should reject other JSON", func(t *testing.T) {
		_, err := parseOverride(`[1, 2]`)
		assert.ErrorContains(t, err, "override must be a JSON object")
	})
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*1e9))
	assert.Equal(t, "2m3s", formatDuration(123*1e9))
	assert.Equal(t, "1h0m1s", formatDuration(3601*1e9))
}

func TestIsRunning(t *testing.T) {
	t.Run("should treat a missing pid file as stopped", func(t *testing.T) {
		assert.False(t, isRunning(getPIDFilePath(t.TempDir())))
	})
}
