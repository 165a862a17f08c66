package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	now := time.Date(2024, 12, 25, 14, 0, 30, 0, time.UTC)

	t.Run("should accept descriptors", func(t *testing.T) {
		next, err := NextRun("@every 1m", now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Minute), next)
	})

	t.Run("should accept five field expressions", func(t *testing.T) {
		next, err := NextRun("*/5 * * * *", now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 12, 25, 14, 5, 0, 0, time.UTC), next)
	})

	t.Run("should reject invalid expressions", func(t *testing.T) {
		_, err := NextRun("every minute", now)
		assert.ErrorContains(t, err, "invalid cron expression")
	})

	t.Run("should require an expression", func(t *testing.T) {
		_, err := ParseSchedule("")
		assert.EqualError(t, err, "schedule expression is required")
	})
}
