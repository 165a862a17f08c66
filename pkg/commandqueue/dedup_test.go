package commandqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingSet(t *testing.T) {
	t.Run("should reject keys already pending", func(t *testing.T) {
		p := newPendingSet()
		assert.True(t, p.Add("resume:e1"))
		assert.False(t, p.Add("resume:e1"))
		assert.True(t, p.Add("execute:e1"))
		assert.Equal(t, 2, p.Size())

		p.Remove("resume:e1")
		assert.True(t, p.Add("resume:e1"))
	})
}
