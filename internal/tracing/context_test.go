package tracing

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Run("should return empty values on a bare context", func(t *testing.T) {
		tc := FromContext(context.Background())
		assert.Equal(t, &TraceContext{}, tc)
	})

	t.Run("should round trip every field", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithTraceID(ctx, "trace-1")
		ctx = WithExecutionID(ctx, "exec-1")
		ctx = WithSessionID(ctx, "sess-1")
		ctx = WithTask(ctx, "Cleanup")

		assert.Equal(t, &TraceContext{
			TraceID:     "trace-1",
			ExecutionID: "exec-1",
			SessionID:   "sess-1",
			Task:        "Cleanup",
		}, FromContext(ctx))
	})

	t.Run("should generate distinct trace ids", func(t *testing.T) {
		assert.NotEqual(t, NewTraceID(), NewTraceID())
		assert.NotEmpty(t, GetTraceID(NewRequestContext(context.Background())))
	})

	t.Run("should keep fields but drop cancellation on detach", func(t *testing.T) {
		parent, cancel := context.WithTimeout(WithExecutionID(context.Background(), "exec-2"), time.Minute)
		cancel()

		detached := Detach(parent)
		assert.Equal(t, "exec-2", GetExecutionID(detached))
		assert.NoError(t, detached.Err())
	})
}

func TestLoggerFromContext(t *testing.T) {
	t.Run("should add tracing fields to log lines", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)

		ctx := WithSessionID(WithExecutionID(context.Background(), "exec-3"), "sess-3")
		logger := LoggerFromContext(ctx, base)
		logger.Info().Msg("hello")

		assert.Contains(t, buf.String(), `"execution_id":"exec-3"`)
		assert.Contains(t, buf.String(), `"session_id":"sess-3"`)
		assert.NotContains(t, buf.String(), "trace_id")
	})
}
