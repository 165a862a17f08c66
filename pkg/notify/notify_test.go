package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	topic   string
	payload interface{}
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload interface{}) error {
	p.topic = topic
	p.payload = payload
	return p.err
}

func TestSinks(t *testing.T) {
	n := Notification{
		User:    "alice@example.com",
		Subject: "Otto Permission Request - Delete for task Cleanup",
		Body:    "Permission requested",
		Link:    "/app/otto-permission-request/p1",
	}

	t.Run("should log notifications", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewLogSink(zerolog.New(&buf)).Notify(context.Background(), n))

		assert.Contains(t, buf.String(), `"user":"alice@example.com"`)
		assert.Contains(t, buf.String(), `"link":"/app/otto-permission-request/p1"`)
	})

	t.Run("should publish notifications", func(t *testing.T) {
		p := &recordingPublisher{}
		require.NoError(t, NewBusSink(p).Notify(context.Background(), n))

		assert.Equal(t, TopicNotifications, p.topic)
		assert.Equal(t, n, p.payload)
	})

	t.Run("should deliver to every sink and keep the first error", func(t *testing.T) {
		failing := &recordingPublisher{err: errors.New("closed")}
		ok := &recordingPublisher{}

		err := Multi{NewBusSink(failing), NewBusSink(ok)}.Notify(context.Background(), n)

		assert.ErrorContains(t, err, "closed")
		assert.Equal(t, n, ok.payload)
	})
}
