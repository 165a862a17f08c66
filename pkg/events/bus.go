// Package events is the in-process event bus, built on watermill's
// gochannel pub/sub. Payloads travel as JSON.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// Topics
const (
	TopicChunks          = "otto.chunks"
	TopicExecutionStatus = "otto.execution.status"
	TopicPermission      = "otto.permission"
	TopicDocuments       = "otto.documents"
)

// Publisher publishes JSON payloads to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Bus wraps a watermill GoChannel
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates a bus. Messages published while a topic has no
// subscribers are dropped.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			NewWatermillLogger(logger),
		),
		logger: logger,
	}
}

// Publish implements Publisher
func (b *Bus) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns raw watermill messages for topic. Each must be acked.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Handle decodes each message on topic into T and calls fn until ctx ends.
// Every message is acked; handler failures are logged, never redelivered.
func Handle[T any](ctx context.Context, b *Bus, topic string, fn func(context.Context, T) error) error {
	msgs, err := b.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			var payload T
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				b.logger.Error().Err(err).Str("topic", topic).Msg("Dropping undecodable event")
				msg.Ack()
				continue
			}
			if err := fn(ctx, payload); err != nil {
				b.logger.Error().Err(err).Str("topic", topic).Msg("Event handler failed")
			}
			msg.Ack()
		}
	}()
	return nil
}

// Close stops delivery and waits for handlers to return
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}

// Nop discards everything
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, string, interface{}) error { return nil }
