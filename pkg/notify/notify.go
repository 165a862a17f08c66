// Package notify delivers user notifications.
package notify

import (
	"context"
	"fmt"

	"github.com/harun/otto/pkg/events"
	"github.com/rs/zerolog"
)

// TopicNotifications carries notifications on the event bus
const TopicNotifications = "otto.notifications"

// Notification is one message for one user
type Notification struct {
	User    string `json:"user"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Link    string `json:"link,omitempty"`
}

// Sink delivers notifications
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the log
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify implements Sink
func (s *LogSink) Notify(_ context.Context, n Notification) error {
	s.logger.Info().
		Str("user", n.User).
		Str("subject", n.Subject).
		Str("link", n.Link).
		Msg(n.Body)
	return nil
}

// BusSink publishes notifications on the event bus
type BusSink struct {
	publisher events.Publisher
}

// NewBusSink creates a bus sink
func NewBusSink(p events.Publisher) *BusSink {
	return &BusSink{publisher: p}
}

// Notify implements Sink
func (s *BusSink) Notify(ctx context.Context, n Notification) error {
	return s.publisher.Publish(ctx, TopicNotifications, n)
}

// Multi delivers to every sink and returns the first error
type Multi []Sink

// Notify implements Sink
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var first error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil && first == nil {
			first = fmt.Errorf("notify %s: %w", n.User, err)
		}
	}
	return first
}
