package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/harun/otto/internal/observability"
	"github.com/harun/otto/pkg/notify"
	"github.com/harun/otto/pkg/store"
)

// Notice describes a new request for notification
type Notice struct {
	Request   string
	Task      string
	Execution string
	Session   string

	TargetKind string
	Target     string

	// Tool is the stored tool's slug, ToolSlug the name the model used
	Tool      string
	ToolSlug  string
	ToolUseID string
	ToolArgs  map[string]interface{}
}

// LogEntry records that a user was notified about a request
type LogEntry struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Request   string    `json:"request"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"created_at"`
}

// Link returns the path where a request is decided
func Link(requestID string) string {
	return "/app/otto-permission-request/" + requestID
}

type titled struct {
	Title string `json:"title"`
}

// Notify tells every user assigned to a notice's task, tool, execution,
// session or target about it. Each user hears about a request at most
// once, no matter how many relations match or how often Notify runs.
// Delivery failures are logged and do not stop the remaining users.
func (c *Coordinator) Notify(ctx context.Context, notices []Notice) error {
	type key struct{ user, request string }
	seen := map[key]bool{}
	var order []key
	byRequest := map[string]Notice{}

	for _, n := range notices {
		byRequest[n.Request] = n

		relations := [][2]string{
			{n.TargetKind, n.Target},
			{store.KindTask, n.Task},
			{store.KindTool, n.Tool},
			{store.KindExecution, n.Execution},
			{store.KindSession, n.Session},
		}
		var users []string
		for _, rel := range relations {
			found, err := c.assignees(ctx, rel[0], rel[1])
			if err != nil {
				return fmt.Errorf("failed to resolve assignees: %w", err)
			}
			users = append(users, found...)
		}
		sort.Strings(users)

		for _, u := range users {
			k := key{u, n.Request}
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
	}

	for _, k := range order {
		if err := c.notifyUser(ctx, k.user, byRequest[k.request]); err != nil {
			observability.RecordNotification("failed")
			c.logger.Error().Err(err).Str("user", k.user).Str("request_id", k.request).Msg("Failed to notify user")
		}
	}
	return nil
}

func (c *Coordinator) notifyUser(ctx context.Context, user string, n Notice) error {
	logged, err := store.QueryAs[*LogEntry](ctx, c.store, store.KindNotification,
		store.Eq("user", user),
		store.Eq("request", n.Request),
	)
	if err != nil {
		return err
	}
	if len(logged) > 0 {
		observability.RecordNotification("skipped")
		c.logger.Debug().Str("user", user).Str("request_id", n.Request).Msg("Notification skipped")
		return nil
	}

	toolTitle := c.title(ctx, store.KindTool, n.Tool, n.ToolSlug)
	taskTitle := c.title(ctx, store.KindTask, n.Task, n.Task)

	body := fmt.Sprintf("Permission requested to use tool %s for task %s", toolTitle, taskTitle)
	if n.TargetKind != "" && n.Target != "" {
		body += fmt.Sprintf(" on target %s - %s", n.TargetKind, n.Target)
	}

	entry := &LogEntry{
		ID:        newID(),
		User:      user,
		Request:   n.Request,
		Subject:   fmt.Sprintf("Otto Permission Request - %s for task %s", toolTitle, taskTitle),
		Body:      body,
		Link:      Link(n.Request),
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.Save(ctx, store.KindNotification, entry.ID, entry); err != nil {
		return fmt.Errorf("failed to log notification: %w", err)
	}

	if c.sink != nil {
		if err := c.sink.Notify(ctx, notify.Notification{
			User:    user,
			Subject: entry.Subject,
			Body:    entry.Body,
			Link:    entry.Link,
		}); err != nil {
			return err
		}
	}

	observability.RecordNotification("sent")
	c.logger.Debug().Str("user", user).Str("request_id", n.Request).Msg("Notification sent")
	return nil
}

// title reads a document's title, falling back when it is missing
func (c *Coordinator) title(ctx context.Context, kind, id, fallback string) string {
	if id == "" {
		return fallback
	}
	var doc titled
	if err := c.store.Get(ctx, kind, id, &doc); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn().Err(err).Str("kind", kind).Str("id", id).Msg("Failed to read title")
		}
		return fallback
	}
	if doc.Title == "" {
		return fallback
	}
	return doc.Title
}
