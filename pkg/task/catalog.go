package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/otto/pkg/session"
	"github.com/harun/otto/pkg/store"
	"github.com/harun/otto/pkg/toolexecutor"
)

// ToolMapItem is what an execution needs to run a tool called by slug
type ToolMapItem struct {
	// ToolName is the stored tool's slug
	ToolName           string
	Env                string
	RequiresPermission bool
}

// Catalog reads and writes tasks and tools in the document store
type Catalog struct {
	store store.Store
}

// NewCatalog creates a catalog backed by s
func NewCatalog(s store.Store) *Catalog {
	return &Catalog{store: s}
}

// SaveTool validates and stores a tool. Tools that fail script validation
// are stored with IsValid unset and their reasons; only structural
// problems return an error.
func (c *Catalog) SaveTool(ctx context.Context, tool *toolexecutor.Tool) error {
	if err := tool.Validate(); err != nil {
		return err
	}
	return c.store.Save(ctx, store.KindTool, tool.Slug, tool)
}

// GetTool loads a tool by slug. Unknown slugs return toolexecutor.ErrToolNotFound.
func (c *Catalog) GetTool(ctx context.Context, slug string) (*toolexecutor.Tool, error) {
	var tool toolexecutor.Tool
	if err := c.store.Get(ctx, store.KindTool, slug, &tool); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", toolexecutor.ErrToolNotFound, slug)
		}
		return nil, err
	}
	return &tool, nil
}

// SaveTask validates and stores a task
func (c *Catalog) SaveTask(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return c.store.Save(ctx, store.KindTask, t.Name, t)
}

// GetTask loads a task by name
func (c *Catalog) GetTask(ctx context.Context, name string) (*Task, error) {
	var t Task
	if err := c.store.Get(ctx, store.KindTask, name, &t); err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", name, err)
	}
	return &t, nil
}

// TasksFor returns the enabled tasks listening for event on kind
func (c *Catalog) TasksFor(ctx context.Context, kind string, event Event) ([]*Task, error) {
	tasks, err := store.QueryAs[*Task](ctx, c.store, store.KindTask,
		store.Eq("target_kind", kind),
		store.Eq("event", string(event)),
	)
	if err != nil {
		return nil, err
	}

	enabled := tasks[:0]
	for _, t := range tasks {
		if t.IsEnabled() {
			enabled = append(enabled, t)
		}
	}
	return enabled, nil
}

// Tools returns the schemas offered to a task's sessions: every enabled,
// valid tool under its task slug, followed by the meta tools.
func (c *Catalog) Tools(ctx context.Context, t *Task) ([]session.ToolSchema, error) {
	var schemas []session.ToolSchema
	for _, ref := range t.Tools {
		if !ref.IsEnabled() {
			continue
		}
		tool, err := c.GetTool(ctx, ref.Tool)
		if errors.Is(err, toolexecutor.ErrToolNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !tool.IsValid {
			continue
		}
		schemas = append(schemas, tool.Schema(ref.Slug))
	}
	return append(schemas, toolexecutor.MetaTools()...), nil
}

// ToolMap maps the slug a session sees to the tool behind it. Meta tools
// are not included.
func (c *Catalog) ToolMap(ctx context.Context, t *Task) (map[string]ToolMapItem, error) {
	out := make(map[string]ToolMapItem, len(t.Tools))
	for _, ref := range t.Tools {
		tool, err := c.GetTool(ctx, ref.Tool)
		if errors.Is(err, toolexecutor.ErrToolNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		slug := ref.Slug
		if slug == "" {
			slug = tool.Slug
		}
		out[slug] = ToolMapItem{
			ToolName:           tool.Slug,
			Env:                ref.Env,
			RequiresPermission: tool.RequiresPermission,
		}
	}
	return out, nil
}

// ValidateTools lists the reasons the task's tools cannot run
func (c *Catalog) ValidateTools(ctx context.Context, t *Task) ([]string, error) {
	var reasons []string
	for _, ref := range t.Tools {
		tool, err := c.GetTool(ctx, ref.Tool)
		if errors.Is(err, toolexecutor.ErrToolNotFound) {
			reasons = append(reasons, fmt.Sprintf("Tool %s not found", ref.Tool))
			continue
		}
		if err != nil {
			return nil, err
		}

		if !tool.IsValid {
			reasons = append(reasons, fmt.Sprintf("Tool %s is not valid", tool.Slug))
		}
		if ref.Env == "" {
			continue
		}
		if _, err := ParseEnv(ref.Env); err != nil {
			reasons = append(reasons, fmt.Sprintf("Tool %s env is not valid JSON: %v", tool.Slug, err))
		}
	}
	return reasons, nil
}

// ParseEnv decodes a tool env. An empty env is nil.
func ParseEnv(env string) (map[string]interface{}, error) {
	if env == "" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(env), &out); err != nil {
		return nil, err
	}
	return out, nil
}
