package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/harun/otto/pkg/toolexecutor"
	"gopkg.in/yaml.v3"
)

// Definitions is the content of a task file
type Definitions struct {
	Tools []*toolexecutor.Tool `yaml:"tools"`
	Tasks []*Task              `yaml:"tasks"`
}

// LoadReport summarizes what Apply stored
type LoadReport struct {
	Tools int
	Tasks int
	// InvalidTools maps a stored but unusable tool to its reasons
	InvalidTools map[string]string
}

// LoadFile parses a YAML definition file. Several documents separated by
// "---" are merged.
func LoadFile(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes YAML definitions
func Parse(data []byte) (*Definitions, error) {
	out := &Definitions{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc Definitions
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		out.Tools = append(out.Tools, doc.Tools...)
		out.Tasks = append(out.Tasks, doc.Tasks...)
	}
	return out, nil
}

// Apply stores the definitions, tools first so tasks can refer to them
func (c *Catalog) Apply(ctx context.Context, defs *Definitions) (*LoadReport, error) {
	report := &LoadReport{InvalidTools: map[string]string{}}

	for _, tool := range defs.Tools {
		if err := c.SaveTool(ctx, tool); err != nil {
			return report, fmt.Errorf("tool %s: %w", tool.Slug, err)
		}
		report.Tools++
		if !tool.IsValid {
			report.InvalidTools[tool.Slug] = tool.Reason
		}
	}

	for _, t := range defs.Tasks {
		if err := c.SaveTask(ctx, t); err != nil {
			return report, fmt.Errorf("task %s: %w", t.Name, err)
		}
		report.Tasks++
	}
	return report, nil
}
