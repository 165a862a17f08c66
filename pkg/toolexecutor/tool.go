package toolexecutor

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/harun/otto/pkg/session"
)

// Meta tool names
const (
	ToolThink   = "think"
	ToolEndTask = "end_task"
)

// ValidTypes are the JSON types an argument may declare
var ValidTypes = []string{"string", "integer", "number", "boolean", "array", "object"}

// Arg is one tool parameter
type Arg struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required" yaml:"required"`
	// Default is the JSON encoded default, if any
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Tool is a script the model can call
type Tool struct {
	Slug               string `json:"slug" yaml:"slug"`
	Title              string `json:"title" yaml:"title"`
	Description        string `json:"description" yaml:"description"`
	Code               string `json:"code" yaml:"code"`
	Args               []Arg  `json:"args" yaml:"args"`
	RequiresPermission bool   `json:"requires_permission" yaml:"requires_permission"`
	Mock               bool   `json:"mock" yaml:"mock"`
	// MockReturnValue is JSON returned by mock tools instead of running code
	MockReturnValue string `json:"mock_return_value,omitempty" yaml:"mock_return_value,omitempty"`

	IsValid bool   `json:"is_valid" yaml:"-"`
	Reason  string `json:"reason,omitempty" yaml:"-"`
}

// IsMetaTool reports whether name is reserved for a meta tool
func IsMetaTool(name string) bool {
	return name == ToolThink || name == ToolEndTask
}

// MetaTools returns the schemas offered to every task
func MetaTools() []session.ToolSchema {
	return []session.ToolSchema{
		{
			Name:        ToolThink,
			Description: "Use this tool to think about something. It will not obtain new information or change the database, but just append the thought to the log. Use it when complex reasoning or some cache memory is needed.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"thought": map[string]interface{}{
						"type":        "string",
						"description": "A thought to think about",
					},
				},
				"required": []interface{}{"thought"},
			},
		},
		{
			Name:        ToolEndTask,
			Description: "Use this tool to indicate the success or failure of this task. It should be called only once.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"explanation": map[string]interface{}{
						"type":        "string",
						"description": "Short explanation of why the task is being ended.",
					},
				},
				"required": []interface{}{"explanation"},
			},
		},
	}
}

// Validate fills the title or slug from the other, reads args from the
// script and sets IsValid and Reason. It returns an error only when the
// tool cannot be saved at all.
func (t *Tool) Validate() error {
	t.normalizeNames()
	if t.Slug == "" {
		return errors.New("tool needs a slug or title")
	}
	if IsMetaTool(t.Slug) {
		return fmt.Errorf("slug cannot be named %q as it is a meta tool", t.Slug)
	}

	t.IsValid = true
	t.Reason = ""

	reasons, defs := ValidateScript(t.Code)
	if len(reasons) > 0 {
		t.setReason(strings.Join(reasons, "\n"))
		return nil
	}

	t.setArgs(defs)
	t.validateArgTypes()
	t.validateDescriptions()
	return nil
}

func (t *Tool) normalizeNames() {
	if t.Title != "" && t.Slug == "" {
		var parts []string
		for _, w := range strings.Fields(t.Title) {
			if isAlpha(w) {
				parts = append(parts, strings.ToLower(w))
			}
		}
		t.Slug = strings.Join(parts, "_")
	}

	if t.Slug != "" && t.Title == "" {
		parts := strings.Split(t.Slug, "_")
		for i, p := range parts {
			if p != "" {
				parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
			}
		}
		t.Title = strings.Join(parts, " ")
	}
}

// setArgs rebuilds Args from the script, keeping known types and descriptions
func (t *Tool) setArgs(defs []ArgDefinition) {
	prev := make(map[string]Arg, len(t.Args))
	for _, a := range t.Args {
		prev[a.Name] = a
	}

	t.Args = make([]Arg, 0, len(defs))
	for _, d := range defs {
		argType := pythonTypes[d.PyType]
		if argType == "" {
			argType = prev[d.Name].Type
		}
		if argType == "" {
			t.setReason("Could not infer JSON type for argument: " + d.Name)
		}

		t.Args = append(t.Args, Arg{
			Name:        d.Name,
			Type:        argType,
			Description: prev[d.Name].Description,
			Required:    !d.HasDefault,
			Default:     d.Default,
		})
	}
}

func (t *Tool) validateArgTypes() {
	for _, a := range t.Args {
		if a.Type == "" || isValidType(a.Type) {
			continue
		}
		t.setReason(fmt.Sprintf("Invalid JSON type for %s: %s, please specify valid type from %v", a.Name, a.Type, ValidTypes))
	}
}

func (t *Tool) validateDescriptions() {
	if t.Description == "" {
		t.setReason("Tool description missing")
	}
	for _, a := range t.Args {
		if a.Description == "" {
			t.setReason("Description missing for argument: " + a.Name)
		}
	}
}

func (t *Tool) setReason(reason string) {
	if t.Reason == "" {
		t.Reason = reason
	} else {
		t.Reason += "\n" + reason
	}
	t.IsValid = false
}

// ArgNames returns the declared parameter names in order
func (t *Tool) ArgNames() []string {
	names := make([]string, len(t.Args))
	for i, a := range t.Args {
		names[i] = a.Name
	}
	return names
}

// Schema returns the function schema offered to the model under slug, or
// under the tool's own slug when slug is empty. An "explanation" argument
// is always required.
func (t *Tool) Schema(slug string) session.ToolSchema {
	if slug == "" {
		slug = t.Slug
	}

	properties := map[string]interface{}{
		"explanation": map[string]interface{}{
			"type":        "string",
			"description": "A short explanation of why the this tool is being called, and how it contributes to the task.",
		},
	}
	required := []interface{}{"explanation"}
	for _, a := range t.Args {
		properties[a.Name] = map[string]interface{}{
			"type":        a.Type,
			"description": a.Description,
		}
		if a.Required {
			required = append(required, a.Name)
		}
	}

	return session.ToolSchema{
		Name:        slug,
		Description: t.Description,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

func isValidType(typ string) bool {
	for _, v := range ValidTypes {
		if v == typ {
			return true
		}
	}
	return false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}
