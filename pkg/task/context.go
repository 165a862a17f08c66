package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/otto/pkg/toolexecutor"
)

// ErrNoContext is returned when a task has neither get_context nor a target
var ErrNoContext = errors.New("get_context is not set on Task and no target Doc is provided")

// ContextFunction is the entry function of get_context scripts
const ContextFunction = "get_context"

// ConditionFunction is the entry function of condition scripts
const ConditionFunction = "condition"

var conditionDefRe = regexp.MustCompile(`(?m)^def\s+condition\s*\(`)

// ResolveContext produces the first user input of an execution. Without a
// get_context script the target document itself is the context. Script
// results pass through when they are strings; lists become one input per
// element, other values are JSON encoded.
func ResolveContext(ctx context.Context, runner toolexecutor.Runner, t *Task, doc json.RawMessage, event Event) ([]string, error) {
	if strings.TrimSpace(t.GetContext) == "" {
		if len(doc) == 0 {
			return nil, ErrNoContext
		}
		return []string{string(doc)}, nil
	}

	res, err := runner.Run(ctx, toolexecutor.RunRequest{
		Code:     t.GetContext,
		Function: ContextFunction,
		Args:     map[string]interface{}{"doc": decodeDoc(doc), "event": string(event)},
		ArgNames: []string{"doc", "event"},
		Refs:     map[string]string{"task": t.Name},
	})
	if err != nil {
		return nil, err
	}

	switch v := res.Result.(type) {
	case string:
		return []string{v}, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, part := range v {
			s, err := contextPart(part)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return encodeContext(v)
	}
}

// contextPart flattens one list element. User content blocks contribute
// their text, url or data.
func contextPart(part interface{}) (string, error) {
	switch v := part.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		switch v["type"] {
		case "text":
			if s, ok := v["text"].(string); ok {
				return s, nil
			}
		case "image", "file":
			for _, key := range []string{"url", "data"} {
				if s, ok := v[key].(string); ok && s != "" {
					return s, nil
				}
			}
		}
	}
	parts, err := encodeContext(part)
	if err != nil {
		return "", err
	}
	return parts[0], nil
}

func encodeContext(v interface{}) ([]string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode context: %w", err)
	}
	return []string{string(data)}, nil
}

// EvalCondition runs the task's condition against doc. An empty condition
// always matches.
func EvalCondition(ctx context.Context, runner toolexecutor.Runner, t *Task, doc json.RawMessage) (bool, error) {
	if strings.TrimSpace(t.Condition) == "" {
		return true, nil
	}

	res, err := runner.Run(ctx, toolexecutor.RunRequest{
		Code:     conditionScript(t.Condition),
		Function: ConditionFunction,
		Args:     map[string]interface{}{"doc": decodeDoc(doc)},
		ArgNames: []string{"doc"},
		Refs:     map[string]string{"task": t.Name},
	})
	if err != nil {
		return false, err
	}
	ok, _ := res.Result.(bool)
	return ok, nil
}

// conditionScript wraps a bare expression into a condition function
func conditionScript(condition string) string {
	if conditionDefRe.MatchString(condition) {
		return condition
	}
	return fmt.Sprintf("def condition(doc):\n    return bool(%s)\n", strings.TrimSpace(condition))
}

func decodeDoc(doc json.RawMessage) interface{} {
	if len(doc) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return string(doc)
	}
	return v
}
