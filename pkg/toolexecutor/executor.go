package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/otto/internal/observability"
	"github.com/harun/otto/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// ErrToolNotFound is returned when a tool slug resolves to nothing
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidTool is returned when executing a tool that failed validation
var ErrInvalidTool = errors.New("tool is invalid")

// DefaultTimeout bounds a single tool run
const DefaultTimeout = 60 * time.Second

// Executor validates arguments and runs tools through a Runner
type Executor struct {
	runner  Runner
	timeout time.Duration
	logger  zerolog.Logger
}

// Config holds executor configuration
type Config struct {
	Runner  Runner
	Timeout time.Duration
	Logger  zerolog.Logger
}

// New creates an executor
func New(cfg Config) *Executor {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Executor{runner: cfg.Runner, timeout: cfg.Timeout, logger: cfg.Logger}
}

// Execute runs tool with args. Mock tools return their mock value without
// running code. Arguments the script does not declare, such as the
// model's explanation, are dropped before the run.
func (e *Executor) Execute(ctx context.Context, tool *Tool, args, env map[string]interface{}) (result *RunResult, err error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerTool, "tool.execute",
		attribute.String("tool", tool.Slug),
		attribute.Bool("mock", tool.Mock),
	)
	startTime := time.Now()
	logger := tracing.LoggerFromContext(ctx, e.logger).With().Str("tool", tool.Slug).Logger()

	defer func() {
		duration := time.Since(startTime)
		tracing.EndSpan(span, err)
		observability.RecordToolExecution(tool.Slug, duration, err == nil)

		status := "success"
		if err != nil {
			status = "error"
			logger.Warn().Err(err).Dur("duration", duration).Msg("Tool execution failed")
		} else {
			logger.Debug().Dur("duration", duration).Msg("Tool execution completed")
		}
		observability.RecordToolAudit(ctx, tool.Slug, ActorFromContext(ctx), status, map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"mock":        tool.Mock,
		})
	}()

	if tool.Mock {
		return mockResult(tool)
	}
	if !tool.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTool, tool.Reason)
	}
	if err := e.ValidateArgs(tool, args); err != nil {
		return nil, err
	}
	if e.runner == nil {
		return nil, errors.New("no script runner configured")
	}

	declared := make(map[string]interface{}, len(tool.Args))
	for _, a := range tool.Args {
		if v, ok := args[a.Name]; ok {
			declared[a.Name] = v
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logger.Debug().Msg("Executing tool")
	result, err = e.runner.Run(runCtx, RunRequest{
		Code:     tool.Code,
		Function: EntryFunction,
		Args:     declared,
		ArgNames: tool.ArgNames(),
		Env:      env,
		Refs: map[string]string{
			"tool":    tool.Slug,
			"task":    tracing.GetTask(ctx),
			"session": tracing.GetSessionID(ctx),
		},
	})
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("tool execution timeout after %v: %w", e.timeout, err)
	}
	return result, err
}

func mockResult(tool *Tool) (*RunResult, error) {
	var value interface{}
	if tool.MockReturnValue != "" {
		if err := json.Unmarshal([]byte(tool.MockReturnValue), &value); err != nil {
			return nil, fmt.Errorf("mock return value is not valid JSON: %w", err)
		}
	}
	return &RunResult{Result: value}, nil
}

// ValidateArgs checks args against the tool's declared parameters.
// Undeclared arguments are allowed.
func (e *Executor) ValidateArgs(tool *Tool, args map[string]interface{}) error {
	schema, err := argsSchema(tool)
	if err != nil {
		return fmt.Errorf("failed to build schema for %s: %w", tool.Slug, err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("parameter validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// argsSchema builds a JSON schema from the declared args
func argsSchema(tool *Tool) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(tool.Args))
	required := []interface{}{}
	for _, a := range tool.Args {
		prop := map[string]interface{}{}
		if a.Type != "" {
			prop["type"] = a.Type
		}
		properties[a.Name] = prop
		if a.Required {
			required = append(required, a.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}
