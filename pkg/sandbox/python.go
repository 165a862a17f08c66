package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/harun/otto/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

//go:embed harness.py
var harness string

// PythonRunner runs tool scripts in a python subprocess on the host. The
// script source, arguments and env travel over stdin as JSON; the harness
// answers with one JSON object on stdout.
type PythonRunner struct {
	config Config
	logger zerolog.Logger
}

var _ toolexecutor.Runner = (*PythonRunner)(nil)

// NewPythonRunner creates a runner
func NewPythonRunner(config Config, logger zerolog.Logger) (*PythonRunner, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &PythonRunner{config: config, logger: logger.With().Str("component", "sandbox").Logger()}, nil
}

type harnessInput struct {
	Code     string                 `json:"code"`
	Function string                 `json:"function"`
	Args     map[string]interface{} `json:"args"`
	ArgNames []string               `json:"arg_names"`
	Env      map[string]interface{} `json:"env"`
	Refs     map[string]string      `json:"refs"`
	Actor    string                 `json:"actor"`
}

type harnessOutput struct {
	Result interface{} `json:"result"`
	Stdout string      `json:"stdout"`
	Stderr string      `json:"stderr"`
	Error  *string     `json:"error"`
}

// Run executes req.Function from req.Code. Exceptions raised by the script
// return ErrScriptFailed along with whatever the script printed.
func (r *PythonRunner) Run(ctx context.Context, req toolexecutor.RunRequest) (*toolexecutor.RunResult, error) {
	function := req.Function
	if function == "" {
		function = toolexecutor.EntryFunction
	}

	input, err := json.Marshal(harnessInput{
		Code:     req.Code,
		Function: function,
		Args:     req.Args,
		ArgNames: req.ArgNames,
		Env:      req.Env,
		Refs:     req.Refs,
		Actor:    toolexecutor.ActorFromContext(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode script input: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	workDir, err := os.MkdirTemp("", "otto-script-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	cmd := exec.CommandContext(ctx, r.config.Python, "-c", harness)
	cmd.Dir = workDir
	cmd.Env = r.buildEnvironment(workDir)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &toolexecutor.RunResult{Stderr: r.truncate(stderr.String())}, fmt.Errorf("%w: %w", ErrExecutionTimeout, ctx.Err())
	}
	if runErr != nil {
		r.logger.Warn().Err(runErr).Str("stderr", r.truncate(stderr.String())).Msg("Python harness failed")
		return &toolexecutor.RunResult{Stderr: r.truncate(stderr.String())}, fmt.Errorf("failed to run %s: %w", r.config.Python, runErr)
	}

	var out harnessOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHarnessOutput, err)
	}

	result := &toolexecutor.RunResult{
		Result: out.Result,
		Stdout: r.truncate(out.Stdout),
		Stderr: r.truncate(out.Stderr),
	}

	r.logger.Debug().
		Str("function", function).
		Dur("duration", duration).
		Bool("failed", out.Error != nil).
		Msg("Script executed")

	if out.Error != nil {
		return result, fmt.Errorf("%w: %s", ErrScriptFailed, *out.Error)
	}
	return result, nil
}

// buildEnvironment builds the process environment for the interpreter
func (r *PythonRunner) buildEnvironment(workDir string) []string {
	result := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workDir,
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONIOENCODING=utf-8",
	}

	keys := make([]string, 0, len(r.config.Env))
	for k := range r.config.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		result = append(result, fmt.Sprintf("%s=%s", k, r.config.Env[k]))
	}
	return result
}

func (r *PythonRunner) truncate(s string) string {
	if r.config.MaxOutputBytes <= 0 || len(s) <= r.config.MaxOutputBytes {
		return s
	}
	return s[:r.config.MaxOutputBytes] + "\n[truncated]"
}
