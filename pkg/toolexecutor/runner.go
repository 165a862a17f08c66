package toolexecutor

import "context"

// RunRequest is a script invocation
type RunRequest struct {
	Code string
	// Function defaults to EntryFunction
	Function string
	Args     map[string]interface{}
	// ArgNames are passed as keyword arguments when present in Args
	ArgNames []string
	// Env is exposed to the script as otto.env
	Env map[string]interface{}
	// Refs names the tool, task and session for the script's logging
	Refs map[string]string
}

// RunResult is what a script produced
type RunResult struct {
	Result interface{} `json:"result"`
	Stdout string      `json:"stdout"`
	Stderr string      `json:"stderr"`
}

// Runner executes scripts. The acting user, if any, is read from ctx with
// ActorFromContext.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}
