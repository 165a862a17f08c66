package sandbox

import "errors"

var (
	// ErrInterpreterRequired is returned when no python interpreter is configured
	ErrInterpreterRequired = errors.New("python interpreter is required")

	// ErrInvalidTimeout is returned when the timeout is invalid
	ErrInvalidTimeout = errors.New("invalid timeout (must be >= 0)")

	// ErrInvalidOutputLimit is returned when the output limit is invalid
	ErrInvalidOutputLimit = errors.New("invalid output limit (must be >= 0)")

	// ErrExecutionTimeout is returned when execution times out
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrScriptFailed wraps exceptions raised by the script
	ErrScriptFailed = errors.New("script failed")

	// ErrBadHarnessOutput is returned when the harness output cannot be read
	ErrBadHarnessOutput = errors.New("unreadable script output")
)
