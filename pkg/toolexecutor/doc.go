// Package toolexecutor defines script tools and runs them for an execution.
//
// Invariants:
// - Tool scripts define a main function and import only allow-listed modules.
// - Arguments are schema-validated before a script runs.
// - Invalid tools never run; mock tools never run code.
// - The acting user travels in the context (WithActor), never in globals.
package toolexecutor
