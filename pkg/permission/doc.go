// Package permission gates sensitive tool calls behind a human decision.
//
// An execution creates a pending Request the first time it sees a gated
// tool_use and stops. Granting or denying the request records the
// decision, optionally stores override arguments on the tool_use, and asks
// a Resumer to continue the execution. Assigned users are notified once
// per request.
package permission
