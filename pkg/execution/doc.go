// Package execution drives a task's session through the interaction loop.
//
// An Execution moves Pending → Running → {Waiting, Success, Failure}. Each
// step (execute or resume) runs inside one commandqueue job; a Waiting
// execution continues when its permission requests are decided.
package execution
