// Package store persists JSON documents by kind and id.
//
// Sessions, executions, permission requests, tasks, tools, assignments and
// notification log entries all live in one documents table. Query filters
// match top-level or dotted JSON fields by equality.
package store
