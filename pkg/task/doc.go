// Package task defines tasks: an instruction, a model and a set of tools
// that run against a target document when a matching document event
// arrives or when started by hand.
//
// Definitions are loaded from YAML files (LoadFile) into a store-backed
// Catalog, optionally kept in sync with a Watcher. A Dispatcher listens on
// the document event topic and starts executions through a Starter.
package task
