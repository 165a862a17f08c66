// Package commandqueue runs execution jobs on lanes keyed by execution id.
//
// Invariants:
// - Jobs in the same lane execute one at a time in FIFO order.
// - Jobs in different lanes run concurrently, up to the queue's concurrency.
// - A job identical to one still waiting in its lane is dropped.
// - Queue activity is observable through enqueued/completed events and metrics.
//
// Usage:
//
//	q := commandqueue.New(commandqueue.Config{Handler: svc.Handle, Concurrency: 4})
//	defer q.Close()
//	q.Enqueue(ctx, commandqueue.Job{Kind: commandqueue.KindResume, ExecutionID: id})
package commandqueue
