package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/otto/internal/observability"
	"github.com/harun/otto/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Kind is the step a job performs
type Kind string

const (
	KindExecute Kind = "execute"
	KindResume  Kind = "resume"
)

// ErrClosed is returned for jobs submitted after Close
var ErrClosed = errors.New("queue is closed")

// Job is one execution step
type Job struct {
	Kind        Kind   `json:"kind"`
	ExecutionID string `json:"execution_id"`
}

// Key identifies a job for dedup
func (j Job) Key() string {
	return string(j.Kind) + ":" + j.ExecutionID
}

// Handler runs a job to completion
type Handler func(ctx context.Context, job Job) error

// Options tunes a single job
type Options struct {
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// taskRecord tracks a job's execution state
type taskRecord struct {
	id         string
	job        Job
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	options    Options
	dedup      bool
	result     chan error
}

// laneState manages execution state for a single lane
type laneState struct {
	generation int
	queue      []*taskRecord
	running    bool
	mu         sync.Mutex
}

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event represents a queue event
type Event struct {
	Type   string // "enqueued", "deduped" or "completed"
	Lane   string
	TaskID string
	Job    Job
	Data   map[string]interface{}
}

// Config holds queue configuration
type Config struct {
	Handler Handler
	// Concurrency bounds jobs running across all lanes
	Concurrency int
	Logger      zerolog.Logger
}

// Queue serializes jobs per execution and bounds overall concurrency
type Queue struct {
	handler   Handler
	logger    zerolog.Logger
	lanes     map[string]*laneState
	pending   *pendingSet
	slots     chan struct{}
	taskIDSeq int
	closed    bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a queue
func New(cfg Config) *Queue {
	observability.EnsureRegistered()

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		handler:       cfg.Handler,
		logger:        cfg.Logger,
		lanes:         make(map[string]*laneState),
		pending:       newPendingSet(),
		slots:         make(chan struct{}, cfg.Concurrency),
		ctx:           ctx,
		cancel:        cancel,
		eventHandlers: make(map[string][]EventHandler),
	}
}

// Enqueue schedules job without waiting for it. It returns false when an
// identical job is already waiting in the lane or the queue is closed.
// The job runs with a context detached from ctx's cancellation.
func (q *Queue) Enqueue(ctx context.Context, job Job) bool {
	_, ok := q.submit(ctx, job, Options{}, true)
	return ok
}

// EnqueueWithOptions is Enqueue with per-job options
func (q *Queue) EnqueueWithOptions(ctx context.Context, job Job, opts Options) bool {
	_, ok := q.submit(ctx, job, opts, true)
	return ok
}

// Run schedules job and waits for it to finish. It never dedups.
func (q *Queue) Run(ctx context.Context, job Job) error {
	result, ok := q.submit(ctx, job, Options{}, false)
	if !ok {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) submit(ctx context.Context, job Job, opts Options, dedup bool) (<-chan error, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	lane := job.ExecutionID

	ctx, span := tracing.StartSpan(
		tracing.WithExecutionID(ctx, job.ExecutionID),
		"otto.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
		attribute.String("kind", string(job.Kind)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, q.logger)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, false
	}
	if dedup && !q.pending.Add(job.Key()) {
		q.mu.Unlock()
		logger.Debug().Str("job", job.Key()).Msg("Job already queued")
		q.emit(Event{Type: "deduped", Lane: lane, Job: job})
		return nil, false
	}
	q.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, q.taskIDSeq)
	ls, exists := q.lanes[lane]
	if !exists {
		ls = &laneState{}
		q.lanes[lane] = ls
	}
	q.mu.Unlock()

	ls.mu.Lock()
	record := &taskRecord{
		id:         taskID,
		job:        job,
		ctx:        tracing.Detach(ctx),
		generation: ls.generation,
		enqueuedAt: time.Now(),
		options:    opts,
		dedup:      dedup,
		result:     make(chan error, 1),
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().
		Str("lane", lane).
		Str("taskId", taskID).
		Str("kind", string(job.Kind)).
		Int("queueSize", queueSize).
		Msg("Job enqueued")

	observability.RecordQueueEnqueue(string(job.Kind), queueSize)

	q.emit(Event{
		Type:   "enqueued",
		Lane:   lane,
		TaskID: taskID,
		Job:    job,
		Data:   map[string]interface{}{"queueSize": queueSize},
	})

	if opts.WarnAfter > 0 {
		go q.startWarnTimer(record, lane)
	}

	q.processLane(lane)
	return record.result, true
}

// processLane starts the lane's next job if the lane is idle
func (q *Queue) processLane(lane string) {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()
	if ls == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for !ls.running && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		// stale records from before a ResetLane
		if record.generation != ls.generation {
			q.finish(record, errors.New("job cancelled due to lane reset"))
			continue
		}

		ls.running = true
		q.wg.Add(1)
		go q.executeTask(lane, record)
	}
}

func (q *Queue) finish(record *taskRecord, err error) {
	if record.dedup {
		q.pending.Remove(record.job.Key())
	}
	record.result <- err
	close(record.result)
}

// executeTask runs one job, holding a concurrency slot
func (q *Queue) executeTask(lane string, record *taskRecord) {
	defer q.wg.Done()

	select {
	case q.slots <- struct{}{}:
	case <-q.ctx.Done():
		q.completeLane(lane)
		q.finish(record, ErrClosed)
		return
	}
	defer func() { <-q.slots }()

	// from here a new identical job may queue behind this one
	if record.dedup {
		q.pending.Remove(record.job.Key())
		record.dedup = false
	}

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"otto.commandqueue",
		"commandqueue.execute",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
		attribute.String("kind", string(record.job.Kind)),
	)
	logger := tracing.LoggerFromContext(taskCtx, q.logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(q.ctx, cancel)

	startTime := time.Now()
	err := q.runHandler(runCtx, record.job)
	duration := time.Since(startTime)

	stopCancel()
	cancel()
	tracing.EndSpan(span, err)

	queueSize := q.completeLane(lane)
	q.finish(record, err)

	if err != nil {
		logger.Error().
			Str("lane", lane).
			Str("taskId", record.id).
			Str("kind", string(record.job.Kind)).
			Dur("duration", duration).
			Err(err).
			Msg("Job failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Job completed")
	}

	observability.RecordQueueCompletion(string(record.job.Kind), duration, err == nil, queueSize)

	q.emit(Event{
		Type:   "completed",
		Lane:   lane,
		TaskID: record.id,
		Job:    record.job,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})

	q.processLane(lane)
}

func (q *Queue) runHandler(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if q.handler == nil {
		return errors.New("no job handler configured")
	}
	return q.handler(ctx, job)
}

func (q *Queue) completeLane(lane string) int {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.running = false
	return len(ls.queue)
}

// startWarnTimer warns when a job waits longer than expected
func (q *Queue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		q.mu.RLock()
		ls := q.lanes[lane]
		q.mu.RUnlock()

		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			q.logger.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Job waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-q.ctx.Done():
		return
	}
}

// GetQueueSize returns the number of waiting jobs for a lane
func (q *Queue) GetQueueSize(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetStats returns waiting and running counts for all lanes
func (q *Queue) GetStats() map[string]map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range q.lanes {
		ls.mu.Lock()
		running := 0
		if ls.running {
			running = 1
		}
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": running,
		}
		ls.mu.Unlock()
	}

	return stats
}

// ResetLane rejects every waiting job of a lane
func (q *Queue) ResetLane(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++
	count := len(ls.queue)
	for _, record := range ls.queue {
		q.finish(record, errors.New("lane reset"))
	}
	ls.queue = nil

	q.logger.Info().Str("lane", lane).Int("cleared", count).Msg("Lane reset")
	return count
}

// WaitForActive waits for all running and queued jobs to complete
func (q *Queue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		q.mu.RLock()
		for _, ls := range q.lanes {
			ls.mu.Lock()
			if ls.running || len(ls.queue) > 0 {
				allDrained = false
			}
			ls.mu.Unlock()
		}
		q.mu.RUnlock()

		if allDrained {
			return true
		}

		if time.Now().After(deadline) {
			q.logger.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active jobs")
			return false
		}

		<-ticker.C
	}
}

// Close cancels running jobs and waits for them to return. Waiting jobs
// are rejected with ErrClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	lanes := make([]*laneState, 0, len(q.lanes))
	for _, ls := range q.lanes {
		lanes = append(lanes, ls)
	}
	q.mu.Unlock()

	q.cancel()
	for _, ls := range lanes {
		ls.mu.Lock()
		for _, record := range ls.queue {
			q.finish(record, ErrClosed)
		}
		ls.queue = nil
		ls.mu.Unlock()
	}
	q.wg.Wait()
	return nil
}

// On registers an event handler for a specific event type
func (q *Queue) On(eventType string, handler EventHandler) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()

	q.eventHandlers[eventType] = append(q.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (q *Queue) Off(eventType string) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()

	delete(q.eventHandlers, eventType)
}

// emit calls handlers synchronously
func (q *Queue) emit(event Event) {
	q.eventMu.RLock()
	handlers := q.eventHandlers[event.Type]
	q.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
