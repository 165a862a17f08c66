package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T, concurrency int, handler Handler) *Queue {
	t.Helper()
	q := New(Config{Handler: handler, Concurrency: concurrency, Logger: zerolog.Nop()})
	t.Cleanup(func() { q.Close() })
	return q
}

func TestQueue_Run(t *testing.T) {
	t.Run("should run the job and return its error", func(t *testing.T) {
		expected := errors.New("job failed")
		var got Job
		q := setupTestQueue(t, 1, func(ctx context.Context, job Job) error {
			got = job
			return expected
		})

		err := q.Run(context.Background(), Job{Kind: KindExecute, ExecutionID: "e1"})

		assert.Equal(t, expected, err)
		assert.Equal(t, Job{Kind: KindExecute, ExecutionID: "e1"}, got)
	})

	t.Run("should recover panicking handlers", func(t *testing.T) {
		q := setupTestQueue(t, 1, func(ctx context.Context, job Job) error {
			panic("tool bug")
		})

		err := q.Run(context.Background(), Job{Kind: KindExecute, ExecutionID: "e1"})
		assert.ErrorContains(t, err, "tool bug")
	})

	t.Run("should refuse jobs after close", func(t *testing.T) {
		q := New(Config{Handler: func(context.Context, Job) error { return nil }, Logger: zerolog.Nop()})
		require.NoError(t, q.Close())

		assert.ErrorIs(t, q.Run(context.Background(), Job{Kind: KindExecute, ExecutionID: "e1"}), ErrClosed)
		assert.False(t, q.Enqueue(context.Background(), Job{Kind: KindExecute, ExecutionID: "e1"}))
	})

	t.Run("should detach jobs from the caller's cancellation", func(t *testing.T) {
		done := make(chan error, 1)
		q := setupTestQueue(t, 1, func(ctx context.Context, job Job) error {
			time.Sleep(20 * time.Millisecond)
			done <- ctx.Err()
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		require.True(t, q.Enqueue(ctx, Job{Kind: KindExecute, ExecutionID: "e1"}))
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
	})
}

func TestQueue_Lanes(t *testing.T) {
	t.Run("should serialize jobs of one execution in order", func(t *testing.T) {
		var mu sync.Mutex
		var order []Kind
		var inside, maxInside int32

		q := setupTestQueue(t, 4, func(ctx context.Context, job Job) error {
			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxInside) {
				atomic.StoreInt32(&maxInside, n)
			}
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, job.Kind)
			mu.Unlock()
			atomic.AddInt32(&inside, -1)
			return nil
		})

		ctx := context.Background()
		require.True(t, q.Enqueue(ctx, Job{Kind: KindExecute, ExecutionID: "e1"}))
		require.True(t, q.Enqueue(ctx, Job{Kind: KindResume, ExecutionID: "e1"}))
		require.True(t, q.WaitForActive(2*time.Second))

		assert.Equal(t, []Kind{KindExecute, KindResume}, order)
		assert.Equal(t, int32(1), maxInside)
	})

	t.Run("should run different executions concurrently", func(t *testing.T) {
		release := make(chan struct{})
		var started int32
		q := setupTestQueue(t, 2, func(ctx context.Context, job Job) error {
			atomic.AddInt32(&started, 1)
			<-release
			return nil
		})

		ctx := context.Background()
		q.Enqueue(ctx, Job{Kind: KindExecute, ExecutionID: "e1"})
		q.Enqueue(ctx, Job{Kind: KindExecute, ExecutionID: "e2"})

		assert.Eventually(t, func() bool { return atomic.LoadInt32(&started) == 2 }, time.Second, 5*time.Millisecond)
		close(release)
		assert.True(t, q.WaitForActive(2*time.Second))
	})

	t.Run("should bound concurrency across lanes", func(t *testing.T) {
		release := make(chan struct{})
		var started int32
		q := setupTestQueue(t, 1, func(ctx context.Context, job Job) error {
			atomic.AddInt32(&started, 1)
			<-release
			return nil
		})

		ctx := context.Background()
		q.Enqueue(ctx, Job{Kind: KindExecute, ExecutionID: "e1"})
		q.Enqueue(ctx, Job{Kind: KindExecute, ExecutionID: "e2"})

		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int32(1), atomic.LoadInt32(&started))
		close(release)
		assert.True(t, q.WaitForActive(2*time.Second))
		assert.Equal(t, int32(2), atomic.LoadInt32(&started))
	})
}

func TestQueue_Dedup(t *testing.T) {
	t.Run("should collapse identical waiting jobs", func(t *testing.T) {
		release := make(chan struct{})
		var resumes int32
		q := setupTestQueue(t, 1, func(ctx context.Context, job Job) error {
			if job.Kind == KindExecute {
				<-release
				return nil
			}
			atomic.AddInt32(&resumes, 1)
			return nil
		})

		var deduped int32
		q.On("deduped", func(Event) { atomic.AddInt32(&deduped, 1) })

		ctx := context.Background()
		require.True(t, q.Enqueue(ctx, Job{Kind: KindExecute, ExecutionID: "e1"}))
		require.True(t, q.Enqueue(ctx, Job{Kind: KindResume, ExecutionID: "e1"}))
		assert.False(t, q.Enqueue(ctx, Job{Kind: KindResume, ExecutionID: "e1"}))
		assert.False(t, q.Enqueue(ctx, Job{Kind: KindResume, ExecutionID: "e1"}))

		close(release)
		require.True(t, q.WaitForActive(2*time.Second))

		assert.Equal(t, int32(1), atomic.LoadInt32(&resumes))
		assert.Equal(t, int32(2), atomic.LoadInt32(&deduped))
	})

	t.Run("should accept the same job again once it started", func(t *testing.T) {
		var runs int32
		q := setupTestQueue(t, 1, func(ctx context.Context, job Job) error {
			atomic.AddInt32(&runs, 1)
			return nil
		})

		ctx := context.Background()
		require.True(t, q.Enqueue(ctx, Job{Kind: KindResume, ExecutionID: "e1"}))
		require.True(t, q.WaitForActive(2*time.Second))
		require.True(t, q.Enqueue(ctx, Job{Kind: KindResume, ExecutionID: "e1"}))
		require.True(t, q.WaitForActive(2*time.Second))

		assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
	})
}

func TestQueue_Events(t *testing.T) {
	t.Run("should emit enqueued and completed events", func(t *testing.T) {
		q := setupTestQueue(t, 1, func(context.Context, Job) error { return nil })

		var mu sync.Mutex
		var types []string
		record := func(e Event) {
			mu.Lock()
			types = append(types, e.Type)
			mu.Unlock()
		}
		q.On("enqueued", record)
		q.On("completed", record)

		require.NoError(t, q.Run(context.Background(), Job{Kind: KindExecute, ExecutionID: "e1"}))
		require.True(t, q.WaitForActive(time.Second))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"enqueued", "completed"}, types)
	})

	t.Run("should warn about long waits", func(t *testing.T) {
		release := make(chan struct{})
		q := setupTestQueue(t, 1, func(ctx context.Context, job Job) error {
			if job.Kind == KindExecute {
				<-release
			}
			return nil
		})

		waited := make(chan int, 1)
		ctx := context.Background()
		q.Enqueue(ctx, Job{Kind: KindExecute, ExecutionID: "e1"})
		q.EnqueueWithOptions(ctx, Job{Kind: KindResume, ExecutionID: "e1"}, Options{
			WarnAfter: 10 * time.Millisecond,
			OnWait:    func(_ time.Duration, pos int) { waited <- pos },
		})

		select {
		case pos := <-waited:
			assert.Equal(t, 0, pos)
		case <-time.After(time.Second):
			t.Fatal("no wait warning")
		}
		close(release)
	})
}

func TestQueue_ResetLane(t *testing.T) {
	t.Run("should reject waiting jobs", func(t *testing.T) {
		release := make(chan struct{})
		q := setupTestQueue(t, 1, func(ctx context.Context, job Job) error {
			<-release
			return nil
		})

		ctx := context.Background()
		q.Enqueue(ctx, Job{Kind: KindExecute, ExecutionID: "e1"})
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(ctx, Job{Kind: KindResume, ExecutionID: "e1"})

		assert.Equal(t, 1, q.GetQueueSize("e1"))
		assert.Equal(t, 1, q.ResetLane("e1"))
		assert.Equal(t, 0, q.GetQueueSize("e1"))
		assert.Equal(t, 1, q.GetStats()["e1"]["running"])

		close(release)
		assert.True(t, q.WaitForActive(time.Second))
	})
}
