package webhook

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter is a per-client sliding window limiter
type RateLimiter struct {
	mu       sync.Mutex
	hits     map[string][]time.Time
	max      int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows max requests per client per minute and prunes idle
// clients in the background until Stop.
func NewRateLimiter(max int) *RateLimiter {
	rl := &RateLimiter{
		hits: make(map[string][]time.Time),
		max:  max,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go rl.pruneLoop(5 * time.Minute)
	return rl
}

// Allow records a request from client and reports whether it fits the window
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.recent(client, now)
	if len(recent) >= rl.max {
		rl.hits[client] = recent
		return false
	}
	rl.hits[client] = append(recent, now)
	return true
}

// RetryAfter is the number of whole seconds until client may send again
func (rl *RateLimiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.recent(client, now)
	if len(recent) < rl.max {
		return 0
	}
	wait := rateWindow - now.Sub(recent[0])
	return int((wait + time.Second - 1) / time.Second)
}

// recent returns client's hits inside the window. Callers hold mu.
func (rl *RateLimiter) recent(client string, now time.Time) []time.Time {
	hits := rl.hits[client]
	i := 0
	for i < len(hits) && now.Sub(hits[i]) >= rateWindow {
		i++
	}
	return hits[i:]
}

func (rl *RateLimiter) pruneLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.prune()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for client := range rl.hits {
		if recent := rl.recent(client, now); len(recent) == 0 {
			delete(rl.hits, client)
		} else {
			rl.hits[client] = recent
		}
	}
}

// Stop ends background pruning
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
