package commandqueue

import "sync"

// pendingSet tracks job keys that are queued but not yet started
type pendingSet struct {
	keys map[string]struct{}
	mu   sync.Mutex
}

func newPendingSet() *pendingSet {
	return &pendingSet{keys: make(map[string]struct{})}
}

// Add reports false if key is already pending
func (p *pendingSet) Add(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.keys[key]; ok {
		return false
	}
	p.keys[key] = struct{}{}
	return true
}

// Remove marks key as started
func (p *pendingSet) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
}

// Size returns the number of pending keys
func (p *pendingSet) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
