// Package diversity tracks semantic features of accepted items across a
// generation batch and enforces per-feature caps.
package diversity

import "sync"

// Counter counts accepted items per feature key. It is scoped to one batch,
// owned by the caller, and never decremented. All methods are safe for
// concurrent use; callers that must keep a gate-then-record sequence atomic
// across several counters serialize around them (the forge engine holds one
// mutex for that).
type Counter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Get returns the count for key, zero when unseen.
func (c *Counter) Get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

// Record increments key by exactly one. Called once per accepted item,
// never for rejected ones.
func (c *Counter) Record(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
}

// ShouldReject reports whether key has reached its cap. This is the hard
// gate: the advisory prompt text is only a nudge, and a stateless model may
// ignore it.
func (c *Counter) ShouldReject(key string, cap int) bool {
	if cap <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key] >= cap
}

// Snapshot returns a copy of the current counts.
func (c *Counter) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Len returns the number of distinct keys seen.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}

// Reset clears the counter for a new batch.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int)
}
