package ratelimit

import "sync"

// ConnTracker enforces the per-IP live-connection cap. Acquire must be
// paired with exactly one Release per successful call.
type ConnTracker struct {
	mu     sync.Mutex
	counts map[string]int
	max    int
}

// NewConnTracker caps live connections per remote IP at max.
func NewConnTracker(max int) *ConnTracker {
	return &ConnTracker{
		counts: make(map[string]int),
		max:    max,
	}
}

// Acquire reserves a connection slot for ip. Returns false when the cap
// would be exceeded.
func (t *ConnTracker) Acquire(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[ip] >= t.max {
		return false
	}
	t.counts[ip]++
	return true
}

// Release frees a slot previously acquired for ip.
func (t *ConnTracker) Release(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[ip] <= 1 {
		delete(t.counts, ip)
		return
	}
	t.counts[ip]--
}

// Count reports the live connections for ip.
func (t *ConnTracker) Count(ip string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[ip]
}
