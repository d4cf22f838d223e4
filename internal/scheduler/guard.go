package scheduler

import "sync"

// APIGuard distinguishes artifact changes made by the engine itself
// from changes made by the analyst. Every engine-driven write bumps
// the counter before touching the tool; the change hook then calls
// Observe and drops the event when the counter was positive.
type APIGuard struct {
	mu    sync.Mutex
	count int
}

// Inc records one imminent engine-driven write.
func (g *APIGuard) Inc() {
	g.mu.Lock()
	g.count++
	g.mu.Unlock()
}

// Add records n imminent engine-driven writes.
func (g *APIGuard) Add(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	g.count += n
	g.mu.Unlock()
}

// Dec undoes an Inc whose tool write failed. A failed write produces
// no echo event, so without the undo the counter would stay positive
// and swallow the next genuine analyst change.
func (g *APIGuard) Dec() {
	g.mu.Lock()
	if g.count > 0 {
		g.count--
	}
	g.mu.Unlock()
}

// Observe consumes one pending engine write if any. It returns true
// when the observed change was engine-driven and should be ignored.
// The counter never goes negative: analyst changes arriving with an
// empty counter pass through untouched.
func (g *APIGuard) Observe() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count <= 0 {
		g.count = 0
		return false
	}
	g.count--
	return true
}

// Pending returns the outstanding engine-write count.
func (g *APIGuard) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}
