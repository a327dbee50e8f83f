package irq

import "sync"

// Timer fans out a simulated timer tick to every registered external
// handler (spec.md §4.A: "timer ticks drive (i) the sleep queue ... (ii)
// round-robin preemption ... (iii) MLFQS bookkeeping"). External
// handlers must not sleep or acquire sleep locks -- they run with
// interrupts conceptually already disabled (the tick source calls them
// holding no Handle of its own, so handlers must use at most Disable/
// Enable on a Handle they own, never block on a semaphore).
type Timer struct {
	mu       sync.Mutex
	handlers []func(ticks uint64)
	ticks    uint64
	// YieldOnReturn is set by an external handler to request that the
	// scheduler run after the handler returns (spec.md §4.A).
	YieldOnReturn bool
}

/// NewTimer returns a Timer with no registered handlers.
func NewTimer() *Timer {
	return &Timer{}
}

/// Register adds an external tick handler. Handlers run in registration
/// order on every Tick call.
func (t *Timer) Register(h func(ticks uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

/// Tick delivers one timer interrupt: increments the tick counter and
/// runs every registered handler. Returns whether any handler requested
/// a reschedule.
func (t *Timer) Tick() bool {
	t.mu.Lock()
	t.ticks++
	hs := append([]func(uint64){}, t.handlers...)
	t.YieldOnReturn = false
	t.mu.Unlock()

	for _, h := range hs {
		h(t.ticks)
	}

	t.mu.Lock()
	y := t.YieldOnReturn
	t.mu.Unlock()
	return y
}

/// RequestYield is called by an external handler to set YieldOnReturn.
func (t *Timer) RequestYield() {
	t.mu.Lock()
	t.YieldOnReturn = true
	t.mu.Unlock()
}

/// Ticks returns the number of ticks delivered so far.
func (t *Timer) Ticks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}
