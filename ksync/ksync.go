// Package ksync implements the synchronization primitives (component F):
// a counting semaphore, a mutex built on it with priority donation, a
// Mesa-semantics condition variable, and a writer-preferring
// reader/writer lock.
//
// Grounded on biscuit's lock discipline as described in spec.md §4.F;
// biscuit itself leans on the (patched) runtime's native sync.Mutex/
// sync.Cond for in-kernel locks (see src/vm/as.go's pmap lock and
// src/fs/fs.go's icache locks) and layers its own donation bookkeeping
// on top for the handful of locks that matter for priority-inversion
// avoidance -- the same split this package makes: sched.Scheduler
// (block/unblock + effective-priority bookkeeping) underneath, an
// explicit *sched.Thread handle on every call (no goroutine-local
// state), matching how biscuit passes the owning *proc/vm struct
// explicitly rather than reading a global "current".
package ksync

import (
	"sync"

	"maverickos/sched"
)

/// Sema is a counting semaphore. Down blocks the calling thread (via the
/// scheduler) while the count is zero; Up increments the count and wakes
/// the highest effective-priority waiter (spec.md §4.F: "sema_up wakes
/// the highest-effective-priority waiter, not simply FIFO").
type Sema struct {
	mu      sync.Mutex
	count   int
	waiters []*sched.Thread
	s       *sched.Scheduler
}

/// NewSema creates a semaphore with the given initial count, scheduled
/// via s.
func NewSema(s *sched.Scheduler, count int) *Sema {
	if count < 0 {
		panic("ksync: negative semaphore count")
	}
	return &Sema{count: count, s: s}
}

/// Down waits for the semaphore to be positive, then decrements it.
func (sem *Sema) Down(t *sched.Thread) {
	old := t.IRQ.Disable()
	sem.mu.Lock()
	for sem.count == 0 {
		sem.waiters = append(sem.waiters, t)
		sem.mu.Unlock()
		sem.s.Block(t)
		sem.mu.Lock()
	}
	sem.count--
	sem.mu.Unlock()
	t.IRQ.Restore(old)
}

/// TryDown attempts a non-blocking decrement, reporting success.
func (sem *Sema) TryDown() bool {
	sem.mu.Lock()
	defer sem.mu.Unlock()
	if sem.count == 0 {
		return false
	}
	sem.count--
	return true
}

/// Up increments the semaphore and wakes the highest effective-priority
/// waiter, if any.
func (sem *Sema) Up() {
	sem.mu.Lock()
	sem.count++
	var victim *sched.Thread
	best := -1
	vi := -1
	for i, w := range sem.waiters {
		if p := w.EffPriority(); p > best {
			best = p
			victim = w
			vi = i
		}
	}
	if victim != nil {
		sem.waiters = append(sem.waiters[:vi], sem.waiters[vi+1:]...)
	}
	sem.mu.Unlock()

	if victim != nil {
		sem.s.Unblock(victim)
	}
}

/// Value returns the current count (for introspection/tests only; racy
/// against concurrent Down/Up by design, same as biscuit's debug
/// counters).
func (sem *Sema) Value() int {
	sem.mu.Lock()
	defer sem.mu.Unlock()
	return sem.count
}
