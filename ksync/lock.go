package ksync

import (
	"sync"

	"maverickos/sched"
)

/// Lock is a sleep lock with priority donation (spec.md §4.F). Acquiring
/// a held lock donates the acquirer's effective priority to the holder,
/// and transitively up the chain of locks the holder is itself blocked
/// on, capped at depth 8 (spec.md §4.E). Releasing recomputes the
/// holder's effective priority from its base priority and any locks it
/// still holds.
type Lock struct {
	mu      sync.Mutex
	held    bool
	holder  *sched.Thread
	waiters []*sched.Thread
	s       *sched.Scheduler
}

/// NewLock creates an unheld lock scheduled via s.
func NewLock(s *sched.Scheduler) *Lock {
	return &Lock{s: s}
}

/// HolderThread implements sched.Waitable so a donation chain can walk
/// through this lock to whoever holds it.
func (l *Lock) HolderThread() *sched.Thread {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

/// HighestWaiter returns the highest effective priority among threads
/// currently blocked on this lock, used by Scheduler.RecomputeDonation.
func (l *Lock) HighestWaiter() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	best := -1
	any := false
	for _, w := range l.waiters {
		any = true
		if p := w.EffPriority(); p > best {
			best = p
		}
	}
	return best, any
}

/// Acquire blocks the calling thread until the lock is free, then takes
/// it. Panics if the calling thread already holds the lock (biscuit's
/// own locks are non-reentrant; spec.md carries the same rule forward).
func (l *Lock) Acquire(t *sched.Thread) {
	old := t.IRQ.Disable()
	l.mu.Lock()
	for l.held {
		if l.holder == t {
			l.mu.Unlock()
			t.IRQ.Restore(old)
			panic("ksync: lock is not reentrant")
		}
		l.waiters = append(l.waiters, t)
		t.SetWaitingOn(l)
		l.mu.Unlock()
		sched.Donate(l, t.EffPriority())
		l.s.Block(t)
		l.mu.Lock()
	}
	l.held = true
	l.holder = t
	t.SetWaitingOn(nil)
	l.mu.Unlock()
	t.AddHeldLock(l)
	t.IRQ.Restore(old)
}

/// TryAcquire attempts a non-blocking acquire, reporting success.
func (l *Lock) TryAcquire(t *sched.Thread) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held = true
	l.holder = t
	t.AddHeldLock(l)
	return true
}

/// Release gives up the lock, recomputes the releasing thread's
/// effective priority (donation it received for this lock no longer
/// applies unless another held lock still warrants it), and wakes the
/// highest effective-priority waiter.
func (l *Lock) Release(t *sched.Thread) {
	l.mu.Lock()
	if !l.held || l.holder != t {
		l.mu.Unlock()
		panic("ksync: release of lock not held by caller")
	}
	var victim *sched.Thread
	best := -1
	vi := -1
	for i, w := range l.waiters {
		if p := w.EffPriority(); p > best {
			best = p
			victim = w
			vi = i
		}
	}
	if victim != nil {
		l.waiters = append(l.waiters[:vi], l.waiters[vi+1:]...)
	}
	l.held = false
	l.holder = nil
	l.mu.Unlock()

	t.RemoveHeldLock(l)
	l.s.RecomputeDonation(t, func(w sched.Waitable) (int, bool) {
		lk, ok := w.(*Lock)
		if !ok {
			return 0, false
		}
		return lk.HighestWaiter()
	})

	if victim != nil {
		l.s.Unblock(victim)
	}
}

/// Held reports whether the lock is currently held (debug/test use).
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

/// HeldBy reports whether t is the current holder.
func (l *Lock) HeldBy(t *sched.Thread) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held && l.holder == t
}
