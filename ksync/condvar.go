package ksync

import (
	"sync"

	"maverickos/sched"
)

type cvWaiter struct {
	sema   *Sema
	thread *sched.Thread
}

/// CondVar is a Mesa-semantics condition variable (spec.md §4.F): Signal
/// and Broadcast only move waiters to ready: woken threads must recheck
/// their wait condition in a loop after Wait returns, same as the
/// textbook Mesa/Go sync.Cond contract. Grounded on the classic
/// private-per-waiter-semaphore construction (each Wait call gets its
/// own one-shot semaphore, queued here, signaled individually by
/// Signal/Broadcast) rather than biscuit's direct use of the host
/// runtime's sync.Cond, since this package needs priority-ordered wakeup
/// rather than sync.Cond's unspecified order.
type CondVar struct {
	mu      sync.Mutex
	waiters []cvWaiter
	s       *sched.Scheduler
}

/// NewCondVar creates a condition variable scheduled via s.
func NewCondVar(s *sched.Scheduler) *CondVar {
	return &CondVar{s: s}
}

/// Wait atomically releases lock and blocks the calling thread, then
/// reacquires lock before returning. The caller must hold lock, and must
/// recheck its condition in a loop (Mesa semantics: a wakeup is a hint,
/// not a guarantee the condition holds).
func (cv *CondVar) Wait(t *sched.Thread, lock *Lock) {
	if !lock.HeldBy(t) {
		panic("ksync: condvar wait without holding lock")
	}
	priv := NewSema(cv.s, 0)
	cv.mu.Lock()
	cv.waiters = append(cv.waiters, cvWaiter{sema: priv, thread: t})
	cv.mu.Unlock()

	lock.Release(t)
	priv.Down(t)
	lock.Acquire(t)
}

/// Signal wakes the single highest effective-priority waiter, if any.
/// The caller must hold lock.
func (cv *CondVar) Signal(t *sched.Thread, lock *Lock) {
	if !lock.HeldBy(t) {
		panic("ksync: condvar signal without holding lock")
	}
	cv.mu.Lock()
	if len(cv.waiters) == 0 {
		cv.mu.Unlock()
		return
	}
	best := 0
	for i, w := range cv.waiters {
		if w.thread.EffPriority() > cv.waiters[best].thread.EffPriority() {
			best = i
		}
	}
	victim := cv.waiters[best]
	cv.waiters = append(cv.waiters[:best], cv.waiters[best+1:]...)
	cv.mu.Unlock()

	victim.sema.Up()
}

/// Broadcast wakes every waiter. The caller must hold lock.
func (cv *CondVar) Broadcast(t *sched.Thread, lock *Lock) {
	if !lock.HeldBy(t) {
		panic("ksync: condvar broadcast without holding lock")
	}
	cv.mu.Lock()
	all := cv.waiters
	cv.waiters = nil
	cv.mu.Unlock()

	for _, w := range all {
		w.sema.Up()
	}
}
