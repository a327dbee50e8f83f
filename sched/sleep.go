package sched

import "maverickos/ilist"

// sleeper pairs a blocked thread with the tick count at which it should
// be woken, the scheduler's half of timer_sleep (spec.md §4.A
// responsibility (i): "timer ticks drive the sleep queue").
type sleeper struct {
	t        *Thread
	deadline uint64
}

/// Sleep blocks the calling thread until the scheduler's timer has
/// delivered at least deadline ticks, same raw contract as Block: caller
/// must already hold interrupts disabled and must not be on any other
/// wait queue. wakeDue, driven by every Timer.Tick, is what actually
/// moves the thread back to Ready once its deadline passes.
func (s *Scheduler) Sleep(t *Thread, deadline uint64) {
	t.IRQ.AssertDisabled()
	s.mu.Lock()
	if s.sleeping == nil {
		s.sleeping = ilist.New[*sleeper]()
	}
	s.sleeping.PushBack(&sleeper{t: t, deadline: deadline})
	s.dequeueSpecific(t)
	t.setState(Blocked)
	s.mu.Unlock()

	park(t)
}

/// SleepTicks blocks the calling thread for n more timer ticks, the form
/// timer_sleep exposes to user code. n <= 0 returns immediately.
func (s *Scheduler) SleepTicks(t *Thread, n uint64) {
	if n == 0 {
		return
	}
	old := t.IRQ.Disable()
	deadline := s.Timer.Ticks() + n
	s.Sleep(t, deadline)
	t.IRQ.Restore(old)
}

// wakeLocked moves a Blocked thread back to Ready and wakes its
// goroutine. Caller must hold s.mu.
func (s *Scheduler) wakeLocked(t *Thread) {
	if t.State() != Blocked {
		return
	}
	t.setState(Ready)
	s.enqueue(t)
	select {
	case t.resume <- struct{}{}:
	default:
	}
}

// wakeDue wakes every sleeping thread whose deadline is at or before
// ticks. Registered on Timer so it runs on every tick regardless of
// scheduling mode -- the sleep queue is not an MLFQS-only concern.
func (s *Scheduler) wakeDue(ticks uint64) {
	s.mu.Lock()
	if s.sleeping == nil || s.sleeping.Len() == 0 {
		s.mu.Unlock()
		return
	}
	kept := ilist.New[*sleeper]()
	var due []*Thread
	s.sleeping.Each(func(sl *sleeper) {
		if sl.deadline <= ticks {
			due = append(due, sl.t)
		} else {
			kept.PushBack(sl)
		}
	})
	s.sleeping = kept
	for _, t := range due {
		s.wakeLocked(t)
	}
	s.mu.Unlock()
}
