package sched

import (
	"sync"

	"maverickos/defs"
	"maverickos/ilist"
	"maverickos/irq"
)

/// Mode selects between spec.md §4.E's two scheduling disciplines.
type Mode int

const (
	// ModePriority is plain priority scheduling with donation: the
	// highest effective-priority ready thread always runs next, and
	// thread_set_priority takes effect immediately.
	ModePriority Mode = iota
	// ModeMLFQS replaces the user-visible priority with one computed
	// from nice and recent_cpu every fourth tick, recomputed load_avg
	// every second; thread_set_priority is a no-op in this mode.
	ModeMLFQS
)

// Scheduler owns the ready queue and the all-threads registry. The ready
// queue is bucketed by priority level [0..63], mirroring the classic
// multi-level feedback queue layout spec.md §4.E describes for MLFQS and
// reused as-is for plain priority scheduling (a single highest non-empty
// bucket is always the next thread to run).
type Scheduler struct {
	mu      sync.Mutex
	queues  [PriMax + 1]*ilist.List[*Thread]
	threads map[defs.Tid_t]*Thread
	nextTid defs.Tid_t

	mode    Mode
	loadAvg fixed

	sleeping *ilist.List[*sleeper]

	Timer *irq.Timer
}

// New creates a scheduler in the given mode with a fresh timer already
// wired to drive its tick-based bookkeeping (spec.md §4.E: "every tick,
// ... every 4th tick under MLFQS, recompute load_avg every second").
func New(mode Mode) *Scheduler {
	s := &Scheduler{
		threads: make(map[defs.Tid_t]*Thread),
		mode:    mode,
		Timer:   irq.NewTimer(),
	}
	for i := range s.queues {
		s.queues[i] = ilist.New[*Thread]()
	}
	s.Timer.Register(s.onTick)
	return s
}

func (s *Scheduler) Mode() Mode { return s.mode }

/// Spawn creates a new thread in the Ready state, running entry in its
/// own goroutine once started, and returns its TCB. owner is an opaque
/// back-pointer to the owning process (nil for kernel-only threads).
func (s *Scheduler) Spawn(name string, prio int, owner any, entry func(*Thread)) *Thread {
	if prio < PriMin || prio > PriMax {
		panic("sched: priority out of range")
	}
	s.mu.Lock()
	s.nextTid++
	id := s.nextTid
	s.mu.Unlock()

	t := newThread(id, name, prio)
	t.Owner = owner

	s.mu.Lock()
	s.threads[id] = t
	s.enqueue(t)
	s.mu.Unlock()

	go func() {
		entry(t)
		s.Exit(t, 0)
	}()
	return t
}

// enqueue must be called with s.mu held; places t on its effective
// priority's bucket.
func (s *Scheduler) enqueue(t *Thread) {
	p := t.EffPriority()
	if p < PriMin {
		p = PriMin
	}
	if p > PriMax {
		p = PriMax
	}
	s.queues[p].PushBack(t)
}

func (s *Scheduler) dequeueSpecific(t *Thread) {
	p := t.EffPriority()
	if p < PriMin {
		p = PriMin
	}
	if p > PriMax {
		p = PriMax
	}
	s.queues[p].RemoveMatching(func(c *Thread) bool { return c == t })
}

/// NextToRun returns the highest effective-priority ready thread without
/// removing it, or nil if the ready queue is empty.
func (s *Scheduler) NextToRun() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := PriMax; p >= PriMin; p-- {
		if th, ok := s.queues[p].Front(); ok {
			return th
		}
	}
	return nil
}

/// Lookup finds a thread by id.
func (s *Scheduler) Lookup(id defs.Tid_t) (*Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	return t, ok
}

/// Block puts the calling thread to sleep until Unblock is called on it.
/// Caller must hold interrupts disabled (spec.md §4.E thread_block
/// precondition); Block releases nothing on its own -- the caller is
/// responsible for having already removed itself from whatever resource
/// it was waiting on. Returns once another thread (or interrupt handler)
/// calls Unblock(t).
func (s *Scheduler) Block(t *Thread) {
	t.IRQ.AssertDisabled()
	s.mu.Lock()
	s.dequeueSpecific(t)
	t.setState(Blocked)
	s.mu.Unlock()

	park(t)
}

// park waits for t's resume signal. Like a context switch, it gives up
// t's interrupt-disable hold (the single CPU lock) while t is parked and
// takes it back to the same nesting depth once t is woken.
func park(t *Thread) {
	depth := 0
	for !t.IRQ.Enabled() {
		t.IRQ.Enable()
		depth++
	}
	<-t.resume
	for ; depth > 0; depth-- {
		t.IRQ.Disable()
	}
}

/// Unblock moves a blocked thread back to Ready and wakes its goroutine.
/// Safe to call from an interrupt-handler context (must not itself
/// sleep).
func (s *Scheduler) Unblock(t *Thread) {
	s.mu.Lock()
	s.wakeLocked(t)
	s.mu.Unlock()
}

/// Yield cooperatively re-enqueues the calling thread at its current
/// effective priority's tail, modeling a voluntary or timer-driven
/// relinquish of the CPU (spec.md §4.E round-robin among equal
/// priorities).
func (s *Scheduler) Yield(t *Thread) {
	s.mu.Lock()
	s.dequeueSpecific(t)
	t.setState(Ready)
	s.enqueue(t)
	s.mu.Unlock()
}

/// Exit marks a thread Dying, removes it from the ready queue and
/// registry, and releases anyone waiting on its completion.
func (s *Scheduler) Exit(t *Thread, code int) {
	s.mu.Lock()
	s.dequeueSpecific(t)
	t.setState(Dying)
	t.exitCode = code
	delete(s.threads, t.Id)
	s.mu.Unlock()

	t.exitOnce.Do(func() { close(t.exited) })
}

/// Wait blocks the calling goroutine (not necessarily a scheduled
/// Thread) until t has exited, returning its exit code.
func (s *Scheduler) Wait(t *Thread) int {
	<-t.exited
	return t.exitCode
}

/// SetPriority sets a thread's base priority. Under ModeMLFQS this is a
/// no-op per spec.md §4.E ("thread_set_priority has no effect"); under
/// ModePriority it takes effect immediately, including possibly
/// triggering a yield if the change drops below another ready thread's
/// priority (left to the caller: SetPriority only updates state).
func (s *Scheduler) SetPriority(t *Thread, prio int) {
	if s.mode == ModeMLFQS {
		return
	}
	if prio < PriMin {
		prio = PriMin
	}
	if prio > PriMax {
		prio = PriMax
	}
	t.mu.Lock()
	t.basePrio = prio
	// Effective priority can't drop below the freshly set base. A thread
	// holding no locks has no donation, so its effective priority follows
	// the base down; a lock holder keeps any donation above the base until
	// RecomputeDonation runs at release.
	if t.effPrio < prio || len(t.heldLocks) == 0 {
		t.effPrio = prio
	}
	wasRunning := t.state == Ready
	t.mu.Unlock()

	if wasRunning {
		s.mu.Lock()
		s.dequeueSpecific(t)
		s.enqueue(t)
		s.mu.Unlock()
	}
}

/// RecomputeDonation recalculates t's effective priority from its base
/// priority and the highest priority among threads waiting on locks it
/// holds, via the supplied lookup of "highest waiter priority per held
/// lock" (ksync.Lock implements this). Called after a lock release.
func (s *Scheduler) RecomputeDonation(t *Thread, highestWaiter func(Waitable) (int, bool)) {
	t.mu.Lock()
	best := t.basePrio
	held := make([]Waitable, 0, len(t.heldLocks))
	for w := range t.heldLocks {
		held = append(held, w)
	}
	t.mu.Unlock()

	for _, w := range held {
		if p, ok := highestWaiter(w); ok && p > best {
			best = p
		}
	}

	s.mu.Lock()
	wasReady := t.State() == Ready
	if wasReady {
		s.dequeueSpecific(t)
	}
	t.setEffPrio(best)
	if wasReady {
		s.enqueue(t)
	}
	s.mu.Unlock()
}
