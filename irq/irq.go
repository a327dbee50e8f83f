// Package irq is the interrupt & CPU façade (component A). On real
// hardware, disabling interrupts is how a uniprocessor kernel serializes
// short critical sections against both preemption and device IRQs. This
// module is single-CPU (spec.md Non-goals: no SMP), so "interrupts
// disabled" is modeled as holding the one CPU's lock: while any thread's
// Handle has disabled interrupts, no other thread and no timer tick can
// run, exactly as on real uniprocessor hardware.
//
// Grounded on biscuit's irq discipline as described by spec.md §4.A; the
// "save, disable for a short section, restore" idiom mirrors the
// Lock_pmap/Unlock_pmap/Lockassert_pmap trio in biscuit's vm/as.go (an
// explicit, per-object handle rather than implicit thread-local state,
// since this rewrite has no patched runtime to hang a current-thread
// pointer off of -- see design note in sched/ about tinfo).
package irq

import "sync"

// cpu is the single CPU's disable/enable lock. Exactly one Handle may
// hold interrupts disabled at any instant.
var cpu sync.Mutex

/// Handle is a thread's view of the interrupt-disable discipline. Each
/// kernel thread owns exactly one Handle (embedded in its TCB) and must
/// not share it across goroutines.
type Handle struct {
	depth int
}

/// Disable masks interrupts for this thread, acquiring the CPU lock on
/// the outermost call. It returns the previous enabled/disabled level so
/// the caller can restore it later.
func (h *Handle) Disable() (old bool) {
	old = h.depth == 0
	if h.depth == 0 {
		cpu.Lock()
	}
	h.depth++
	return old
}

/// Enable restores interrupts for this thread, releasing the CPU lock
/// once the nesting depth returns to zero.
func (h *Handle) Enable() {
	if h.depth == 0 {
		panic("irq: enable without matching disable")
	}
	h.depth--
	if h.depth == 0 {
		cpu.Unlock()
	}
}

/// Restore sets the nesting depth back to the level Disable returned,
/// i.e. either a no-op (was already disabled) or a full Enable (was
/// enabled). Mirrors the common "save old IF, do a thing, restore IF"
/// pattern used throughout the sync primitives below.
func (h *Handle) Restore(wasEnabled bool) {
	if wasEnabled {
		h.Enable()
	}
}

/// Enabled reports whether this thread currently has interrupts enabled.
func (h *Handle) Enabled() bool {
	return h.depth == 0
}

/// WithDisabled runs f with interrupts disabled for this thread and
/// guarantees restoration on every exit path, including a panic
/// escalated out of f -- the deferred Enable always runs during unwind.
func (h *Handle) WithDisabled(f func()) {
	h.Disable()
	defer h.Enable()
	f()
}

/// AssertDisabled panics if this thread does not currently hold
/// interrupts disabled. Used by primitives documented as requiring the
/// caller to have already disabled interrupts (spec.md §4.E
/// thread_block).
func (h *Handle) AssertDisabled() {
	if h.depth == 0 {
		panic("irq: interrupts must be disabled here")
	}
}
