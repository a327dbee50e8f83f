package scall

import (
	"sync"

	"maverickos/defs"
	"maverickos/ksync"
	"maverickos/proc"
)

// User code addresses locks, semaphores, and mmap'd regions by small
// integer handles it passes back into lock_acquire/sema_down/munmap --
// it never sees a *ksync.Lock or *vm.Region directly. Handles is the
// per-process table translating those handles to the real objects,
// grounded on the way biscuit's Proc_t keeps process-local maps (e.g.
// its fd table) rather than handing raw kernel pointers to user code.
type Handles struct {
	mu      sync.Mutex
	locks   map[int]*ksync.Lock
	semas   map[int]*ksync.Sema
	mmaps   map[int]uintptr
	joins   map[defs.Tid_t]*ksync.Sema
	nextLck int
	nextSem int
	nextMap int
}

func newHandles() *Handles {
	return &Handles{
		locks: make(map[int]*ksync.Lock),
		semas: make(map[int]*ksync.Sema),
		mmaps: make(map[int]uintptr),
		joins: make(map[defs.Tid_t]*ksync.Sema),
	}
}

// Dispatcher owns one Handles table per live process, created lazily on
// first use so a process that never touches lock_init/sema_init/mmap
// carries no bookkeeping for it.
type Dispatcher struct {
	tbl *proc.Table

	// OnHalt, when set, is invoked by the halt syscall in place of
	// actually powering the machine off (there being no machine here to
	// power off).
	OnHalt func()

	mu      sync.Mutex
	handles map[*proc.Proc_t]*Handles
}

/// NewDispatcher builds a syscall dispatcher over tbl's process
/// registry. One Dispatcher is shared by every process in tbl, the way
/// one biscuit kernel's syscall() function serves every process's traps.
func NewDispatcher(tbl *proc.Table) *Dispatcher {
	return &Dispatcher{tbl: tbl, handles: make(map[*proc.Proc_t]*Handles)}
}

func (d *Dispatcher) handlesFor(p *proc.Proc_t) *Handles {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.handles[p]
	if !ok {
		h = newHandles()
		d.handles[p] = h
	}
	return h
}

/// forget drops p's handle table, called from Exit's handler so a
/// process's locks/semas/mmaps don't linger after it's gone.
func (d *Dispatcher) forget(p *proc.Proc_t) {
	d.mu.Lock()
	delete(d.handles, p)
	d.mu.Unlock()
}

func (h *Handles) addLock(l *ksync.Lock) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextLck
	h.nextLck++
	h.locks[id] = l
	return id
}

func (h *Handles) lock(id int) (*ksync.Lock, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[id]
	return l, ok
}

func (h *Handles) addSema(s *ksync.Sema) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSem
	h.nextSem++
	h.semas[id] = s
	return id
}

func (h *Handles) sema(id int) (*ksync.Sema, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.semas[id]
	return s, ok
}

func (h *Handles) addMmap(addr uintptr) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextMap
	h.nextMap++
	h.mmaps[id] = addr
	return id
}

func (h *Handles) takeMmap(id int) (uintptr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr, ok := h.mmaps[id]
	if ok {
		delete(h.mmaps, id)
	}
	return addr, ok
}

/// join returns tid's join semaphore if one was registered by PtCreate.
/// pt_exit ups it and pt_join downs it, so a join call made before the
/// thread has even started still blocks correctly (the Sema starts at 0).
func (h *Handles) join(tid defs.Tid_t) (*ksync.Sema, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.joins[tid]
	return s, ok
}

func (h *Handles) registerJoin(tid defs.Tid_t, s *ksync.Sema) {
	h.mu.Lock()
	h.joins[tid] = s
	h.mu.Unlock()
}
