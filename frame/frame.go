// Package frame implements the physical frame table (component N): an
// owner-tracking layer over mem.Physmem_t so the page-fault handler can
// find a victim frame to evict (clock/second-chance) when physical
// memory is exhausted, and can tell whose supplemental page table entry
// to invalidate when it steals a frame out from under them.
//
// Grounded on biscuit's Vm_t/mem.Physmem_t split (vm/as.go, mem/mem.go):
// mem owns raw refcounted pages, a higher layer (here, frame) tracks
// which virtual mapping currently owns each page for eviction purposes,
// since mem.Physmem_t itself only knows refcounts, not ownership.
package frame

import (
	"sync"

	"maverickos/mem"
)

/// Owner identifies the virtual mapping currently backed by a frame, so
/// an evictor can find and invalidate the corresponding supplemental
/// page table entry. Opaque to this package (implemented by vm.Space).
type Owner interface {
	// Evict is called by the frame table when this owner's mapping of pa
	// is being evicted. The frame table does not track writes, so it
	// always passes dirty=false; an owner that needs a writeback decision
	// keeps its own dirty state.
	Evict(pa mem.Pa_t, dirty bool)
}

type frameInfo struct {
	owner   Owner
	vaddr   uintptr
	refbit  bool
	pinned  bool
}

/// Table tracks ownership of every allocated physical frame for clock
/// eviction.
type Table struct {
	mu    sync.Mutex
	phys  *mem.Physmem_t
	owned map[mem.Pa_t]*frameInfo
	order []mem.Pa_t // clock ring of currently-owned frames
	hand  int
}

/// NewTable creates a frame table over phys.
func NewTable(phys *mem.Physmem_t) *Table {
	return &Table{phys: phys, owned: make(map[mem.Pa_t]*frameInfo)}
}

/// Alloc returns a fresh zeroed frame, evicting the clock's next
/// eligible (unpinned, not-recently-used) victim if physical memory is
/// exhausted. Returns false only if eviction itself could not free a
/// frame (e.g. every frame pinned).
func (t *Table) Alloc(owner Owner, vaddr uintptr) (mem.Pa_t, bool) {
	if pg, pa, ok := t.phys.Refpg_new(); ok {
		_ = pg
		t.phys.Refup(pa)
		t.track(pa, owner, vaddr)
		return pa, true
	}
	if !t.evictOne() {
		return 0, false
	}
	pg, pa, ok := t.phys.Refpg_new()
	if !ok {
		return 0, false
	}
	_ = pg
	t.phys.Refup(pa)
	t.track(pa, owner, vaddr)
	return pa, true
}

func (t *Table) track(pa mem.Pa_t, owner Owner, vaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owned[pa] = &frameInfo{owner: owner, vaddr: vaddr, refbit: true}
	t.order = append(t.order, pa)
}

/// Pin marks a frame as ineligible for eviction (e.g. while DMA or a
/// syscall copy touches it).
func (t *Table) Pin(pa mem.Pa_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fi, ok := t.owned[pa]; ok {
		fi.pinned = true
	}
}

/// Unpin clears a previous Pin.
func (t *Table) Unpin(pa mem.Pa_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fi, ok := t.owned[pa]; ok {
		fi.pinned = false
	}
}

/// Touch sets a frame's reference bit (call on every access so the
/// clock hand gives it a second chance).
func (t *Table) Touch(pa mem.Pa_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fi, ok := t.owned[pa]; ok {
		fi.refbit = true
	}
}

/// Free releases a frame this table owns back to the underlying
/// allocator.
func (t *Table) Free(pa mem.Pa_t) {
	t.mu.Lock()
	delete(t.owned, pa)
	t.mu.Unlock()
	t.phys.Refdown(pa)
}

// evictOne runs one clock sweep, evicting the first unpinned frame with
// a clear reference bit (clearing reference bits as it passes them).
// Caller must not hold t.mu.
func (t *Table) evictOne() bool {
	t.mu.Lock()
	if len(t.order) == 0 {
		t.mu.Unlock()
		return false
	}
	for tries := 0; tries < 2*len(t.order)+1; tries++ {
		if t.hand >= len(t.order) {
			t.hand = 0
		}
		pa := t.order[t.hand]
		fi, ok := t.owned[pa]
		if !ok {
			t.order = append(t.order[:t.hand], t.order[t.hand+1:]...)
			continue
		}
		if fi.pinned {
			t.hand++
			continue
		}
		if fi.refbit {
			fi.refbit = false
			t.hand++
			continue
		}
		// Victim found.
		t.order = append(t.order[:t.hand], t.order[t.hand+1:]...)
		delete(t.owned, pa)
		t.mu.Unlock()

		fi.owner.Evict(pa, false)
		t.phys.Refdown(pa)
		return true
	}
	t.mu.Unlock()
	return false
}

/// Occupied reports how many frames this table currently tracks (test/
/// introspection use).
func (t *Table) Occupied() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owned)
}
