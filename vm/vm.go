// Package vm implements the virtual memory glue: an address space's
// region map, its supplemental page table (SPT), and the page-fault
// handler that resolves a fault by consulting the SPT and installing a
// physical frame -- zero-filled, read in from a file, or swapped back
// in, evicting via the frame table's clock algorithm when physical
// memory is exhausted.
//
// Grounded on biscuit's Vm_t (vm/as.go): the pmap lock discipline
// (Lock_pmap/Unlock_pmap/Lockassert_pmap, here just Space.mu since this
// module has no real page tables to protect) and the fault-driven
// Userdmap8_inner resolution path. There is no real MMU or TLB in this
// environment (stock Go, no patched runtime, SMP out of scope per
// spec.md Non-goals), so unlike biscuit's recursive page-table self-map
// this package keeps the SPT as the only address translation structure
// and callers invoke Fault explicitly with a write flag instead of
// trapping a real page-fault exception -- the same "explicit parameter
// instead of implicit hardware state" substitution used throughout
// sched/ksync for the missing patched-runtime thread-local.
package vm

import (
	"sync"

	"maverickos/defs"
	"maverickos/frame"
	"maverickos/inode"
	"maverickos/mem"
	"maverickos/swap"
	"maverickos/wal"
)

/// Perm is a bitmask of page permissions.
type Perm int

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

/// Kind distinguishes how a region's pages are populated on first fault.
type Kind int

const (
	KindAnon Kind = iota // zero-filled on demand (heap, stack, bss)
	KindFile              // backed by an inode (mmap, program text/data)
)

/// Region describes one mapped, page-aligned range of an address space.
type Region struct {
	Start, End uintptr // [Start, End), page-aligned
	Perm       Perm
	Kind       Kind
	Ino        *inode.Inode // non-nil when Kind == KindFile
	FileOff    int64        // file offset corresponding to Start
	Shared     bool         // MAP_SHARED: writeback dirty pages to Ino
}

func (r *Region) contains(va uintptr) bool { return va >= r.Start && va < r.End }

type status int

const (
	statusZero status = iota
	statusFile
	statusSwap
	statusFrame
)

type pte struct {
	status status
	pa     mem.Pa_t
	slot   swap.Slot
	dirty  bool
}

/// Space is one process's virtual address space: a region map plus the
/// supplemental page table resolving each mapped page's backing.
type Space struct {
	pmap sync.Mutex
	taken bool

	regions []*Region
	pages   map[uintptr]*pte

	frames  *frame.Table
	swapdev *swap.Device
	phys    *mem.Physmem_t
	log     *wal.Log
}

/// Lock_pmap serializes every operation that walks or mutates this
/// address space's region map and supplemental page table, mirroring
/// Vm_t.Lock_pmap.
func (sp *Space) Lock_pmap() { sp.pmap.Lock(); sp.taken = true }

/// Unlock_pmap releases the lock taken by Lock_pmap.
func (sp *Space) Unlock_pmap() { sp.taken = false; sp.pmap.Unlock() }

/// Lockassert_pmap panics if the pmap lock is not currently held --
/// a debug assertion mirroring Vm_t.Lockassert_pmap.
func (sp *Space) Lockassert_pmap() {
	if !sp.taken {
		panic("pmap lock not held")
	}
}

/// NewSpace creates an empty address space sharing the given physical
/// allocator, frame table, swap device and write-ahead log (all are
/// process-independent singletons in this single-machine kernel core).
/// log may be nil for an address space that never maps shared files
/// (e.g. a purely anonymous scratch space used in tests).
func NewSpace(phys *mem.Physmem_t, frames *frame.Table, swapdev *swap.Device, log *wal.Log) *Space {
	return &Space{pages: make(map[uintptr]*pte), frames: frames, swapdev: swapdev, phys: phys, log: log}
}

func pageAlign(va uintptr) uintptr { return va &^ uintptr(mem.PGSIZE-1) }

/// AddRegion installs r into the address space. Caller must ensure r
/// does not overlap an existing region.
func (sp *Space) AddRegion(r *Region) {
	sp.Lock_pmap()
	defer sp.Unlock_pmap()
	sp.regions = append(sp.regions, r)
}

/// RemoveRegion deletes the region starting at start, releasing every
/// frame/slot it still owns and, for shared file-backed regions, writing
/// back dirty pages first.
func (sp *Space) RemoveRegion(start uintptr) defs.Err_t {
	sp.Lock_pmap()
	defer sp.Unlock_pmap()
	for i, r := range sp.regions {
		if r.Start != start {
			continue
		}
		for va := r.Start; va < r.End; va += uintptr(mem.PGSIZE) {
			sp.dropPage(r, va)
		}
		sp.regions = append(sp.regions[:i], sp.regions[i+1:]...)
		return 0
	}
	return defs.EINVAL
}

/// Destroy releases every region's frames and swap slots, leaving sp
/// empty. Called when an address space is discarded outright -- Exec
/// replacing the current process image, or a process exiting -- rather
/// than one region at a time.
func (sp *Space) Destroy() {
	sp.Lock_pmap()
	defer sp.Unlock_pmap()
	for _, r := range sp.regions {
		for va := r.Start; va < r.End; va += uintptr(mem.PGSIZE) {
			sp.dropPage(r, va)
		}
	}
	sp.regions = nil
}

func (sp *Space) dropPage(r *Region, va uintptr) {
	p, ok := sp.pages[va]
	if !ok {
		return
	}
	if p.status == statusFrame {
		if r.Kind == KindFile && r.Shared && p.dirty {
			sp.writebackPage(r, va, p.pa)
		}
		sp.frames.Free(p.pa)
	}
	if p.status == statusSwap {
		sp.swapdev.Free(p.slot)
	}
	delete(sp.pages, va)
}

// writebackPage is always called with sp.pmap held, which serializes it
// against any other Space operation but not against a concurrent
// vfs.Fs.Write to the same inode through a regular fd -- a second inode
// writer lock would be needed for full mmap/read-write coherency, which
// this rewrite does not implement (see DESIGN.md).
func (sp *Space) writebackPage(r *Region, va uintptr, pa mem.Pa_t) {
	if sp.log == nil {
		return
	}
	pg := sp.phys.Dmap(pa)
	off := r.FileOff + int64(va-r.Start)
	txid, err := sp.log.Begin()
	if err != 0 {
		return
	}
	r.Ino.WriteAt(txid, pg[:], off)
	sp.log.Commit(txid)
}

func (sp *Space) find(va uintptr) *Region {
	for _, r := range sp.regions {
		if r.contains(va) {
			return r
		}
	}
	return nil
}

type pageOwner struct {
	sp *Space
	r  *Region
	va uintptr
}

/// Evict implements frame.Owner: called by the frame table when this
/// page's frame is chosen as an eviction victim.
func (o pageOwner) Evict(pa mem.Pa_t, _ bool) {
	p, ok := o.sp.pages[o.va]
	if !ok || p.pa != pa {
		return
	}
	if o.r.Kind == KindFile && o.r.Shared {
		if p.dirty {
			o.sp.writebackPage(o.r, o.va, pa)
		}
		p.status = statusFile
		p.pa = 0
		p.dirty = false
		return
	}
	if p.dirty {
		slot, err := o.sp.swapdev.Alloc()
		if err == 0 {
			pg := o.sp.phys.Dmap(pa)
			o.sp.swapdev.Out(slot, pg)
			p.status = statusSwap
			p.slot = slot
			p.pa = 0
			p.dirty = false
			return
		}
	}
	// Clean page: anon pages were never written since their last
	// zero-fill and can simply be re-zeroed on next fault; private
	// file-backed pages are unmodified and can be re-read from the file.
	if o.r.Kind == KindAnon {
		p.status = statusZero
	} else {
		p.status = statusFile
	}
	p.pa = 0
	p.dirty = false
}

/// Fault resolves a page fault at vaddr, installing a physical frame.
/// write reports whether the fault was caused by a store (this
/// simulation has no real CPU trap to read a fault-reason bit from, so
/// every caller that might write passes write=true explicitly -- see
/// CopyOut, which the scall package's copy_buf_out goes through).
func (sp *Space) Fault(vaddr uintptr, write bool) defs.Err_t {
	sp.Lock_pmap()
	defer sp.Unlock_pmap()
	va := pageAlign(vaddr)
	r := sp.find(va)
	if r == nil {
		return defs.EFAULT
	}
	if write && r.Perm&PermWrite == 0 {
		return defs.EFAULT
	}
	p, ok := sp.pages[va]
	if !ok {
		p = &pte{status: statusZero}
		if r.Kind == KindFile {
			p.status = statusFile
		}
		sp.pages[va] = p
	}
	switch p.status {
	case statusFrame:
		sp.frames.Touch(p.pa)
		if write {
			p.dirty = true
		}
		return 0
	case statusZero:
		pa, ok := sp.frames.Alloc(pageOwner{sp, r, va}, va)
		if !ok {
			return defs.ENOMEM
		}
		p.status = statusFrame
		p.pa = pa
		p.dirty = write
		return 0
	case statusFile:
		pa, ok := sp.frames.Alloc(pageOwner{sp, r, va}, va)
		if !ok {
			return defs.ENOMEM
		}
		pg := sp.phys.Dmap(pa)
		off := r.FileOff + int64(va-r.Start)
		r.Ino.ReadAt(pg[:], off)
		p.status = statusFrame
		p.pa = pa
		p.dirty = write
		return 0
	case statusSwap:
		pa, ok := sp.frames.Alloc(pageOwner{sp, r, va}, va)
		if !ok {
			return defs.ENOMEM
		}
		pg := sp.phys.Dmap(pa)
		slot := p.slot
		if err := sp.swapdev.In(slot, pg); err != 0 {
			return err
		}
		sp.swapdev.Free(slot)
		p.status = statusFrame
		p.pa = pa
		p.slot = 0
		p.dirty = write
		return 0
	}
	return defs.EFAULT
}

/// Translate returns the physical frame currently backing vaddr,
/// faulting it in first if necessary. write indicates intent to write,
/// same as Fault.
func (sp *Space) Translate(vaddr uintptr, write bool) (mem.Pa_t, defs.Err_t) {
	if err := sp.Fault(vaddr, write); err != 0 {
		return 0, err
	}
	sp.Lock_pmap()
	defer sp.Unlock_pmap()
	va := pageAlign(vaddr)
	p := sp.pages[va]
	return p.pa, 0
}

/// CopyOut writes data into sp's address space starting at vaddr,
/// faulting each destination page in (with write intent) one at a time
/// via Translate. Mirrors biscuit's Userdmap8_inner: a "copy to user"
/// helper built on the same fault-then-translate path regular accesses
/// use, rather than a raw pointer write, since a destination page may
/// not be resident yet.
func (sp *Space) CopyOut(vaddr uintptr, data []byte) defs.Err_t {
	for len(data) > 0 {
		pa, err := sp.Translate(vaddr, true)
		if err != 0 {
			return err
		}
		pageOff := int(vaddr & uintptr(mem.PGSIZE-1))
		n := mem.PGSIZE - pageOff
		if n > len(data) {
			n = len(data)
		}
		pg := sp.phys.Dmap(pa)
		copy(pg[pageOff:pageOff+n], data[:n])
		data = data[n:]
		vaddr += uintptr(n)
	}
	return 0
}

/// CopyIn reads len(data) bytes out of sp's address space starting at
/// vaddr into data, faulting each source page in (read-only) as needed.
func (sp *Space) CopyIn(vaddr uintptr, data []byte) defs.Err_t {
	for len(data) > 0 {
		pa, err := sp.Translate(vaddr, false)
		if err != 0 {
			return err
		}
		pageOff := int(vaddr & uintptr(mem.PGSIZE-1))
		n := mem.PGSIZE - pageOff
		if n > len(data) {
			n = len(data)
		}
		pg := sp.phys.Dmap(pa)
		copy(data[:n], pg[pageOff:pageOff+n])
		data = data[n:]
		vaddr += uintptr(n)
	}
	return 0
}

/// Duplicate eagerly copies every resident/swapped/file page of sp into
/// a new address space (fork semantics): spec.md's own design note rules
/// out copy-on-write for this rewrite, so every private page is
/// physically duplicated up front rather than shared and marked
/// read-only.
func (sp *Space) Duplicate() *Space {
	sp.Lock_pmap()
	defer sp.Unlock_pmap()
	ns := NewSpace(sp.phys, sp.frames, sp.swapdev, sp.log)
	for _, r := range sp.regions {
		nr := &Region{Start: r.Start, End: r.End, Perm: r.Perm, Kind: r.Kind, Ino: r.Ino, FileOff: r.FileOff, Shared: r.Shared}
		ns.regions = append(ns.regions, nr)
		if r.Shared {
			// Shared mappings stay backed by the same file; no page
			// content needs eager copying, faults re-read from Ino.
			continue
		}
		for va := r.Start; va < r.End; va += uintptr(mem.PGSIZE) {
			p, ok := sp.pages[va]
			if !ok {
				continue
			}
			np := &pte{status: p.status, slot: p.slot}
			ns.pages[va] = np
			if p.status == statusFrame {
				npa, ok := ns.frames.Alloc(pageOwner{ns, nr, va}, va)
				if !ok {
					continue
				}
				srcPg := sp.phys.Dmap(p.pa)
				dstPg := ns.phys.Dmap(npa)
				copy(dstPg[:], srcPg[:])
				np.status = statusFrame
				np.pa = npa
				np.dirty = p.dirty
			}
		}
	}
	return ns
}
