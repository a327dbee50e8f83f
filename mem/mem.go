// Package mem implements the physical page allocator (component B) and a
// subpage allocator for small kernel objects (component C). Grounded on
// biscuit's mem package (src/mem/mem.go, src/mem/dmap.go): the Pa_t/Pg_t
// naming, the page-sized free list with refcounting, and the always-zeroed
// vs. nozero allocation split all come from there.
//
// biscuit runs on a patched Go runtime with real physical RAM and a
// recursive self-map (dmap.go's Dmap_init, runtime.CPUHint, runtime.Cpuid).
// None of that substrate exists in the stock toolchain this module builds
// against, and SMP is explicitly out of scope (spec.md Non-goals), so the
// physical address space here is a single flat byte arena: Pa_t is an
// index into it rather than a real physical address, and Dmap is the
// identity view onto that arena. The allocation algorithm -- a singly
// linked free list threaded through the page metadata array, refcounted,
// page-granular -- is unchanged.
package mem

import (
	"sync"
)

/// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of one page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks the in-page offset of an address.
const PGOFFSET Pa_t = Pa_t(PGSIZE - 1)

/// PGMASK masks the page-aligned part of an address.
const PGMASK Pa_t = ^PGOFFSET

/// Pa_t is a simulated physical address: an index into the Physmem_t
/// arena, always used page-aligned except where noted.
type Pa_t uintptr

/// Pg_t is a page-sized byte buffer -- the unit physical memory is
/// allocated in.
type Pg_t [PGSIZE]byte

/// Page_i abstracts page allocation so higher layers (buffer cache,
/// frame table, SPT) don't depend on the concrete allocator.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

type physpg_t struct {
	pg     Pg_t
	refcnt int32
	nexti  uint32 // index of next free page, ^uint32(0) if none
	inuse  bool
}

/// Physmem_t owns every page-sized unit of simulated RAM above the
/// reserved kernel image, split conceptually into a free list (no
/// separate kernel/user pools are modeled -- single address space).
type Physmem_t struct {
	mu      sync.Mutex
	pgs     []physpg_t
	freei   uint32
	freelen int
}

const nilidx = ^uint32(0)

/// NewPhysmem allocates npages pages of simulated physical memory and
/// threads them onto the free list. Mirrors Phys_init's free-list setup.
func NewPhysmem(npages int) *Physmem_t {
	if npages <= 0 {
		panic("bad npages")
	}
	p := &Physmem_t{pgs: make([]physpg_t, npages)}
	for i := range p.pgs {
		if i == npages-1 {
			p.pgs[i].nexti = nilidx
		} else {
			p.pgs[i].nexti = uint32(i + 1)
		}
	}
	p.freei = 0
	p.freelen = npages
	return p
}

func (p *Physmem_t) idx(pa Pa_t) uint32 {
	i := uint32(pa >> PGSHIFT)
	if int(i) >= len(p.pgs) {
		panic("pa out of range")
	}
	return i
}

/// Refpg_new allocates a zeroed page. The returned page's refcount is 0;
/// the caller must Refup it if it intends to keep a reference.
func (p *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, pa, ok := p.Refpg_new_nozero()
	if !ok {
		return nil, 0, false
	}
	for i := range pg {
		pg[i] = 0
	}
	return pg, pa, true
}

/// Refpg_new_nozero allocates a page without zeroing its contents.
func (p *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.freei == nilidx {
		return nil, 0, false
	}
	i := p.freei
	p.freei = p.pgs[i].nexti
	p.freelen--
	if p.pgs[i].refcnt != 0 {
		panic("free page has nonzero refcount")
	}
	p.pgs[i].inuse = true
	pa := Pa_t(i) << PGSHIFT
	return &p.pgs[i].pg, pa, true
}

/// Refcnt returns the current reference count of the page at pa.
func (p *Physmem_t) Refcnt(pa Pa_t) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.pgs[p.idx(pa)].refcnt)
}

/// Refup increments the reference count of the page at pa.
func (p *Physmem_t) Refup(pa Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pgs[p.idx(pa)].refcnt++
}

/// Refdown decrements the reference count of the page at pa, freeing it
/// and returning true when the count reaches zero.
func (p *Physmem_t) Refdown(pa Pa_t) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.idx(pa)
	if p.pgs[i].refcnt <= 0 {
		panic("refdown of unreferenced page")
	}
	p.pgs[i].refcnt--
	if p.pgs[i].refcnt != 0 {
		return false
	}
	p.pgs[i].inuse = false
	p.pgs[i].nexti = p.freei
	p.freei = i
	p.freelen++
	return true
}

/// Dmap returns the direct-mapped view of the page at pa -- in this
/// simulated arena, simply the backing array slot.
func (p *Physmem_t) Dmap(pa Pa_t) *Pg_t {
	return &p.pgs[p.idx(pa)].pg
}

/// Dmap8 returns a byte slice of the page at pa starting at pa's
/// in-page offset.
func (p *Physmem_t) Dmap8(pa Pa_t) []uint8 {
	pg := p.Dmap(pa)
	off := pa & PGOFFSET
	return pg[off:]
}

/// Freepages reports the number of pages currently on the free list.
func (p *Physmem_t) Freepages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freelen
}

/// Total reports the total number of pages this allocator manages.
func (p *Physmem_t) Total() int {
	return len(p.pgs)
}
