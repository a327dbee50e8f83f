// mmap.go implements the mmap/munmap surface over Space's region map,
// grounded on biscuit's Proc_t.mmap... Vm_t.Vmregion handling in
// vm/as.go: find-or-require a free virtual range, install a Region,
// fault pages in lazily from the backing inode.
package vm

import (
	"maverickos/inode"
	"maverickos/mem"
)

/// FindFreeRange scans [hint, top) for a gap of at least length bytes
/// not covered by any existing region, page-aligning the result. Used
/// by the supplemented mmap(2) syscall when the caller passes addr==0.
func (sp *Space) FindFreeRange(hint, top uintptr, length int) (uintptr, bool) {
	sp.Lock_pmap()
	defer sp.Unlock_pmap()
	need := uintptr(pageRoundUp(length))
	cand := pageAlign(hint)
	for cand+need <= top {
		overlap := false
		for _, r := range sp.regions {
			if cand < r.End && cand+need > r.Start {
				overlap = true
				cand = pageAlign(r.End + uintptr(mem.PGSIZE-1))
				break
			}
		}
		if !overlap {
			return cand, true
		}
	}
	return 0, false
}

func pageRoundUp(n int) int {
	return (n + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1)
}

/// Mmap installs a new mapping at [addr, addr+length) backed either by
/// zero-fill anonymous memory (ino == nil) or by ino starting at
/// fileOff. shared controls whether writes are written back to ino on
/// eviction/unmap (MAP_SHARED) or discarded (MAP_PRIVATE).
func (sp *Space) Mmap(addr uintptr, length int, perm Perm, shared bool, ino *inode.Inode, fileOff int64) *Region {
	r := &Region{
		Start:   pageAlign(addr),
		End:     pageAlign(addr) + uintptr(pageRoundUp(length)),
		Perm:    perm,
		Kind:    KindAnon,
		Shared:  shared,
		Ino:     ino,
		FileOff: fileOff,
	}
	if ino != nil {
		r.Kind = KindFile
	}
	sp.AddRegion(r)
	return r
}

/// Munmap tears down the mapping starting at addr, writing back any
/// dirty shared pages first (via RemoveRegion/dropPage).
func (sp *Space) Munmap(addr uintptr) bool {
	return sp.RemoveRegion(pageAlign(addr)) == 0
}
