// Package blockdev is the block device façade (component G): a
// sector-addressed read/write interface plus a fixed partitioning of
// the backing disk into named roles (kernel image, file system, scratch,
// swap, write-ahead log).
//
// Grounded on biscuit's ufs.Disk_i interface and its ahci_disk_t
// implementation (src/ufs/driver.go): a Read/Write-by-sector interface
// in front of whatever actually moves the bytes, so the file-system and
// swap code above it never know whether they're talking to a real AHCI
// controller or, as here, a host-file-backed simulation.
package blockdev

import "maverickos/defs"

// SectorSize is set equal to the file system's block size (4096,
// matching fs.BSIZE's constant in biscuit's fs/blk.go) rather than a
// real 512-byte hardware sector: this simulation has no actual AHCI
// controller to be faithful to, and giving "sector" and "file system
// block" the same size avoids a block<->multi-sector translation layer
// that would add bookkeeping without adding anything testable.
const SectorSize = 4096

/// Disk is the sector-granular device interface every higher layer
/// (bcache, wal, swap) programs against.
type Disk interface {
	// Nsectors reports the device's total sector count.
	Nsectors() int
	// ReadSector reads one SectorSize-byte sector into dst, which must
	// have length SectorSize.
	ReadSector(sector int, dst []byte) defs.Err_t
	// WriteSector writes one SectorSize-byte sector from src, which must
	// have length SectorSize.
	WriteSector(sector int, src []byte) defs.Err_t
	// Flush forces any buffered writes to stable storage.
	Flush() defs.Err_t
}

/// Role names a contiguous region of the backing disk.
type Role int

const (
	RoleKernel Role = iota
	RoleFilesys
	RoleScratch
	RoleSwap
	RoleWAL
	nroles
)

func (r Role) String() string {
	switch r {
	case RoleKernel:
		return "kernel"
	case RoleFilesys:
		return "filesys"
	case RoleScratch:
		return "scratch"
	case RoleSwap:
		return "swap"
	case RoleWAL:
		return "wal"
	}
	return "?"
}

/// Layout maps roles to sector ranges on a single backing Disk, resolving
/// spec.md's open question of "where does the WAL live": a dedicated
/// RoleWAL region if the caller provisions one, else a reserved tail
/// slice of RoleFilesys (see NewLayout's wal=0 case).
type Layout struct {
	start [nroles]int
	count [nroles]int
	total int
}

/// NewLayout builds a layout from sector counts for each role, in order
/// kernel, filesys, scratch, swap, wal. If wal is 0, the WAL is carved
/// out of the tail of the filesys region instead (walFallback sectors
/// reserved there), matching the "WAL as a reserved tail of FILESYS if
/// only 3 roles exist" decision.
func NewLayout(kernel, filesys, scratch, swap, wal, walFallback int) *Layout {
	l := &Layout{}
	sizes := [nroles]int{kernel, filesys, scratch, swap, wal}
	fallback := wal == 0 && walFallback > 0
	if fallback {
		sizes[RoleFilesys] -= walFallback
	}
	off := 0
	for r := Role(0); r < nroles; r++ {
		if fallback && r == RoleWAL {
			continue
		}
		l.start[r] = off
		l.count[r] = sizes[r]
		off += sizes[r]
		if fallback && r == RoleFilesys {
			l.start[RoleWAL] = off
			l.count[RoleWAL] = walFallback
			off += walFallback
		}
	}
	l.total = off
	return l
}

/// RoleRange reports the sector range [start, start+count) for r.
func (l *Layout) RoleRange(r Role) (ok bool, start int, count int) {
	if r < 0 || r >= nroles {
		return false, 0, 0
	}
	return l.count[r] > 0, l.start[r], l.count[r]
}

/// TotalSectors reports the layout's total sector count.
func (l *Layout) TotalSectors() int { return l.total }

/// RoleDisk is a Disk view scoped to a single role's sector range within
/// a larger backing Disk, so code above this package addresses sectors
/// 0-relative within its own region.
type RoleDisk struct {
	back  Disk
	start int
	count int
}

/// NewRoleDisk creates a Disk view over [start, start+count) sectors of
/// back.
func NewRoleDisk(back Disk, start, count int) *RoleDisk {
	return &RoleDisk{back: back, start: start, count: count}
}

func (d *RoleDisk) Nsectors() int { return d.count }

func (d *RoleDisk) ReadSector(sector int, dst []byte) defs.Err_t {
	if sector < 0 || sector >= d.count {
		return defs.EINVAL
	}
	return d.back.ReadSector(d.start+sector, dst)
}

func (d *RoleDisk) WriteSector(sector int, src []byte) defs.Err_t {
	if sector < 0 || sector >= d.count {
		return defs.EINVAL
	}
	return d.back.WriteSector(d.start+sector, src)
}

func (d *RoleDisk) Flush() defs.Err_t { return d.back.Flush() }
