// Package swap implements swap-slot management (component O): a bitmap
// of free/used slots on the disk's RoleSwap region, and page-granular
// SwapOut/SwapIn against it. Grounded on biscuit's swap-adjacent bitmap
// allocator pattern in mem/mem.go's free list and on the bitmap package
// built for inode/data-block allocation -- the same fixed-size slot
// allocator shape, just addressing swap sectors instead of inodes.
package swap

import (
	"sync"

	"maverickos/bitmap"
	"maverickos/blockdev"
	"maverickos/defs"
	"maverickos/limits"
	"maverickos/mem"
)

/// Slot identifies a page-sized region on the swap device. 0 is never
/// issued, so it doubles as a "no slot" sentinel for SPT entries that
/// have never been written out.
type Slot uint32

const sectorsPerPage = mem.PGSIZE / blockdev.SectorSize

/// Device backs swap slots onto a disk region, one Slot per PGSIZE-sized
/// run of sectors.
type Device struct {
	mu   sync.Mutex
	disk blockdev.Disk
	free *bitmap.Bitmap
}

/// NewDevice creates a swap device over disk, which must have at least
/// nslots*sectorsPerPage sectors.
func NewDevice(disk blockdev.Disk, nslots int) *Device {
	if sectorsPerPage == 0 {
		panic("blockdev.SectorSize must divide mem.PGSIZE")
	}
	need := nslots * sectorsPerPage
	if disk.Nsectors() < need {
		panic("swap region too small for nslots")
	}
	return &Device{disk: disk, free: bitmap.New(nslots)}
}

/// Alloc reserves a fresh swap slot, taking one unit from the
/// system-wide swap pool (limits.Syslimit.Swapslots) first -- ENOMEM if
/// the system-wide pool is exhausted even though this device's own
/// bitmap still has room, since several swap devices can share one
/// system-wide limit.
func (d *Device) Alloc() (Slot, defs.Err_t) {
	if !limits.Syslimit.Swapslots.Take() {
		return 0, defs.ENOMEM
	}
	d.mu.Lock()
	n, ok := d.free.Alloc()
	d.mu.Unlock()
	if !ok {
		limits.Syslimit.Swapslots.Give()
		return 0, defs.ENOMEM
	}
	return Slot(n + 1), 0
}

/// Free releases a swap slot previously returned by Alloc, returning its
/// unit to the system-wide swap pool.
func (d *Device) Free(s Slot) {
	d.mu.Lock()
	d.free.Free(int(s) - 1)
	d.mu.Unlock()
	limits.Syslimit.Swapslots.Give()
}

func (d *Device) baseSector(s Slot) int {
	return (int(s) - 1) * sectorsPerPage
}

/// Out writes one physical page's contents to the given slot.
func (d *Device) Out(s Slot, pg *mem.Pg_t) defs.Err_t {
	base := d.baseSector(s)
	for i := 0; i < sectorsPerPage; i++ {
		off := i * blockdev.SectorSize
		if err := d.disk.WriteSector(base+i, pg[off:off+blockdev.SectorSize]); err != 0 {
			return err
		}
	}
	return 0
}

/// In reads a slot's contents back into pg.
func (d *Device) In(s Slot, pg *mem.Pg_t) defs.Err_t {
	base := d.baseSector(s)
	for i := 0; i < sectorsPerPage; i++ {
		off := i * blockdev.SectorSize
		if err := d.disk.ReadSector(base+i, pg[off:off+blockdev.SectorSize]); err != 0 {
			return err
		}
	}
	return 0
}
