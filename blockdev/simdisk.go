package blockdev

import (
	"os"
	"sync"

	"maverickos/defs"
)

/// MemDisk is an in-memory Disk, useful for unit tests that don't want
/// filesystem side effects.
type MemDisk struct {
	mu    sync.Mutex
	sects [][]byte
}

/// NewMemDisk creates an all-zero in-memory disk with n sectors.
func NewMemDisk(n int) *MemDisk {
	d := &MemDisk{sects: make([][]byte, n)}
	for i := range d.sects {
		d.sects[i] = make([]byte, SectorSize)
	}
	return d
}

func (d *MemDisk) Nsectors() int { return len(d.sects) }

func (d *MemDisk) ReadSector(sector int, dst []byte) defs.Err_t {
	if sector < 0 || sector >= len(d.sects) || len(dst) != SectorSize {
		return defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(dst, d.sects[sector])
	return 0
}

func (d *MemDisk) WriteSector(sector int, src []byte) defs.Err_t {
	if sector < 0 || sector >= len(d.sects) || len(src) != SectorSize {
		return defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.sects[sector], src)
	return 0
}

func (d *MemDisk) Flush() defs.Err_t { return 0 }

/// FileDisk is a host-file-backed Disk, grounded on biscuit's
/// ahci_disk_t (src/ufs/driver.go): a single backing store opened once,
/// read and written by sector offset, flushed via Sync. Unlike
/// ahci_disk_t it talks to a regular os.File instead of a PCI/AHCI
/// controller, which is what lets the file-system core in this module
/// run under go test without real hardware.
type FileDisk struct {
	mu sync.Mutex
	f  *os.File
	n  int
}

/// OpenFileDisk opens (creating if needed) a disk image at path sized to
/// hold n sectors, extending a short or fresh file to the right size.
func OpenFileDisk(path string, n int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	want := int64(n) * SectorSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &FileDisk{f: f, n: n}, nil
}

func (d *FileDisk) Nsectors() int { return d.n }

func (d *FileDisk) ReadSector(sector int, dst []byte) defs.Err_t {
	if sector < 0 || sector >= d.n || len(dst) != SectorSize {
		return defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.ReadAt(dst, int64(sector)*SectorSize)
	if err != nil {
		return defs.EIO
	}
	return 0
}

func (d *FileDisk) WriteSector(sector int, src []byte) defs.Err_t {
	if sector < 0 || sector >= d.n || len(src) != SectorSize {
		return defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.WriteAt(src, int64(sector)*SectorSize)
	if err != nil {
		return defs.EIO
	}
	return 0
}

func (d *FileDisk) Flush() defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Sync(); err != nil {
		return defs.EIO
	}
	return 0
}

/// Close releases the backing file.
func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
