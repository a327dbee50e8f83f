package blockdev

import "testing"

func TestRoleDiskIsolatesSectorRanges(t *testing.T) {
	back := NewMemDisk(100)
	layout := NewLayout(10, 50, 10, 20, 10, 0)

	ok, start, count := layout.RoleRange(RoleFilesys)
	if !ok || start != 10 || count != 50 {
		t.Fatalf("unexpected filesys range: ok=%v start=%d count=%d", ok, start, count)
	}

	fs := NewRoleDisk(back, start, count)
	buf := make([]byte, SectorSize)
	buf[0] = 0x42
	if err := fs.WriteSector(0, buf); err != 0 {
		t.Fatalf("write failed: %d", err)
	}

	raw := make([]byte, SectorSize)
	if err := back.ReadSector(10, raw); err != 0 {
		t.Fatalf("read failed: %d", err)
	}
	if raw[0] != 0x42 {
		t.Fatalf("expected write to land at absolute sector 10, got %v", raw[0])
	}

	if err := fs.WriteSector(-1, buf); err == 0 {
		t.Fatalf("expected out-of-range write to fail")
	}
}

func TestWALFallsBackToFilesysTail(t *testing.T) {
	layout := NewLayout(10, 100, 10, 20, 0, 8)
	ok, start, count := layout.RoleRange(RoleWAL)
	if !ok || count != 8 {
		t.Fatalf("expected 8-sector WAL fallback region, got ok=%v count=%d", ok, count)
	}
	_, fsStart, fsCount := layout.RoleRange(RoleFilesys)
	if fsStart+fsCount != start {
		t.Fatalf("expected WAL fallback region to immediately follow filesys region")
	}
	if fsCount != 92 {
		t.Fatalf("expected filesys region shrunk by 8 sectors, got %d", fsCount)
	}
}
