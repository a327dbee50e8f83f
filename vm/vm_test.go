package vm

import (
	"testing"

	"maverickos/blockdev"
	"maverickos/frame"
	"maverickos/mem"
	"maverickos/swap"
)

func mkSpace(t *testing.T, npages int) (*Space, *frame.Table) {
	phys := mem.NewPhysmem(npages)
	frames := frame.NewTable(phys)
	return NewSpace(phys, frames, nil, nil), frames
}

func TestAnonFaultZeroFills(t *testing.T) {
	sp, _ := mkSpace(t, 8)
	sp.AddRegion(&Region{Start: 0x1000, End: 0x2000, Perm: PermRead | PermWrite, Kind: KindAnon})
	pa, err := sp.Translate(0x1000, false)
	if err != 0 {
		t.Fatalf("fault: %d", err)
	}
	pg := sp.phys.Dmap(pa)
	for _, b := range pg {
		if b != 0 {
			t.Fatalf("expected zero-filled page")
		}
	}
}

func TestFaultOutsideRegionIsEFAULT(t *testing.T) {
	sp, _ := mkSpace(t, 8)
	sp.AddRegion(&Region{Start: 0x1000, End: 0x2000, Perm: PermRead, Kind: KindAnon})
	if err := sp.Fault(0x9000, false); err == 0 {
		t.Fatalf("expected fault outside any region to fail")
	}
}

func TestWriteToReadOnlyRegionFails(t *testing.T) {
	sp, _ := mkSpace(t, 8)
	sp.AddRegion(&Region{Start: 0x1000, End: 0x2000, Perm: PermRead, Kind: KindAnon})
	if err := sp.Fault(0x1000, true); err == 0 {
		t.Fatalf("expected write fault against read-only region to fail")
	}
}

func TestEvictionSwapsDirtyAnonPage(t *testing.T) {
	phys := mem.NewPhysmem(1) // exactly one frame forces eviction on second page
	frames := frame.NewTable(phys)
	disk := blockdev.NewMemDisk(mem.PGSIZE / blockdev.SectorSize * 4)
	sd := swap.NewDevice(disk, 4)
	sp := NewSpace(phys, frames, sd, nil)
	sp.AddRegion(&Region{Start: 0x1000, End: 0x3000, Perm: PermRead | PermWrite, Kind: KindAnon})

	if _, err := sp.Translate(0x1000, true); err != 0 {
		t.Fatalf("first fault: %d", err)
	}
	pa1, _ := sp.Translate(0x1000, false)
	pg := sp.phys.Dmap(pa1)
	pg[0] = 0xAB

	// Touching a second page with only one physical frame forces the
	// first page to be evicted (written to swap).
	if _, err := sp.Translate(0x2000, true); err != 0 {
		t.Fatalf("second fault: %d", err)
	}

	// Faulting the first page back in should read its swapped-out
	// content back.
	pa1b, err := sp.Translate(0x1000, false)
	if err != 0 {
		t.Fatalf("refault: %d", err)
	}
	if sp.phys.Dmap(pa1b)[0] != 0xAB {
		t.Fatalf("swapped-in page lost its content")
	}
}

func TestDuplicateCopiesPrivatePagesEagerly(t *testing.T) {
	sp, _ := mkSpace(t, 8)
	sp.AddRegion(&Region{Start: 0x1000, End: 0x2000, Perm: PermRead | PermWrite, Kind: KindAnon})
	pa, _ := sp.Translate(0x1000, true)
	sp.phys.Dmap(pa)[0] = 0x42

	child := sp.Duplicate()
	cpa, err := child.Translate(0x1000, false)
	if err != 0 {
		t.Fatalf("child translate: %d", err)
	}
	if cpa == pa {
		t.Fatalf("expected eager duplication to use a distinct frame")
	}
	if child.phys.Dmap(cpa)[0] != 0x42 {
		t.Fatalf("expected duplicated content to carry over")
	}
	// Mutating the parent's page must not affect the child's copy.
	sp.phys.Dmap(pa)[0] = 0x99
	if child.phys.Dmap(cpa)[0] != 0x42 {
		t.Fatalf("expected child page to be independent of parent")
	}
}
