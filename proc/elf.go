// ELF loading for Exec. Grounded on kernel/chentry.go's use of debug/elf
// for header manipulation: the same magic/class/type/machine checks,
// generalized here from "rewrite one field" to "walk PT_LOAD and install
// the regions it describes".
package proc

import (
	"debug/elf"
	"fmt"
	"io"

	"maverickos/defs"
	"maverickos/inode"
	"maverickos/mem"
	"maverickos/sched"
	"maverickos/vm"
)

/// inodeReaderAt adapts *inode.Inode to io.ReaderAt so debug/elf can parse
/// it directly off the file system, without reading the whole binary into
/// memory first.
type inodeReaderAt struct {
	t   *sched.Thread
	ino *inode.Inode
}

func (r inodeReaderAt) ReadAt(buf []byte, off int64) (int, error) {
	r.ino.RW.RLock(r.t)
	n, err := r.ino.ReadAt(buf, off)
	r.ino.RW.RUnlock(r.t)
	if err != 0 {
		return n, fmt.Errorf("inode read: errno %d", err)
	}
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

/// chkElfHeader validates that eh describes a binary this kernel core can
/// load, the same four checks kernel/chentry.go's chkELF makes (magic,
/// endianness, executable type, machine) expressed against debug/elf's
/// already-parsed FileHeader fields rather than raw Ident bytes: by the
/// time elf.NewFile returns successfully it has already confirmed the
/// magic bytes and decoded Ident[EI_CLASS]/Ident[EI_DATA] into Class/Data.
func chkElfHeader(eh *elf.FileHeader) defs.Err_t {
	if eh.Class != elf.ELFCLASS64 {
		return defs.EINVAL
	}
	if eh.Data != elf.ELFDATA2LSB {
		return defs.EINVAL
	}
	if eh.Type != elf.ET_EXEC {
		return defs.EINVAL
	}
	if eh.Machine != elf.EM_X86_64 {
		return defs.EINVAL
	}
	return 0
}

/// loadElf parses ino's ELF headers and installs one vm.Region per
/// PT_LOAD segment into sp: a file-backed region for the on-disk extent,
/// and (when the segment's memory size exceeds its file size) a separate
/// zero-filled anonymous region for the BSS tail. No physical frames are
/// allocated here -- every page is resolved lazily the first time Fault
/// touches it, per this rewrite's lazy-loading requirement.
func loadElf(t *sched.Thread, ino *inode.Inode, sp *vm.Space) (entry uintptr, err defs.Err_t) {
	ef, ferr := elf.NewFile(inodeReaderAt{t: t, ino: ino})
	if ferr != nil {
		return 0, defs.EINVAL
	}
	if err := chkElfHeader(&ef.FileHeader); err != 0 {
		return 0, err
	}

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if err := installLoadSegment(ino, sp, prog); err != 0 {
			return 0, err
		}
	}
	return uintptr(ef.Entry), 0
}

func installLoadSegment(ino *inode.Inode, sp *vm.Space, prog *elf.Prog) defs.Err_t {
	perm := vm.PermRead
	if prog.Flags&elf.PF_W != 0 {
		perm |= vm.PermWrite
	}
	if prog.Flags&elf.PF_X != 0 {
		perm |= vm.PermExec
	}

	start := pageFloor(uintptr(prog.Vaddr))
	fileEnd := pageCeil(uintptr(prog.Vaddr) + uintptr(prog.Filesz))
	memEnd := pageCeil(uintptr(prog.Vaddr) + uintptr(prog.Memsz))

	if prog.Filesz > 0 {
		sp.AddRegion(&vm.Region{
			Start:   start,
			End:     fileEnd,
			Perm:    perm,
			Kind:    vm.KindFile,
			Ino:     ino,
			FileOff: int64(prog.Off) - int64(uintptr(prog.Vaddr)-start),
			Shared:  false,
		})
	}
	if memEnd > fileEnd {
		sp.AddRegion(&vm.Region{
			Start: fileEnd,
			End:   memEnd,
			Perm:  perm,
			Kind:  vm.KindAnon,
		})
	}
	return 0
}

func pageFloor(va uintptr) uintptr { return va &^ uintptr(mem.PGSIZE-1) }

func pageCeil(va uintptr) uintptr {
	return (va + uintptr(mem.PGSIZE) - 1) &^ uintptr(mem.PGSIZE-1)
}
