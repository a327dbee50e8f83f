package proc

import (
	"encoding/binary"

	"maverickos/defs"
	"maverickos/mem"
	"maverickos/vm"
)

// UserStackTop is the fixed top-of-stack address installed for every
// freshly exec'd address space. UserStackMaxPages bounds how far the
// stack region extends downward; pages within it besides the first are
// materialized lazily by ordinary Fault calls as execution grows the
// stack, per the lazy-loading requirement on everything but the first
// page.
const (
	UserStackTop     uintptr = 0x00007f0000000000
	UserStackMaxPages        = 2048 // 8MiB
)

/// buildArgvStack installs the stack region in sp and writes argv onto
/// it, returning the initial stack pointer. Layout follows the
/// argc/argv-above-the-strings convention described for this kernel
/// core's exec, adapted from 4-byte machine words to the 8-byte pointer
/// width debug/elf's EM_X86_64 check requires: strings packed down from
/// the top, then a word-aligned, NULL-terminated array of pointers to
/// them, then a pointer to that array (argv), then argc.
func buildArgvStack(sp *vm.Space, argv []string) (uintptr, defs.Err_t) {
	top := UserStackTop
	base := top - uintptr(UserStackMaxPages*mem.PGSIZE)
	sp.AddRegion(&vm.Region{Start: base, End: top, Perm: vm.PermRead | vm.PermWrite, Kind: vm.KindAnon})

	// Materialize the first (topmost) page eagerly; everything below
	// grows on fault as the running program touches it.
	if err := sp.Fault(top-1, true); err != 0 {
		return 0, err
	}

	cur := top
	ptrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := append([]byte(argv[i]), 0)
		cur -= uintptr(len(s))
		if err := sp.CopyOut(cur, s); err != 0 {
			return 0, err
		}
		ptrs[i] = cur
	}

	cur &^= 7 // align the pointer array to a word boundary

	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], 0)
	cur -= 8
	if err := sp.CopyOut(cur, word[:]); err != 0 { // argv[argc] == NULL
		return 0, err
	}

	for i := len(argv) - 1; i >= 0; i-- {
		binary.LittleEndian.PutUint64(word[:], uint64(ptrs[i]))
		cur -= 8
		if err := sp.CopyOut(cur, word[:]); err != 0 {
			return 0, err
		}
	}
	argvAddr := cur

	binary.LittleEndian.PutUint64(word[:], uint64(argvAddr))
	cur -= 8
	if err := sp.CopyOut(cur, word[:]); err != 0 {
		return 0, err
	}

	binary.LittleEndian.PutUint64(word[:], uint64(len(argv)))
	cur -= 8
	if err := sp.CopyOut(cur, word[:]); err != 0 {
		return 0, err
	}

	return cur, 0
}
