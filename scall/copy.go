package scall

import (
	"encoding/binary"

	"maverickos/defs"
	"maverickos/vm"
)

const maxCopyStringLen = 4096

/// copy_u32 reads a single little-endian 32-bit word out of user
/// address space, the same primitive biscuit's dispatch loop uses to
/// fetch a syscall argument word at a time off the trapped stack.
func copy_u32(sp *vm.Space, vaddr uintptr) (uint32, defs.Err_t) {
	var buf [4]byte
	if err := sp.CopyIn(vaddr, buf[:]); err != 0 {
		return 0, defs.EFAULT
	}
	return binary.LittleEndian.Uint32(buf[:]), 0
}

/// copy_buf_in copies n bytes out of user address space starting at
/// vaddr, failing with EFAULT if any page in the range is unmapped or
/// not readable rather than faulting the kernel itself.
func copy_buf_in(sp *vm.Space, vaddr uintptr, n int) ([]byte, defs.Err_t) {
	buf := make([]byte, n)
	if err := sp.CopyIn(vaddr, buf); err != 0 {
		return nil, defs.EFAULT
	}
	return buf, 0
}

/// copy_buf_out writes buf into user address space starting at vaddr.
func copy_buf_out(sp *vm.Space, vaddr uintptr, buf []byte) defs.Err_t {
	if err := sp.CopyOut(vaddr, buf); err != 0 {
		return defs.EFAULT
	}
	return 0
}

/// copy_string_in reads a NUL-terminated string out of user address
/// space one byte at a time, refusing to read past maxlen
/// bytes without finding a terminator (ENAMETOOLONG) the way a real
/// kernel bounds a user-supplied path or argv string.
func copy_string_in(sp *vm.Space, vaddr uintptr, maxlen int) (string, defs.Err_t) {
	if maxlen <= 0 || maxlen > maxCopyStringLen {
		maxlen = maxCopyStringLen
	}
	buf := make([]byte, 0, 64)
	var b [1]byte
	for len(buf) < maxlen {
		if err := sp.CopyIn(vaddr+uintptr(len(buf)), b[:]); err != 0 {
			return "", defs.EFAULT
		}
		if b[0] == 0 {
			return string(buf), 0
		}
		buf = append(buf, b[0])
	}
	return "", defs.ENAMETOOLONG
}
