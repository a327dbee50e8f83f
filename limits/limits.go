// Package limits tracks system-wide resource limits so proc/vfs/inode/
// swap can refuse an operation (ENOMEM/EMFILE/ENOSPC/EAGAIN-shaped
// failures) instead of letting a runaway process exhaust a shared
// table. Grounded directly on biscuit's limits package
// (limits/limits.go): Sysatomic_t's atomic-CAS-free give/take-back
// pattern and the Syslimit_t field set, trimmed to the resources this
// rewrite actually models (processes, vnodes, data blocks, open files
// system-wide, swap slots) since networking (Arpents/Routes/Tcpsegs/
// Socks) and a pipe subsystem are out of spec.md's scope. Sysprocs
// alone stays a plain int rather than a Sysatomic_t: proc.Table already
// serializes process creation/exit under its own mutex and tracks a
// live count there, so a second atomic counter for the same quantity
// would just be two sources of truth to keep in sync.
package limits

import (
	"sync/atomic"
	"unsafe"
)

/// Sysatomic_t is a numeric limit that can be given back and taken from
/// concurrently without a lock.
type Sysatomic_t int64

func (s *Sysatomic_t) aptr() *int64 { return (*int64)(unsafe.Pointer(s)) }

/// Given increases the limit by n.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(s.aptr(), int64(n))
}

/// Taken tries to decrement the limit by n, returning false (and
/// refunding) if that would drive it negative.
func (s *Sysatomic_t) Taken(n uint) bool {
	if atomic.AddInt64(s.aptr(), -int64(n)) >= 0 {
		return true
	}
	atomic.AddInt64(s.aptr(), int64(n))
	return false
}

/// Take decrements the limit by one.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() { s.Given(1) }

/// Value reads the current count without mutating it.
func (s *Sysatomic_t) Value() int64 { return atomic.LoadInt64(s.aptr()) }

/// Syslimit_t tracks the system-wide resource pools this kernel core
/// enforces: Sysprocs caps live processes (proc.Table), Vnodes caps
/// live on-disk inodes (inode.Store.AllocInode/Put), Blocks caps
/// allocated data blocks (inode.Store.allocBlock/freeBlock), Files caps
/// open file descriptions system-wide (fd.NewFile/File.Release), and
/// Swapslots caps outstanding swap slots (swap.Device.Alloc/Free).
type Syslimit_t struct {
	Sysprocs  int
	Vnodes    Sysatomic_t
	Blocks    Sysatomic_t
	Files     Sysatomic_t
	Swapslots Sysatomic_t
}

/// Syslimit holds the process-wide configured limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a fresh default limit set.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs:  1024,
		Vnodes:    20000,
		Blocks:    100000,
		Files:     4096,
		Swapslots: 4096,
	}
}
