// Package scall implements the syscall dispatch layer (component S):
// the fixed, stable call-number table and the safe user-pointer copy
// helpers every handler that touches a buffer or string argument routes
// through. Grounded on biscuit's syscall.go dispatch switch and its
// Userdmap8_inner-backed copy-in/copy-out helpers, adapted to this
// module's vm.Space.CopyIn/CopyOut rather than a raw page-table walk.
//
// This environment has no trap frame: a real kernel reads a syscall's
// arguments off the interrupted user stack or register file, using
// copy_u32 to fetch each 32-bit argument word one at a time. Nothing
// here simulates a trap frame, so Dispatch takes its three argument
// slots directly rather than sourcing them through copy_u32 itself.
// A handler whose argument IS a user-space pointer (a buffer or string
// argument) goes through copy_buf_in/copy_buf_out/copy_string_in, the
// case those helpers exist to guard in the teacher's own dispatch loop;
// copy_u32 is defined alongside them but no handler calls it.
package scall

// Call numbers. Fixed and stable: once assigned, a number is never
// reused, matching spec.md's 4.S requirement that the dispatch table be
// a stable mapping from call number to handler.
const (
	SysHalt = iota
	SysExit
	SysExec
	SysWait
	SysFork
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
	SysPractice
	SysComputeE
	SysPtCreate
	SysPtExit
	SysPtJoin
	SysLockInit
	SysLockAcquire
	SysLockRelease
	SysSemaInit
	SysSemaDown
	SysSemaUp
	SysGetTid
	SysMkdir
	SysChdir
	SysReaddir
	SysIsdir
	SysInumber
	SysSymlink
	SysReadlink
	SysMmap
	SysMunmap
	SysTimerSleep
	SysGetrusage
)

/// Args is a syscall's raw argument slots. On real hardware these would
/// be read off the trapped user stack; here the caller (a Program
/// callback standing in for user code, per proc's simulation boundary)
/// supplies them directly. Each handler interprets only as many slots as
/// its arity needs; a pointer-valued slot is validated via copy_buf_in/
/// copy_buf_out/copy_string_in before being dereferenced.
type Args [3]uintptr
