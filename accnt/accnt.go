// Package accnt accumulates per-process CPU accounting so wait4/getrusage
// can report user and system time consumed. Grounded directly on
// biscuit's accnt package (accnt/accnt.go): same Userns/Sysns
// nanosecond counters, same rusage byte-layout encoding via util.Writen.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"maverickos/util"
)

/// Accnt_t accumulates a process's user and system CPU time in
/// nanoseconds. The embedded mutex lets callers take a consistent
/// snapshot when exporting usage statistics.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

/// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

/// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

/// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

/// Io_time removes time spent waiting for I/O, begun at since, from
/// system time.
func (a *Accnt_t) Io_time(since int) {
	a.Systadd(-(a.Now() - since))
}

/// Sleep_time removes time spent blocked, begun at since, from system
/// time.
func (a *Accnt_t) Sleep_time(since int) {
	a.Systadd(-(a.Now() - since))
}

/// Finish adds the time elapsed since inttime to system time, called
/// when a thread returns from the kernel back to user mode.
func (a *Accnt_t) Finish(inttime int) {
	a.Systadd(a.Now() - inttime)
}

/// Add merges n's counters into a (used when a parent collects a
/// reaped child's accounting, spec.md's wait4 rusage requirement).
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	a.Unlock()
}

/// Fetch returns a consistent snapshot encoded as an rusage structure.
func (a *Accnt_t) Fetch() []uint8 {
	a.Lock()
	ru := a.To_rusage()
	a.Unlock()
	return ru
}

/// To_rusage packs Userns/Sysns as the {sec,usec} timeval pairs struct
/// rusage's first two fields hold.
func (a *Accnt_t) To_rusage() []uint8 {
	const words = 4
	ret := make([]uint8, words*8)
	totv := func(nano int64) (int, int) {
		return int(nano / 1e9), int((nano % 1e9) / 1000)
	}
	off := 0
	s, us := totv(a.Userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	s, us = totv(a.Sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	return ret
}
