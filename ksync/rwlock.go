package ksync

import "maverickos/sched"

/// RWLock is a writer-preferring reader/writer lock (spec.md §4.F /
/// component H's buffer-cache entries need exactly this: many
/// concurrent readers of a cached block, exclusive access for the
/// thread writing it back or evicting it). Writer-preferring means once
/// a writer is waiting, new readers queue behind it rather than
/// starving it indefinitely -- grounded on the same shape as biscuit's
/// fs icache per-inode lock usage (src/fs/fs.go), rebuilt here on top of
/// this package's own Lock+CondVar rather than the host sync.RWMutex so
/// it participates in the same donation/scheduler discipline as every
/// other primitive in this module.
type RWLock struct {
	mu          *Lock
	readersGone *CondVar
	writerGone  *CondVar
	readers     int
	writer      bool
	waitingWr   int
}

/// NewRWLock creates an unheld reader/writer lock scheduled via s.
func NewRWLock(s *sched.Scheduler) *RWLock {
	return &RWLock{
		mu:          NewLock(s),
		readersGone: NewCondVar(s),
		writerGone:  NewCondVar(s),
	}
}

/// RLock acquires a shared (read) hold. Blocks while a writer holds the
/// lock or one is waiting (writer preference).
func (l *RWLock) RLock(t *sched.Thread) {
	l.mu.Acquire(t)
	for l.writer || l.waitingWr > 0 {
		l.writerGone.Wait(t, l.mu)
	}
	l.readers++
	l.mu.Release(t)
}

/// RUnlock releases a shared hold.
func (l *RWLock) RUnlock(t *sched.Thread) {
	l.mu.Acquire(t)
	l.readers--
	if l.readers == 0 {
		l.readersGone.Broadcast(t, l.mu)
	}
	l.mu.Release(t)
}

/// Lock acquires an exclusive (write) hold, blocking new readers as soon
/// as it starts waiting.
func (l *RWLock) Lock(t *sched.Thread) {
	l.mu.Acquire(t)
	l.waitingWr++
	for l.writer || l.readers > 0 {
		l.readersGone.Wait(t, l.mu)
	}
	l.waitingWr--
	l.writer = true
	l.mu.Release(t)
}

/// Unlock releases an exclusive hold.
func (l *RWLock) Unlock(t *sched.Thread) {
	l.mu.Acquire(t)
	l.writer = false
	l.writerGone.Broadcast(t, l.mu)
	l.readersGone.Broadcast(t, l.mu)
	l.mu.Release(t)
}
