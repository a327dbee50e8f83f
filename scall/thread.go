package scall

import (
	"maverickos/defs"
	"maverickos/ksync"
	"maverickos/proc"
	"maverickos/sched"
)

// ThreadBody is a new thread's code, the same simulation-boundary
// substitute proc.Program is for a forked process: this environment
// has no machine code to jump a new thread's instruction pointer to,
// so the caller supplies a Go function to run in its place.
type ThreadBody func(self *sched.Thread, p *proc.Proc_t)

/// Fork is the fork syscall's real entry point: SysFork in the generic
/// Dispatch switch always returns ENOSYS because a syscall trap carries
/// no slot for "the child's first instructions" -- callers that need
/// fork call this method directly with the Program the child should run,
/// exactly as proc.Fork itself requires.
func (d *Dispatcher) Fork(p *proc.Proc_t, entry proc.Program, argv []string) (*proc.Proc_t, defs.Err_t) {
	return proc.Fork(d.tbl, p, entry, argv)
}

/// Exec is the exec syscall's real entry point, for the same reason
/// Fork has one: the loaded binary's code has to come from somewhere,
/// and here that's a caller-supplied Program rather than a jump to an
/// ELF entry point.
func (d *Dispatcher) Exec(self *sched.Thread, p *proc.Proc_t, path string, argv []string, entry proc.Program) defs.Err_t {
	return proc.Exec(self, d.tbl, p, path, argv, entry)
}

/// PtCreate spawns a new thread inside p's existing address space and
/// fd table (pthread_create, not fork: no address-space or fd-table
/// copy). Registers a join semaphore other threads can block on via
/// pt_join before body even starts running, since the Sema begins at 0
/// and pt_exit's Up doesn't require pt_join to already be waiting.
func (d *Dispatcher) PtCreate(p *proc.Proc_t, body ThreadBody) defs.Tid_t {
	h := d.handlesFor(p)
	s := ksync.NewSema(d.tbl.Scheduler(), 0)

	var tid defs.Tid_t
	started := make(chan struct{})
	t := d.tbl.Scheduler().Spawn("pthread", sched.PriDefault, p, func(self *sched.Thread) {
		<-started
		p.AddThread(self)
		body(self, p)
	})
	tid = t.Id
	h.registerJoin(tid, s)
	close(started)
	return tid
}
