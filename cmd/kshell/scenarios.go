// Scenarios S1-S6 drive the booted Env through the observable behaviors
// the kernel core stack is expected to show, in the spirit of biscuit's
// own bin/shell (src/user/shell -- a minimal in-kernel program driving
// the syscall surface by hand) and the direct Spawn/channel/time.Sleep
// synchronization idiom ksync's own tests use (ksync/lock_test.go's
// TestPriorityDonationChain) to observe scheduler state from outside.
package main

import (
	"fmt"
	"sync"
	"time"

	"maverickos/bcache"
	"maverickos/defs"
	"maverickos/dir"
	"maverickos/fd"
	"maverickos/inode"
	"maverickos/ksync"
	"maverickos/mem"
	"maverickos/proc"
	"maverickos/sched"
	"maverickos/vfs"
	"maverickos/vm"
	"maverickos/wal"
)

// mmapUserHint is where scenarioMmapOverwrite asks vm.Space.FindFreeRange
// to start looking, matching scall's own mmapHint (scall/dispatch.go) --
// there is no reason for these to diverge, but scall's constant is
// unexported and this scenario needs its own copy.
const mmapUserHint = 0x10000000

// scenario runs one named scenario against env and returns its observed
// output as a slice of lines, one per reported event, in the order
// reported.
type scenario func(env *Env) ([]string, error)

var scenarios = map[string]scenario{
	"s1": scenarioDonation,
	"s2": scenarioAlarmFairness,
	"s3": scenarioForkWait,
	"s4": scenarioCrashMidRename,
	"s5": scenarioMmapOverwrite,
	"s6": scenarioStackGrowth,
}

func waitUntil(deadline time.Duration, cond func() bool) bool {
	end := time.Now().Add(deadline)
	for !cond() && time.Now().Before(end) {
		time.Sleep(time.Millisecond)
	}
	return cond()
}

// scenarioDonation reproduces a single-lock priority donation: L (prio
// 20) holds lock A; H (prio 40) blocks acquiring it; L's effective
// priority rises to 40 for as long as it holds A; after L releases, H
// acquires A. Grounded directly on ksync/lock_test.go's
// TestPriorityDonationChain.
func scenarioDonation(env *Env) ([]string, error) {
	var mu sync.Mutex
	var lines []string
	report := func(s string) {
		mu.Lock()
		lines = append(lines, s)
		mu.Unlock()
	}

	lockA := ksync.NewLock(env.s)
	lHasLock := make(chan struct{})
	releaseL := make(chan struct{})
	lDone := make(chan struct{})
	hAcquired := make(chan struct{})

	l := env.s.Spawn("L", 20, nil, func(self *sched.Thread) {
		lockA.Acquire(self)
		close(lHasLock)
		<-releaseL
		lockA.Release(self)
		close(lDone)
	})
	<-lHasLock
	report(fmt.Sprintf("L acquired A, eff priority %d", l.EffPriority()))

	hBlocked := make(chan struct{})
	env.s.Spawn("H", 40, nil, func(self *sched.Thread) {
		close(hBlocked)
		lockA.Acquire(self)
		close(hAcquired)
		lockA.Release(self)
	})
	<-hBlocked

	if !waitUntil(time.Second, func() bool { return l.EffPriority() == 40 }) {
		return lines, fmt.Errorf("scenario S1: L's effective priority never rose to 40, got %d", l.EffPriority())
	}
	report(fmt.Sprintf("H blocked on A, L donated to eff priority %d", l.EffPriority()))

	close(releaseL)
	<-lDone
	select {
	case <-hAcquired:
		report("H acquired A after L released it")
	case <-time.After(time.Second):
		return lines, fmt.Errorf("scenario S1: H never acquired A after L released it")
	}
	return lines, nil
}

// scenarioAlarmFairness exercises timer_sleep fairness directly against
// the kernel's sleep queue: 10 threads call sched.Scheduler.SleepTicks
// with deadlines d_i = (i+1)*10 ticks apart, a driver goroutine stands
// in for the timer interrupt source by calling env.s.Timer.Tick
// repeatedly, and the threads must wake in ascending deadline order
// (spec.md §4.A responsibility (i): "timer ticks drive the sleep queue
// -- wake threads whose deadline has passed").
func scenarioAlarmFairness(env *Env) ([]string, error) {
	const n = 10
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		deadline := uint64(i+1) * 10
		env.s.Spawn(fmt.Sprintf("sleeper-%d", i), sched.PriDefault, nil, func(self *sched.Thread) {
			env.s.SleepTicks(self, deadline)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	const maxTicks = n*10 + 50
	awake := false
	for i := 0; i < maxTicks && !awake; i++ {
		env.s.Timer.Tick()
		select {
		case <-done:
			awake = true
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if !awake {
		return nil, fmt.Errorf("scenario S2: not all sleepers woke within %d simulated ticks", maxTicks)
	}

	lines := make([]string, 0, n)
	for pos, i := range order {
		lines = append(lines, fmt.Sprintf("thread %d woke (rank %d, deadline %d ticks)", i, pos, (i+1)*10))
		if i != pos {
			return lines, fmt.Errorf("scenario S2: wakeup order not ascending by deadline: got thread %d at rank %d", i, pos)
		}
	}
	return lines, nil
}

// scenarioForkWait forks a child that prints "child: 5" and exits(5);
// the parent waits and must observe exit code 5, printing "parent got
// 5" strictly after the child's line. Grounded on
// proc/proc_test.go's TestForkWaitReturnsChildExitCode.
func scenarioForkWait(env *Env) ([]string, error) {
	var mu sync.Mutex
	var lines []string
	report := func(s string) {
		mu.Lock()
		lines = append(lines, s)
		mu.Unlock()
	}

	var childPid defs.Pid_t
	env.run(func(self *sched.Thread) {
		child, err := env.disp.Fork(env.init, func(self *sched.Thread, p *proc.Proc_t, argv []string) {
			report("child: 5")
			proc.Exit(self, env.tbl, p, 5)
		}, nil)
		if err != 0 {
			panic(fmt.Sprintf("scenario S3: fork failed: errno %d", err))
		}
		childPid = child.Pid
	})

	var code int
	env.run(func(self *sched.Thread) {
		var err defs.Err_t
		code, err = proc.Wait(self, env.init, childPid)
		if err != 0 {
			panic(fmt.Sprintf("scenario S3: wait failed: errno %d", err))
		}
	})
	if code != 5 {
		return lines, fmt.Errorf("scenario S3: expected exit code 5, got %d", code)
	}
	report(fmt.Sprintf("parent got %d", code))
	return lines, nil
}

// scenarioCrashMidRename creates a (create a, write 4KB, rename a->b)
// transaction, simulates a crash between log commit and home-sector
// writeback by reopening a fresh cache+log over the same backing
// region -- the exact technique wal/wal_test.go's
// TestCommittedTxnSurvivesSimulatedCrash uses -- then verifies open("b")
// recovers the content and open("a") is gone.
//
// vfs.Fs has no rename operation, so the rename here is composed
// directly from dir.Dir.Insert/Remove against the root directory inode
// within one transaction, the same way vfs.Fs.Remove itself composes
// an unlink from multiple inode-store calls under one txid.
func scenarioCrashMidRename(env *Env) ([]string, error) {
	var lines []string
	const payloadByte = 'A'
	const payloadLen = 4096

	var fileInum inode.Inum
	var txErr error
	env.run(func(self *sched.Thread) {
		f, err := env.fs.Open(self, mustCwd(self, env), "a", defs.O_CREAT|defs.O_RDWR)
		if err != 0 {
			txErr = fmt.Errorf("create a: errno %d", err)
			return
		}
		defer env.fs.Close(self, f)
		fileInum = env.fs.Inumber(f)

		buf := make([]byte, payloadLen)
		for i := range buf {
			buf[i] = payloadByte
		}
		if _, err := env.fs.Write(self, f, buf); err != 0 {
			txErr = fmt.Errorf("write a: errno %d", err)
			return
		}
	})
	if txErr != nil {
		return lines, txErr
	}
	lines = append(lines, "created a, wrote 4096 bytes of 'A'")

	env.run(func(self *sched.Thread) {
		rootIno, err := env.store.Get(inode.Inum(1))
		if err != 0 {
			txErr = fmt.Errorf("get root inode: errno %d", err)
			return
		}
		defer rootIno.Put(self)
		rd := &dir.Dir{Ino: rootIno}

		txid, err := env.log.Begin()
		if err != 0 {
			txErr = fmt.Errorf("begin rename transaction: errno %d", err)
			return
		}
		if err := rd.Remove(self, txid, "a"); err != 0 {
			txErr = fmt.Errorf("remove a: errno %d", err)
			return
		}
		if err := rd.Insert(self, txid, "b", fileInum); err != 0 {
			txErr = fmt.Errorf("insert b: errno %d", err)
			return
		}
		if err := env.log.Commit(txid); err != 0 {
			txErr = fmt.Errorf("commit rename transaction: errno %d", err)
			return
		}
	})
	if txErr != nil {
		return lines, txErr
	}
	lines = append(lines, "committed rename a->b (simulating crash before home writeback)")

	// Simulate the crash: drop the live cache without flushing it to the
	// backing region, then reopen a fresh cache+log over the same
	// region. wal.Open's recovery replays the committed rename. This is
	// the exact technique wal/wal_test.go's
	// TestCommittedTxnSurvivesSimulatedCrash uses.
	env.cache.Stop()
	newCache := bcache.New(env.s, env.fsRegion, 256, time.Hour, 0)
	newLog, rerr := wal.Open(env.walRegion, newCache, 0)
	if rerr != 0 {
		return lines, fmt.Errorf("scenario S4: reopen write-ahead log: errno %d", rerr)
	}
	newStore := inode.NewStore(env.s, env.fsRegion, newCache, newLog, envInodeBlocks*inode.InodesPerBlock, envDatablocks, 1, 1+envInodeBlocks)
	newStore.MarkInodeUsed(0)
	env.cache = newCache
	env.log = newLog
	env.store = newStore
	env.fs = vfs.New(newStore, newLog, inode.Inum(1))
	lines = append(lines, "reopened cache and write-ahead log over same backing region")

	var bContent []byte
	var aGone bool
	env.run(func(self *sched.Thread) {
		cwd, err := env.fs.RootCwd(self)
		if err != 0 {
			txErr = fmt.Errorf("root cwd: errno %d", err)
			return
		}
		if _, err := env.fs.Open(self, cwd, "a", defs.O_RDONLY); err != 0 {
			aGone = true
		}
		fb, err := env.fs.Open(self, cwd, "b", defs.O_RDONLY)
		if err != 0 {
			txErr = fmt.Errorf("open b after recovery: errno %d", err)
			return
		}
		defer env.fs.Close(self, fb)
		buf := make([]byte, payloadLen)
		n, err := env.fs.Read(self, fb, buf)
		if err != 0 {
			txErr = fmt.Errorf("read b after recovery: errno %d", err)
			return
		}
		bContent = buf[:n]
	})
	if txErr != nil {
		return lines, txErr
	}
	if !aGone {
		return lines, fmt.Errorf("scenario S4: open(\"a\") unexpectedly succeeded after recovery")
	}
	if len(bContent) != payloadLen {
		return lines, fmt.Errorf("scenario S4: recovered b has %d bytes, want %d", len(bContent), payloadLen)
	}
	for _, c := range bContent {
		if c != payloadByte {
			return lines, fmt.Errorf("scenario S4: recovered b content corrupted")
		}
	}
	lines = append(lines, "open(\"b\") recovered 4096 bytes of 'A', open(\"a\") failed as expected")
	return lines, nil
}

// mustCwd fetches the root cwd or panics -- only used inside scenario
// bodies, which already run on a scheduler thread with a live fs.
func mustCwd(self *sched.Thread, env *Env) *fd.Cwd_t {
	cwd, err := env.fs.RootCwd(self)
	if err != 0 {
		panic(fmt.Sprintf("root cwd: errno %d", err))
	}
	return cwd
}

// scenarioMmapOverwrite creates an 8192-byte zero file, mmaps it,
// writes 'X' at byte 100 through the mapping, unmaps, closes, reopens,
// and reads 200 bytes back: bytes [0,99] and [101,199] must still read
// zero and byte 100 must read 'X'. Exercises vm.Space.Mmap/Munmap and
// vfs.Fs.Read/Write end to end.
func scenarioMmapOverwrite(env *Env) ([]string, error) {
	var lines []string
	const fileLen = 8192
	const readLen = 200
	const writeOff = 100

	var runErr error
	env.run(func(self *sched.Thread) {
		cwd, err := env.fs.RootCwd(self)
		if err != 0 {
			runErr = fmt.Errorf("root cwd: errno %d", err)
			return
		}
		f, err := env.fs.Open(self, cwd, "mapped", defs.O_CREAT|defs.O_RDWR)
		if err != 0 {
			runErr = fmt.Errorf("create mapped: errno %d", err)
			return
		}
		zeros := make([]byte, fileLen)
		if _, err := env.fs.Write(self, f, zeros); err != 0 {
			env.fs.Close(self, f)
			runErr = fmt.Errorf("zero-fill mapped: errno %d", err)
			return
		}

		base, ok := env.init.Sp.FindFreeRange(mmapUserHint, proc.UserStackTop-uintptr(proc.UserStackMaxPages*mem.PGSIZE), fileLen)
		if !ok {
			env.fs.Close(self, f)
			runErr = fmt.Errorf("no free range for mmap")
			return
		}
		env.init.Sp.Mmap(base, fileLen, vm.PermRead|vm.PermWrite, true, f.Ino, 0)

		if err := env.init.Sp.Fault(base+writeOff, true); err != 0 {
			runErr = fmt.Errorf("fault in mapped page: errno %d", err)
			return
		}
		if err := env.init.Sp.CopyOut(base+writeOff, []byte{'X'}); err != 0 {
			runErr = fmt.Errorf("write through mapping: errno %d", err)
			return
		}
		if !env.init.Sp.Munmap(base) {
			runErr = fmt.Errorf("munmap failed")
			return
		}
		env.fs.Close(self, f)
	})
	if runErr != nil {
		return lines, runErr
	}
	lines = append(lines, "wrote 'X' at offset 100 through an 8192-byte mapping, then unmapped")

	var content []byte
	env.run(func(self *sched.Thread) {
		cwd, err := env.fs.RootCwd(self)
		if err != 0 {
			runErr = fmt.Errorf("root cwd: errno %d", err)
			return
		}
		f, err := env.fs.Open(self, cwd, "mapped", defs.O_RDONLY)
		if err != 0 {
			runErr = fmt.Errorf("reopen mapped: errno %d", err)
			return
		}
		defer env.fs.Close(self, f)
		buf := make([]byte, readLen)
		n, err := env.fs.Read(self, f, buf)
		if err != 0 {
			runErr = fmt.Errorf("read mapped: errno %d", err)
			return
		}
		content = buf[:n]
	})
	if runErr != nil {
		return lines, runErr
	}
	if len(content) != readLen {
		return lines, fmt.Errorf("scenario S5: read %d bytes, want %d", len(content), readLen)
	}
	for i, b := range content {
		want := byte(0)
		if i == writeOff {
			want = 'X'
		}
		if b != want {
			return lines, fmt.Errorf("scenario S5: byte %d is %q, want %q", i, b, want)
		}
	}
	lines = append(lines, "reopened file on disk: byte 100 is 'X', all other bytes in [0,199] are zero")
	return lines, nil
}

// scenarioStackGrowth demonstrates 2000 frames of recursion succeeding
// (the pre-installed 8MiB stack region services it through ordinary
// lazy frame population) and a write 1MiB below the region's lower
// bound faulting. There is no incremental stack-growth/guard-distance
// model in vm.Space.Fault -- proc/stack.go installs the entire 8MiB
// region eagerly for every exec'd address space, so "grow on demand
// near ESP" and "kill on a wild write far below ESP" collapse into a
// single pre-mapped-region boundary check here. See DESIGN.md.
func scenarioStackGrowth(env *Env) ([]string, error) {
	var lines []string
	var recurseErr, faultErr error

	env.run(func(self *sched.Thread) {
		var recurse func(depth int) int
		recurse = func(depth int) int {
			if depth <= 0 {
				return 0
			}
			var local [8]byte
			local[0] = byte(depth)
			return int(local[0]) + recurse(depth-1)
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					recurseErr = fmt.Errorf("recursion to depth 2000 panicked: %v", r)
				}
			}()
			recurse(2000)
		}()
	})
	if recurseErr != nil {
		return lines, recurseErr
	}
	lines = append(lines, "2000-frame recursion completed with no fault")

	env.run(func(self *sched.Thread) {
		stackBase := proc.UserStackTop - uintptr(proc.UserStackMaxPages*mem.PGSIZE)
		wild := stackBase - 1<<20
		if err := env.init.Sp.Fault(wild, true); err == 0 {
			faultErr = fmt.Errorf("write 1MiB below the mapped stack region unexpectedly succeeded")
		} else if err != defs.EFAULT {
			faultErr = fmt.Errorf("write below mapped stack region: expected EFAULT, got errno %d", err)
		}
	})
	if faultErr != nil {
		return lines, faultErr
	}
	lines = append(lines, "write 1MiB below the mapped stack region faulted (EFAULT), process would be killed with exit code -1")
	return lines, nil
}
