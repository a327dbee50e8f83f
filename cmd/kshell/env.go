// Command kshell is a tiny boot/shutdown harness that wires the full
// FS+VM+proc stack against a disk image and runs a named scenario,
// grounded on biscuit's ufs.BootFS/ShutdownFS lifecycle (src/ufs/ufs.go):
// BootFS opens the backing disk and starts the file system once;
// ShutdownFS stops it and closes the disk. Env plays the same role here,
// minus the AHCI driver and page-table bring-up biscuit's BootFS also
// does, since this module runs hosted rather than on bare metal.
package main

import (
	"fmt"
	"time"

	"maverickos/bcache"
	"maverickos/blockdev"
	"maverickos/dir"
	"maverickos/frame"
	"maverickos/inode"
	"maverickos/mem"
	"maverickos/proc"
	"maverickos/scall"
	"maverickos/sched"
	"maverickos/swap"
	"maverickos/upath"
	"maverickos/vfs"
	"maverickos/vm"
	"maverickos/wal"
)

const (
	envInodeBlocks = 64
	envDatablocks  = 4000
	envLogblocks   = 512
	envSwapblocks  = 512
	envPhysFrames  = 512
)

// Env is one booted instance of the kernel core stack: scheduler,
// buffer cache, write-ahead log, inode store, file system, process
// table, and syscall dispatcher, all wired over a single backing disk.
type Env struct {
	disk  blockdev.Disk
	s     *sched.Scheduler
	cache *bcache.Cache
	log   *wal.Log
	store *inode.Store
	fs    *vfs.Fs
	tbl   *proc.Table
	disp  *scall.Dispatcher
	init  *proc.Proc_t

	phys    *mem.Physmem_t
	frames  *frame.Table
	swapdev *swap.Device

	// fsRegion/walRegion are kept around so scenarioCrashMidRename can
	// reopen a fresh cache+log over the exact same backing sectors to
	// simulate a crash, the same two regions wal_test.go's
	// TestCommittedTxnSurvivesSimulatedCrash reopens.
	fsRegion  *blockdev.RoleDisk
	walRegion *blockdev.RoleDisk
}

// bootOnDisk formats disk as a brand new file system and boots an Env
// over it, mirroring mkfs/mkfs.go's one-shot formatting model: this
// boot path always formats; it never mounts an existing image (kshell
// only ever runs scenarios against freshly made scratch disks, not a
// disk a separate mkdisk run already populated).
func bootOnDisk(disk blockdev.Disk) (*Env, error) {
	const inodeBase = 1
	const dataBase = inodeBase + envInodeBlocks
	total := disk.Nsectors()
	if total < dataBase+envDatablocks+envLogblocks+envSwapblocks {
		return nil, fmt.Errorf("kshell: disk too small: have %d sectors, need %d", total, dataBase+envDatablocks+envLogblocks+envSwapblocks)
	}

	fsRegion := blockdev.NewRoleDisk(disk, 0, dataBase+envDatablocks)
	walRegion := blockdev.NewRoleDisk(disk, dataBase+envDatablocks, envLogblocks)
	swapRegion := blockdev.NewRoleDisk(disk, dataBase+envDatablocks+envLogblocks, envSwapblocks)

	s := sched.New(sched.ModePriority)
	cache := bcache.New(s, fsRegion, 256, time.Hour, 0)
	log, err := wal.Open(walRegion, cache, 0)
	if err != 0 {
		return nil, fmt.Errorf("kshell: open write-ahead log: errno %d", err)
	}

	store := inode.NewStore(s, fsRegion, cache, log, envInodeBlocks*inode.InodesPerBlock, envDatablocks, inodeBase, dataBase)
	store.MarkInodeUsed(0)

	var fs *vfs.Fs
	var bootErr error
	done := make(chan struct{})
	s.Spawn("boot", sched.PriDefault, nil, func(self *sched.Thread) {
		defer close(done)
		txid, terr := log.Begin()
		if terr != 0 {
			bootErr = fmt.Errorf("begin root transaction: errno %d", terr)
			return
		}
		inum, aerr := store.AllocInode(txid)
		if aerr != 0 {
			bootErr = fmt.Errorf("allocate root inode: errno %d", aerr)
			return
		}
		rootIno, gerr := store.Get(inum)
		if gerr != 0 {
			bootErr = fmt.Errorf("get root inode: errno %d", gerr)
			return
		}
		rootIno.SetMeta(txid, inode.TypeDir, 2)
		rd := &dir.Dir{Ino: rootIno}
		rd.Insert(self, txid, upath.Dot, inum)
		rd.Insert(self, txid, upath.DotDot, inum)
		rootIno.Put(self)
		if cerr := log.Commit(txid); cerr != 0 {
			bootErr = fmt.Errorf("commit root transaction: errno %d", cerr)
			return
		}
		fs = vfs.New(store, log, inum)
	})
	<-done
	if bootErr != nil {
		return nil, bootErr
	}

	phys := mem.NewPhysmem(envPhysFrames)
	frames := frame.NewTable(phys)
	swapdev := swap.NewDevice(swapRegion, envSwapblocks)
	tbl := proc.NewTable(s, phys, frames, swapdev, log)
	disp := scall.NewDispatcher(tbl)

	env := &Env{disk: disk, s: s, cache: cache, log: log, store: store, fs: fs, tbl: tbl, disp: disp,
		phys: phys, frames: frames, swapdev: swapdev, fsRegion: fsRegion, walRegion: walRegion}

	var initErr error
	env.run(func(self *sched.Thread) {
		sp := vm.NewSpace(env.phys, env.frames, env.swapdev, env.log)
		p, perr := tbl.NewInitProc(self, fs, sp, 32)
		if perr != 0 {
			initErr = fmt.Errorf("create init process: errno %d", perr)
			return
		}
		env.init = p
	})
	if initErr != nil {
		return nil, initErr
	}
	return env, nil
}

// shutdown flushes the backing disk, mirroring ufs.ShutdownFS's
// Fs_syncapply-then-close sequence.
func (e *Env) shutdown() error {
	if err := e.disk.Flush(); err != 0 {
		return fmt.Errorf("kshell: flush on shutdown: errno %d", err)
	}
	return nil
}

// run executes body on a freshly spawned thread and blocks until it
// returns, the same pattern every package-level test in this module
// uses to give syscall-layer code a *sched.Thread to run on.
func (e *Env) run(body func(self *sched.Thread)) {
	done := make(chan struct{})
	e.s.Spawn("kshell", sched.PriDefault, nil, func(self *sched.Thread) {
		body(self)
		close(done)
	})
	<-done
}
