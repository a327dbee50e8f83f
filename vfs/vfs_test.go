package vfs

import (
	"testing"
	"time"

	"maverickos/bcache"
	"maverickos/blockdev"
	"maverickos/defs"
	"maverickos/dir"
	"maverickos/inode"
	"maverickos/sched"
	"maverickos/upath"
	"maverickos/wal"
)

func mkTestFs(t *testing.T) (*Fs, *sched.Scheduler) {
	s := sched.New(sched.ModePriority)
	disk := blockdev.NewMemDisk(4000)
	fsRegion := blockdev.NewRoleDisk(disk, 0, 3000)
	walRegion := blockdev.NewRoleDisk(disk, 3000, 1000)

	cache := bcache.New(s, fsRegion, 64, time.Hour, 0)
	log, err := wal.Open(walRegion, cache, 0)
	if err != 0 {
		t.Fatalf("wal open: %d", err)
	}

	const inodeBase = 1
	const ninodeBlocks = 4
	const dataBase = inodeBase + ninodeBlocks
	const ninodes = ninodeBlocks * inode.InodesPerBlock
	const ndatablocks = 2000

	store := inode.NewStore(s, fsRegion, cache, log, ninodes, ndatablocks, inodeBase, dataBase)
	store.MarkInodeUsed(0)

	var fs *Fs
	done := make(chan struct{})
	s.Spawn("setup", 20, nil, func(self *sched.Thread) {
		txid, _ := log.Begin()
		rootInum, err := store.AllocInode(txid)
		if err != 0 {
			t.Errorf("alloc root: %d", err)
			close(done)
			return
		}
		rootIno, err := store.Get(rootInum)
		if err != 0 {
			t.Errorf("get root: %d", err)
			close(done)
			return
		}
		rootIno.SetMeta(txid, inode.TypeDir, 2)
		rd := &dir.Dir{Ino: rootIno}
		rd.Insert(self, txid, upath.Dot, rootInum)
		rd.Insert(self, txid, upath.DotDot, rootInum)
		rootIno.Put(self)
		log.Commit(txid)
		fs = New(store, log, rootInum)
		close(done)
	})
	<-done
	return fs, s
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs, s := mkTestFs(t)
	var th *sched.Thread
	done := make(chan struct{})
	s.Spawn("t", 20, nil, func(self *sched.Thread) {
		th = self
		cwd, err := fs.RootCwd(self)
		if err != 0 {
			t.Errorf("rootcwd: %d", err)
			close(done)
			return
		}
		f, err := fs.Open(self, cwd, upath.Path("/hello.txt"), 0x40 /* O_CREAT */)
		if err != 0 {
			t.Errorf("open create: %d", err)
			close(done)
			return
		}
		n, err := fs.Write(self, f, []byte("hello world"))
		if err != 0 || n != 11 {
			t.Errorf("write: n=%d err=%d", n, err)
		}
		fs.Close(self, f)

		f2, err := fs.Open(self, cwd, upath.Path("/hello.txt"), 0)
		if err != 0 {
			t.Errorf("open read: %d", err)
			close(done)
			return
		}
		buf := make([]byte, 11)
		n2, err := fs.Read(self, f2, buf)
		if err != 0 || n2 != 11 || string(buf) != "hello world" {
			t.Errorf("read: %q n=%d err=%d", buf, n2, err)
		}
		fs.Close(self, f2)
		close(done)
	})
	<-done
	_ = th
}

func TestMkdirAndRemoveEmptyOnly(t *testing.T) {
	fs, s := mkTestFs(t)
	done := make(chan struct{})
	s.Spawn("t", 20, nil, func(self *sched.Thread) {
		cwd, _ := fs.RootCwd(self)
		if err := fs.Mkdir(self, cwd, upath.Path("/sub")); err != 0 {
			t.Errorf("mkdir: %d", err)
		}
		subCwd, err := fs.Chdir(self, cwd, upath.Path("/sub"))
		if err != 0 {
			t.Errorf("chdir: %d", err)
		}
		f, err := fs.Open(self, subCwd, upath.Path("/sub/file"), 0x40)
		if err != 0 {
			t.Errorf("open: %d", err)
		}
		fs.Close(self, f)

		if err := fs.Remove(self, cwd, upath.Path("/sub"), true); err != defs.ENOTEMPTY {
			t.Errorf("expected ENOTEMPTY removing non-empty dir, got %d", err)
		}
		if err := fs.Remove(self, subCwd, upath.Path("/sub/file"), false); err != 0 {
			t.Errorf("remove file: %d", err)
		}
		if err := fs.Remove(self, cwd, upath.Path("/sub"), true); err != 0 {
			t.Errorf("remove now-empty dir: %d", err)
		}
		close(done)
	})
	<-done
}
