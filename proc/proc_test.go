package proc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
	"time"

	"maverickos/bcache"
	"maverickos/blockdev"
	"maverickos/defs"
	"maverickos/dir"
	"maverickos/frame"
	"maverickos/inode"
	"maverickos/mem"
	"maverickos/sched"
	"maverickos/swap"
	"maverickos/upath"
	"maverickos/vfs"
	"maverickos/vm"
	"maverickos/wal"
)

type testEnv struct {
	fs  *vfs.Fs
	s   *sched.Scheduler
	tbl *Table
}

func mkTestEnv(t *testing.T) *testEnv {
	s := sched.New(sched.ModePriority)
	disk := blockdev.NewMemDisk(6000)
	fsRegion := blockdev.NewRoleDisk(disk, 0, 4000)
	walRegion := blockdev.NewRoleDisk(disk, 4000, 1000)
	swapRegion := blockdev.NewRoleDisk(disk, 5000, 1000)

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

	var fs *vfs.Fs
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
		fs = vfs.New(store, log, rootInum)
		close(done)
	})
	<-done

	phys := mem.NewPhysmem(256)
	frames := frame.NewTable(phys)
	swapdev := swap.NewDevice(swapRegion, 32)
	sTbl := NewTable(s, phys, frames, swapdev, log)
	return &testEnv{fs: fs, s: s, tbl: sTbl}
}

func (e *testEnv) run(body func(self *sched.Thread)) {
	done := make(chan struct{})
	e.s.Spawn("t", sched.PriDefault, nil, func(self *sched.Thread) {
		body(self)
		close(done)
	})
	<-done
}

func mkInitProc(t *testing.T, e *testEnv) *Proc_t {
	var p *Proc_t
	e.run(func(self *sched.Thread) {
		sp := vm.NewSpace(e.tbl.phys, e.tbl.frames, e.tbl.swapdev, e.tbl.log)
		var err defs.Err_t
		p, err = e.tbl.NewInitProc(self, e.fs, sp, 16)
		if err != 0 {
			t.Fatalf("NewInitProc: %d", err)
		}
	})
	return p
}

func TestForkWaitReturnsChildExitCode(t *testing.T) {
	e := mkTestEnv(t)
	parent := mkInitProc(t, e)

	var childPid defs.Pid_t
	e.run(func(self *sched.Thread) {
		child, err := Fork(e.tbl, parent, func(self *sched.Thread, p *Proc_t, argv []string) {
			Exit(self, e.tbl, p, 42)
		}, nil)
		if err != 0 {
			t.Fatalf("fork: %d", err)
		}
		childPid = child.Pid
	})

	e.run(func(self *sched.Thread) {
		code, err := Wait(self, parent, childPid)
		if err != 0 {
			t.Fatalf("wait: %d", err)
		}
		if code != 42 {
			t.Fatalf("expected exit code 42, got %d", code)
		}
	})
}

func TestWaitOnUnknownPidIsECHILD(t *testing.T) {
	e := mkTestEnv(t)
	parent := mkInitProc(t, e)
	e.run(func(self *sched.Thread) {
		if _, err := Wait(self, parent, 9999); err != defs.ECHILD {
			t.Fatalf("expected ECHILD, got %d", err)
		}
	})
}

func TestSecondWaitOnSameChildIsECHILD(t *testing.T) {
	e := mkTestEnv(t)
	parent := mkInitProc(t, e)

	var childPid defs.Pid_t
	e.run(func(self *sched.Thread) {
		child, _ := Fork(e.tbl, parent, func(self *sched.Thread, p *Proc_t, argv []string) {
			Exit(self, e.tbl, p, 0)
		}, nil)
		childPid = child.Pid
	})
	e.run(func(self *sched.Thread) {
		if _, err := Wait(self, parent, childPid); err != 0 {
			t.Fatalf("first wait: %d", err)
		}
	})
	e.run(func(self *sched.Thread) {
		if _, err := Wait(self, parent, childPid); err != defs.ECHILD {
			t.Fatalf("expected ECHILD on second wait, got %d", err)
		}
	})
}

func TestForkedChildSeesDuplicatedAnonPage(t *testing.T) {
	e := mkTestEnv(t)
	parent := mkInitProc(t, e)

	const va = uintptr(0x10000)
	e.run(func(self *sched.Thread) {
		parent.Sp.AddRegion(&vm.Region{Start: va, End: va + uintptr(mem.PGSIZE), Perm: vm.PermRead | vm.PermWrite, Kind: vm.KindAnon})
		if err := parent.Sp.Fault(va, true); err != 0 {
			t.Fatalf("fault: %d", err)
		}
		pa, _ := parent.Sp.Translate(va, true)
		pg := e.tbl.phys.Dmap(pa)
		pg[0] = 0xCD
	})

	seen := make(chan byte, 1)
	e.run(func(self *sched.Thread) {
		child, _ := Fork(e.tbl, parent, func(self *sched.Thread, p *Proc_t, argv []string) {
			pa, _ := p.Sp.Translate(va, false)
			pg := e.tbl.phys.Dmap(pa)
			seen <- pg[0]
			Exit(self, e.tbl, p, 0)
		}, nil)
		_, _ = Wait(self, parent, child.Pid)
	})
	if got := <-seen; got != 0xCD {
		t.Fatalf("expected duplicated byte 0xCD, got %#x", got)
	}
}

// buildTestElf assembles a minimal valid ET_EXEC/EM_X86_64 binary with one
// PT_LOAD segment: the bytes in data are loaded at vaddr, with an extra
// bssPages worth of zero-filled memory past the end of the file contents.
func buildTestElf(vaddr uint64, data []byte, bssPages int, entry uint64) []byte {
	var buf bytes.Buffer

	const ehsize = 64
	const phentsize = 56

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   1,
		Entry:     entry,
		Phoff:     ehsize,
		Shoff:     0,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     1,
	}
	hdr.Ident[0] = 0x7f
	hdr.Ident[1] = 'E'
	hdr.Ident[2] = 'L'
	hdr.Ident[3] = 'F'
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(&buf, binary.LittleEndian, &hdr)

	fileOff := uint64(ehsize + phentsize)
	ph := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    fileOff,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(len(data)),
		Memsz:  uint64(len(data) + bssPages*mem.PGSIZE),
		Align:  uint64(mem.PGSIZE),
	}
	binary.Write(&buf, binary.LittleEndian, &ph)
	buf.Write(data)
	return buf.Bytes()
}

func TestExecLoadsElfInstallsRegionsAndRunsProgram(t *testing.T) {
	e := mkTestEnv(t)
	parent := mkInitProc(t, e)

	const vaddr = 0x400000
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	image := buildTestElf(vaddr, payload, 1, vaddr+0x10)

	e.run(func(self *sched.Thread) {
		f, err := e.fs.Open(self, parent.Cwd, upath.Path("/prog"), defs.O_CREAT|defs.O_RDWR)
		if err != 0 {
			t.Fatalf("open for write: %d", err)
		}
		if _, err := e.fs.Write(self, f, image); err != 0 {
			t.Fatalf("write elf image: %d", err)
		}
		e.fs.Close(self, f)
	})

	ran := make(chan []string, 1)
	e.run(func(self *sched.Thread) {
		err := Exec(self, e.tbl, parent, "/prog", []string{"prog", "arg1"}, func(self *sched.Thread, p *Proc_t, argv []string) {
			ran <- argv
		})
		if err != 0 {
			t.Fatalf("exec: %d", err)
		}
	})

	got := <-ran
	if len(got) != 2 || got[0] != "prog" || got[1] != "arg1" {
		t.Fatalf("unexpected argv passed to program: %v", got)
	}

	e.run(func(self *sched.Thread) {
		var buf [4]byte
		if err := parent.Sp.CopyIn(vaddr, buf[:]); err != 0 {
			t.Fatalf("copy in loaded text: %d", err)
		}
		if !bytes.Equal(buf[:], payload) {
			t.Fatalf("loaded segment mismatch: got %x want %x", buf, payload)
		}

		// BSS tail past the file-backed extent should read as zero.
		bssVa := (vaddr + uintptr(len(payload)) + uintptr(mem.PGSIZE) - 1) &^ uintptr(mem.PGSIZE-1)
		var zero [8]byte
		if err := parent.Sp.CopyIn(bssVa, zero[:]); err != 0 {
			t.Fatalf("copy in bss: %d", err)
		}
		for _, b := range zero {
			if b != 0 {
				t.Fatalf("expected zero-filled bss, got %x", zero)
			}
		}
	})
}

func TestExecRejectsNonElfFile(t *testing.T) {
	e := mkTestEnv(t)
	parent := mkInitProc(t, e)

	e.run(func(self *sched.Thread) {
		f, err := e.fs.Open(self, parent.Cwd, upath.Path("/notelf"), defs.O_CREAT|defs.O_RDWR)
		if err != 0 {
			t.Fatalf("open for write: %d", err)
		}
		e.fs.Write(self, f, []byte("not an elf file"))
		e.fs.Close(self, f)
	})

	e.run(func(self *sched.Thread) {
		err := Exec(self, e.tbl, parent, "/notelf", nil, func(self *sched.Thread, p *Proc_t, argv []string) {
			t.Fatalf("program should not have run against a malformed ELF")
		})
		if err != defs.EINVAL {
			t.Fatalf("expected EINVAL, got %d", err)
		}
	})
}
