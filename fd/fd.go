// Package fd implements the per-process file descriptor table and
// current-working-directory handle. Grounded on biscuit's fd package
// (Cwd_t pairing a directory inode with its path, an Fops_i-style
// per-descriptor operations table) generalized here to hold this
// module's *inode.Inode directly rather than an interface dispatch
// table, since this rewrite has exactly one backing file system, not
// biscuit's pluggable devfs/procfs/pipe/socket fd types.
package fd

import (
	"sync"
	"sync/atomic"

	"maverickos/defs"
	"maverickos/inode"
	"maverickos/limits"
	"maverickos/sched"
	"maverickos/upath"
)

/// Cwd_t is a process's current working directory: an open inode plus
/// the path it was reached by (for getcwd-style introspection).
type Cwd_t struct {
	Ino  *inode.Inode
	Path upath.Path
}

/// File is an open file description: shared between any fd table entries
/// created by dup or fork, tracking its own offset and open flags. refs
/// counts how many fd table slots (across however many processes, since
/// fork's Clone shares the *File itself) currently point at it; the
/// inode reference it holds is only released when the last one is gone.
type File struct {
	mu     sync.Mutex
	Ino    *inode.Inode
	Flags  int
	offset int64
	refs   int32
}

/// NewFile allocates an open file description backed by ino, taking one
/// slot from the system-wide open-file pool (limits.Syslimit.Files) --
/// ENFILE if every slot is already in use by some other open file
/// description, system-wide, regardless of which process or fd table
/// holds it.
func NewFile(ino *inode.Inode, flags int) (*File, defs.Err_t) {
	if !limits.Syslimit.Files.Take() {
		return nil, defs.ENFILE
	}
	return &File{Ino: ino, Flags: flags, refs: 1}, 0
}

func (f *File) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

func (f *File) Seek(off int64, whence int) (int64, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case defs.SEEK_SET:
		base = 0
	case defs.SEEK_CUR:
		base = f.offset
	case defs.SEEK_END:
		base = int64(f.Ino.Size())
	default:
		return 0, defs.EINVAL
	}
	newOff := base + off
	if newOff < 0 {
		return 0, defs.EINVAL
	}
	f.offset = newOff
	return newOff, 0
}

func (f *File) Advance(n int) {
	f.mu.Lock()
	f.offset += int64(n)
	f.mu.Unlock()
}

/// Retain bumps f's sharing refcount (called when Clone copies f into a
/// second fd table, mirroring what dup does to an fd within one table).
func (f *File) Retain() {
	atomic.AddInt32(&f.refs, 1)
}

/// Release drops f's sharing refcount and, once it reaches zero, puts
/// the underlying inode reference and gives back f's slot in the
/// system-wide open-file pool.
func (f *File) Release(t *sched.Thread) defs.Err_t {
	if atomic.AddInt32(&f.refs, -1) > 0 {
		return 0
	}
	limits.Syslimit.Files.Give()
	return f.Ino.Put(t)
}

// Table is a process's file descriptor table, mapping small integer fds
// to open Files.
type Table struct {
	mu    sync.Mutex
	files map[int]*File
	next  int
	limit int
}

/// NewTable creates an empty fd table capped at limit open descriptors
/// (spec.md supplemented resource-limit feature: fork/open consult a
/// system-wide limit; per-process fd exhaustion returns EMFILE here).
func NewTable(limit int) *Table {
	return &Table{files: make(map[int]*File), limit: limit}
}

/// Install assigns the lowest free fd number to f.
func (t *Table) Install(f *File) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.files) >= t.limit {
		return -1, defs.EMFILE
	}
	for {
		if _, used := t.files[t.next]; !used {
			fdnum := t.next
			t.files[fdnum] = f
			t.next++
			return fdnum, 0
		}
		t.next++
	}
}

/// Get looks up fd.
func (t *Table) Get(fdnum int) (*File, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fdnum]
	if !ok {
		return nil, defs.EBADF
	}
	return f, 0
}

/// Close removes fd from the table, returning the File it held (the
/// caller is responsible for releasing the underlying inode reference).
func (t *Table) Close(fdnum int) (*File, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fdnum]
	if !ok {
		return nil, defs.EBADF
	}
	delete(t.files, fdnum)
	if fdnum < t.next {
		t.next = fdnum
	}
	return f, 0
}

/// Each calls f for every currently installed File (process-exit
/// cleanup iterates this, calling Release on each, to drop this table's
/// share of every descriptor without double-releasing ones a fork
/// shared with another process's table).
func (t *Table) Each(f func(*File)) {
	t.mu.Lock()
	files := make([]*File, 0, len(t.files))
	for _, v := range t.files {
		files = append(files, v)
	}
	t.mu.Unlock()
	for _, v := range files {
		f(v)
	}
}

/// Clone duplicates the table's fd->File mapping (sharing File objects,
/// per POSIX fork semantics: offsets stay shared with the parent), bumping
/// each shared File's refcount so neither table's eventual Release call
/// prematurely puts the other's inode reference.
func (t *Table) Clone() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := NewTable(t.limit)
	for k, v := range t.files {
		v.Retain()
		nt.files[k] = v
	}
	nt.next = t.next
	return nt
}
