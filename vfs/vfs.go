// Package vfs is the file-system façade (component L): the
// create/open/read/write/seek/remove/mkdir/chdir/symlink/readlink
// surface every syscall in scall ultimately calls into, layered on top
// of inode (J), dir (K), and wal (I).
//
// Grounded on biscuit's ufs.Ufs_t (ufs/ufs.go): a thin wrapper exposing
// POSIX-shaped operations (MkFile/MkDir/Rename/Unlink/Stat/Read/Append)
// over an Fs_t, a Cwd_t, and a transaction-per-operation discipline.
package vfs

import (
	"maverickos/dir"
	"maverickos/fd"
	"maverickos/inode"
	"maverickos/sched"
	"maverickos/stat"
	"maverickos/upath"
	"maverickos/wal"

	"maverickos/defs"
)

/// Fs is the mounted file system: an inode store, its write-ahead log,
/// and a path resolver sharing both.
type Fs struct {
	Store    *inode.Store
	Log      *wal.Log
	Resolver *dir.Resolver
	RootInum inode.Inum
}

/// New wraps an already-open inode.Store/wal.Log pair into a Fs ready to
/// serve syscalls. rootInum is the inode number the image was formatted
/// with for "/".
func New(store *inode.Store, log *wal.Log, rootInum inode.Inum) *Fs {
	fs := &Fs{Store: store, Log: log, RootInum: rootInum}
	fs.Resolver = &dir.Resolver{
		Store: store,
		Root:  rootInum,
		ReadLink: func(t *sched.Thread, ino *inode.Inode) (string, defs.Err_t) {
			buf := make([]byte, ino.Size())
			_, err := ino.ReadAt(buf, 0)
			return string(buf), err
		},
	}
	return fs
}

/// RootCwd returns a Cwd_t pinned to the root directory, for bootstrapping
/// a process's initial working directory.
func (fs *Fs) RootCwd(t *sched.Thread) (*fd.Cwd_t, defs.Err_t) {
	ino, err := fs.Store.Get(fs.RootInum)
	if err != 0 {
		return nil, err
	}
	return &fd.Cwd_t{Ino: ino, Path: upath.Root}, 0
}

func dirOf(ino *inode.Inode) *dir.Dir { return &dir.Dir{Ino: ino} }

/// Open resolves p (relative to cwd unless absolute) and returns a
/// fd.File. O_CREAT creates a regular file if missing; O_EXCL with
/// O_CREAT fails if it already exists; O_TRUNC truncates an existing
/// regular file to zero length.
func (fs *Fs) Open(t *sched.Thread, cwd *fd.Cwd_t, p upath.Path, flags int) (*fd.File, defs.Err_t) {
	parentInum, err := fs.Resolver.Resolve(t, cwd.Ino.Inum, p.Dir())
	if err != 0 {
		return nil, err
	}
	parent, err := fs.Store.Get(parentInum)
	if err != 0 {
		return nil, err
	}
	defer parent.Put(t)

	name := p.Base()
	inum, lookErr := dirOf(parent).Lookup(t, name)

	if lookErr != 0 {
		if flags&defs.O_CREAT == 0 {
			return nil, defs.ENOENT
		}
		txid, err := fs.Log.Begin()
		if err != 0 {
			return nil, err
		}
		newInum, err := fs.Store.AllocInode(txid)
		if err != 0 {
			return nil, err
		}
		newIno, err := fs.Store.Get(newInum)
		if err != 0 {
			return nil, err
		}
		if err := newIno.SetMeta(txid, inode.TypeFile, 1); err != 0 {
			newIno.Put(t)
			return nil, err
		}
		if err := dirOf(parent).Insert(t, txid, name, newInum); err != 0 {
			newIno.Put(t)
			return nil, err
		}
		if err := fs.Log.Commit(txid); err != 0 {
			newIno.Put(t)
			return nil, err
		}
		f, ferr := fd.NewFile(newIno, flags)
		if ferr != 0 {
			newIno.Put(t)
			return nil, ferr
		}
		return f, 0
	}

	if flags&defs.O_CREAT != 0 && flags&defs.O_EXCL != 0 {
		return nil, defs.EEXIST
	}
	ino, err := fs.Store.Get(inum)
	if err != 0 {
		return nil, err
	}
	if flags&defs.O_TRUNC != 0 && ino.Type() == inode.TypeFile {
		txid, err := fs.Log.Begin()
		if err == 0 {
			ino.Truncate(txid, 0)
			fs.Log.Commit(txid)
		}
	}
	f, ferr := fd.NewFile(ino, flags)
	if ferr != 0 {
		ino.Put(t)
		return nil, ferr
	}
	return f, 0
}

/// Close drops this descriptor's share of f, releasing the underlying
/// inode reference once no fd table (including one a fork shared f
/// with) still holds it.
func (fs *Fs) Close(t *sched.Thread, f *fd.File) defs.Err_t {
	return f.Release(t)
}

/// Read reads into buf from f's current offset, advancing it.
func (fs *Fs) Read(t *sched.Thread, f *fd.File, buf []byte) (int, defs.Err_t) {
	f.Ino.RW.RLock(t)
	n, err := f.Ino.ReadAt(buf, f.Offset())
	f.Ino.RW.RUnlock(t)
	if err != 0 {
		return 0, err
	}
	f.Advance(n)
	return n, 0
}

/// Write writes buf to f's current offset (or the file's end if O_APPEND
/// is set), advancing the offset, under a fresh transaction.
func (fs *Fs) Write(t *sched.Thread, f *fd.File, buf []byte) (int, defs.Err_t) {
	off := f.Offset()
	if f.Flags&defs.O_APPEND != 0 {
		off = int64(f.Ino.Size())
	}
	txid, err := fs.Log.Begin()
	if err != 0 {
		return 0, err
	}
	f.Ino.RW.Lock(t)
	n, err := f.Ino.WriteAt(txid, buf, off)
	f.Ino.RW.Unlock(t)
	if err != 0 {
		fs.Log.Commit(txid)
		return n, err
	}
	if err := fs.Log.Commit(txid); err != 0 {
		return n, err
	}
	f.Advance(n)
	return n, 0
}

/// Seek repositions f's offset.
func (fs *Fs) Seek(f *fd.File, off int64, whence int) (int64, defs.Err_t) {
	return f.Seek(off, whence)
}

/// Mkdir creates a directory at p with "." and ".." entries installed.
func (fs *Fs) Mkdir(t *sched.Thread, cwd *fd.Cwd_t, p upath.Path) defs.Err_t {
	parentInum, err := fs.Resolver.Resolve(t, cwd.Ino.Inum, p.Dir())
	if err != 0 {
		return err
	}
	parent, err := fs.Store.Get(parentInum)
	if err != 0 {
		return err
	}
	defer parent.Put(t)

	name := p.Base()
	if _, lookErr := dirOf(parent).Lookup(t, name); lookErr == 0 {
		return defs.EEXIST
	}

	txid, err := fs.Log.Begin()
	if err != 0 {
		return err
	}
	newInum, err := fs.Store.AllocInode(txid)
	if err != 0 {
		return err
	}
	newIno, err := fs.Store.Get(newInum)
	if err != 0 {
		return err
	}
	defer newIno.Put(t)
	if err := newIno.SetMeta(txid, inode.TypeDir, 2); err != 0 {
		return err
	}
	nd := dirOf(newIno)
	if err := nd.Insert(t, txid, upath.Dot, newInum); err != 0 {
		return err
	}
	if err := nd.Insert(t, txid, upath.DotDot, parentInum); err != 0 {
		return err
	}
	if err := dirOf(parent).Insert(t, txid, name, newInum); err != 0 {
		return err
	}
	if err := parent.AdjustNlink(txid, 1); err != 0 {
		return err
	}
	return fs.Log.Commit(txid)
}

/// Remove unlinks a regular file (or empty, non-cwd directory if dir is
/// true) at p.
func (fs *Fs) Remove(t *sched.Thread, cwd *fd.Cwd_t, p upath.Path, wantDir bool) defs.Err_t {
	parentInum, err := fs.Resolver.Resolve(t, cwd.Ino.Inum, p.Dir())
	if err != 0 {
		return err
	}
	parent, err := fs.Store.Get(parentInum)
	if err != 0 {
		return err
	}
	defer parent.Put(t)

	name := p.Base()
	inum, err := dirOf(parent).Lookup(t, name)
	if err != 0 {
		return err
	}
	target, err := fs.Store.Get(inum)
	if err != 0 {
		return err
	}
	defer target.Put(t)

	isDir := target.Type() == inode.TypeDir
	if wantDir != isDir {
		if isDir {
			return defs.EISDIR
		}
		return defs.ENOTDIR
	}
	if isDir {
		if inum == cwd.Ino.Inum {
			return defs.EBUSY
		}
		if !dirOf(target).IsEmpty(t) {
			return defs.ENOTEMPTY
		}
	}

	txid, err := fs.Log.Begin()
	if err != 0 {
		return err
	}
	if err := dirOf(parent).Remove(t, txid, name); err != 0 {
		return err
	}
	if isDir {
		if err := parent.AdjustNlink(txid, -1); err != 0 {
			return err
		}
	}
	if err := target.AdjustNlink(txid, -1); err != 0 {
		return err
	}
	orphan := target.Nlink() == 0
	if err := fs.Log.Commit(txid); err != 0 {
		return err
	}
	if orphan {
		target.MarkOrphan()
	}
	return 0
}

/// Symlink creates a symlink at p pointing at target (stored verbatim as
/// the link's file content).
func (fs *Fs) Symlink(t *sched.Thread, cwd *fd.Cwd_t, p upath.Path, target string) defs.Err_t {
	parentInum, err := fs.Resolver.Resolve(t, cwd.Ino.Inum, p.Dir())
	if err != 0 {
		return err
	}
	parent, err := fs.Store.Get(parentInum)
	if err != 0 {
		return err
	}
	defer parent.Put(t)

	name := p.Base()
	if _, lookErr := dirOf(parent).Lookup(t, name); lookErr == 0 {
		return defs.EEXIST
	}

	txid, err := fs.Log.Begin()
	if err != 0 {
		return err
	}
	newInum, err := fs.Store.AllocInode(txid)
	if err != 0 {
		return err
	}
	newIno, err := fs.Store.Get(newInum)
	if err != 0 {
		return err
	}
	defer newIno.Put(t)
	if err := newIno.SetMeta(txid, inode.TypeSym, 1); err != 0 {
		return err
	}
	if _, err := newIno.WriteAt(txid, []byte(target), 0); err != 0 {
		return err
	}
	if err := dirOf(parent).Insert(t, txid, name, newInum); err != 0 {
		return err
	}
	return fs.Log.Commit(txid)
}

/// Readlink returns a symlink's target text.
func (fs *Fs) Readlink(t *sched.Thread, cwd *fd.Cwd_t, p upath.Path) (string, defs.Err_t) {
	// Resolve the parent only; the link itself must not be followed.
	parentInum, err := fs.Resolver.Resolve(t, cwd.Ino.Inum, p.Dir())
	if err != 0 {
		return "", err
	}
	parent, err := fs.Store.Get(parentInum)
	if err != 0 {
		return "", err
	}
	defer parent.Put(t)
	inum, err := dirOf(parent).Lookup(t, p.Base())
	if err != 0 {
		return "", err
	}
	ino, err := fs.Store.Get(inum)
	if err != 0 {
		return "", err
	}
	defer ino.Put(t)
	if ino.Type() != inode.TypeSym {
		return "", defs.EINVAL
	}
	buf := make([]byte, ino.Size())
	_, err = ino.ReadAt(buf, 0)
	return string(buf), err
}

/// Chdir resolves p and returns a new Cwd_t for it, failing with ENOTDIR
/// if it isn't a directory.
func (fs *Fs) Chdir(t *sched.Thread, cwd *fd.Cwd_t, p upath.Path) (*fd.Cwd_t, defs.Err_t) {
	inum, err := fs.Resolver.Resolve(t, cwd.Ino.Inum, p)
	if err != 0 {
		return nil, err
	}
	ino, err := fs.Store.Get(inum)
	if err != 0 {
		return nil, err
	}
	if ino.Type() != inode.TypeDir {
		ino.Put(t)
		return nil, defs.ENOTDIR
	}
	return &fd.Cwd_t{Ino: ino, Path: upath.Canonicalize(cwd.Path.Extend(p))}, 0
}

/// Stat returns metadata for p.
func (fs *Fs) Stat(t *sched.Thread, cwd *fd.Cwd_t, p upath.Path) (stat.Stat_t, defs.Err_t) {
	inum, err := fs.Resolver.Resolve(t, cwd.Ino.Inum, p)
	if err != 0 {
		return stat.Stat_t{}, err
	}
	ino, err := fs.Store.Get(inum)
	if err != 0 {
		return stat.Stat_t{}, err
	}
	defer ino.Put(t)
	return stat.FromInode(inum, ino.Type(), ino.Size(), ino.Nlink()), 0
}

/// Readdir copies the nth directory entry of f (which must be open on a
/// directory) into name/inum, returning ok=false at EOF (spec.md
/// supplemented readdir semantics: "one Dirent_t per call").
func (fs *Fs) Readdir(t *sched.Thread, f *fd.File, n int) (name string, inum inode.Inum, ok bool) {
	if f.Ino.Type() != inode.TypeDir {
		return "", 0, false
	}
	i := 0
	found := false
	var fname string
	var finum inode.Inum
	dirOf(f.Ino).Each(t, func(nm string, im inode.Inum) {
		if found {
			return
		}
		if i == n {
			fname, finum, found = nm, im, true
		}
		i++
	})
	return fname, finum, found
}

/// IsDir reports whether f is open on a directory.
func (fs *Fs) IsDir(f *fd.File) bool { return f.Ino.Type() == inode.TypeDir }

/// Inumber returns f's inode number.
func (fs *Fs) Inumber(f *fd.File) inode.Inum { return f.Ino.Inum }
