// Package dir implements the directory layer (component K): fixed-size
// directory entries, "." and ".." bootstrapping, and path resolution
// with symlink expansion bounded to an 8-hop cycle guard (spec.md §4.K).
//
// Grounded on biscuit's directory-block scanning idiom, visible in
// ufs.Ufs_t.Ls (ufs/ufs.go): fixed BSIZE-sized directory blocks scanned
// entry-by-entry for a name. This package's on-disk entry encoding uses
// encoding/binary for the same reason the WAL record format does: a
// compact fixed-width binary layout over a plain byte block.
package dir

import (
	"encoding/binary"

	"maverickos/defs"
	"maverickos/inode"
	"maverickos/sched"
	"maverickos/upath"
)

const NameMax = 28
const entrySize = 4 + NameMax // inum(4) + name(28)
const entriesPerBlock = inode.BSIZE / entrySize
const maxSymlinkHops = 8

type rawEntry struct {
	Inum inode.Inum
	Name string
}

func encodeEntry(e rawEntry) []byte {
	b := make([]byte, entrySize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(e.Inum))
	copy(b[4:4+NameMax], []byte(e.Name))
	return b
}

func decodeEntry(b []byte) rawEntry {
	inum := binary.LittleEndian.Uint32(b[0:4])
	end := 4
	for end < entrySize && b[end] != 0 {
		end++
	}
	return rawEntry{Inum: inode.Inum(inum), Name: string(b[4:end])}
}

/// Dir wraps an inode.Inode known to be a directory, providing
/// entry-level lookup/insert/remove.
type Dir struct {
	Ino *inode.Inode
}

/// Lookup scans for name, returning its inode number.
func (d *Dir) Lookup(t *sched.Thread, name string) (inode.Inum, defs.Err_t) {
	d.Ino.RW.RLock(t)
	defer d.Ino.RW.RUnlock(t)
	nblocks := int((d.Ino.Size() + inode.BSIZE - 1) / inode.BSIZE)
	buf := make([]byte, entrySize)
	for blk := 0; blk < nblocks; blk++ {
		for slot := 0; slot < entriesPerBlock; slot++ {
			off := int64(blk)*inode.BSIZE + int64(slot)*entrySize
			n, err := d.Ino.ReadAt(buf, off)
			if err != 0 || n < entrySize {
				continue
			}
			e := decodeEntry(buf)
			if e.Inum != 0 && e.Name == name {
				return e.Inum, 0
			}
		}
	}
	return 0, defs.ENOENT
}

/// Insert adds name->inum as part of txid, reusing the first free slot
/// or appending a new one. Fails with EEXIST if name is already present.
func (d *Dir) Insert(t *sched.Thread, txid uint32, name string, inum inode.Inum) defs.Err_t {
	if len(name) > NameMax {
		return defs.ENAMETOOLONG
	}
	d.Ino.RW.Lock(t)
	defer d.Ino.RW.Unlock(t)

	nblocks := int((d.Ino.Size() + inode.BSIZE - 1) / inode.BSIZE)
	buf := make([]byte, entrySize)
	freeOff := int64(-1)
	for blk := 0; blk < nblocks; blk++ {
		for slot := 0; slot < entriesPerBlock; slot++ {
			off := int64(blk)*inode.BSIZE + int64(slot)*entrySize
			n, _ := d.Ino.ReadAt(buf, off)
			if n < entrySize {
				if freeOff < 0 {
					freeOff = off
				}
				continue
			}
			e := decodeEntry(buf)
			if e.Inum == 0 && freeOff < 0 {
				freeOff = off
			}
			if e.Inum != 0 && e.Name == name {
				return defs.EEXIST
			}
		}
	}
	if freeOff < 0 {
		freeOff = int64(nblocks) * inode.BSIZE
	}
	rec := encodeEntry(rawEntry{Inum: inum, Name: name})
	_, err := d.Ino.WriteAt(txid, rec, freeOff)
	return err
}

/// Remove clears the entry for name as part of txid. Fails with ENOENT
/// if not present.
func (d *Dir) Remove(t *sched.Thread, txid uint32, name string) defs.Err_t {
	d.Ino.RW.Lock(t)
	defer d.Ino.RW.Unlock(t)

	nblocks := int((d.Ino.Size() + inode.BSIZE - 1) / inode.BSIZE)
	buf := make([]byte, entrySize)
	for blk := 0; blk < nblocks; blk++ {
		for slot := 0; slot < entriesPerBlock; slot++ {
			off := int64(blk)*inode.BSIZE + int64(slot)*entrySize
			n, _ := d.Ino.ReadAt(buf, off)
			if n < entrySize {
				continue
			}
			e := decodeEntry(buf)
			if e.Inum != 0 && e.Name == name {
				zero := make([]byte, entrySize)
				_, err := d.Ino.WriteAt(txid, zero, off)
				return err
			}
		}
	}
	return defs.ENOENT
}

/// IsEmpty reports whether the directory has no entries besides "." and
/// "..".
func (d *Dir) IsEmpty(t *sched.Thread) bool {
	d.Ino.RW.RLock(t)
	defer d.Ino.RW.RUnlock(t)
	nblocks := int((d.Ino.Size() + inode.BSIZE - 1) / inode.BSIZE)
	buf := make([]byte, entrySize)
	for blk := 0; blk < nblocks; blk++ {
		for slot := 0; slot < entriesPerBlock; slot++ {
			off := int64(blk)*inode.BSIZE + int64(slot)*entrySize
			n, _ := d.Ino.ReadAt(buf, off)
			if n < entrySize {
				continue
			}
			e := decodeEntry(buf)
			if e.Inum != 0 && e.Name != upath.Dot && e.Name != upath.DotDot {
				return false
			}
		}
	}
	return true
}

/// Each calls f for every non-empty entry, "." and ".." included.
func (d *Dir) Each(t *sched.Thread, f func(name string, inum inode.Inum)) {
	d.Ino.RW.RLock(t)
	defer d.Ino.RW.RUnlock(t)
	nblocks := int((d.Ino.Size() + inode.BSIZE - 1) / inode.BSIZE)
	buf := make([]byte, entrySize)
	for blk := 0; blk < nblocks; blk++ {
		for slot := 0; slot < entriesPerBlock; slot++ {
			off := int64(blk)*inode.BSIZE + int64(slot)*entrySize
			n, _ := d.Ino.ReadAt(buf, off)
			if n < entrySize {
				continue
			}
			e := decodeEntry(buf)
			if e.Inum != 0 {
				f(e.Name, e.Inum)
			}
		}
	}
}

/// MaxSymlinkHops is the cycle/depth guard path resolution enforces.
const MaxSymlinkHops = maxSymlinkHops

/// Resolve resolves p starting from root, expanding symlinks along the
/// way, bounded to MaxSymlinkHops total symlink expansions (spec.md
/// §4.K: exceeding the bound returns ELOOP).
type Resolver struct {
	Store    *inode.Store
	Root     inode.Inum
	ReadLink func(t *sched.Thread, ino *inode.Inode) (string, defs.Err_t)
}

func (r *Resolver) Resolve(t *sched.Thread, cwd inode.Inum, p upath.Path) (inode.Inum, defs.Err_t) {
	cur := cwd
	if p.IsAbsolute() {
		cur = r.Root
	}
	hops := 0
	comps := upath.Canonicalize(p).Components()
	return r.walk(t, cur, comps, &hops)
}

func (r *Resolver) walk(t *sched.Thread, cur inode.Inum, comps []string, hops *int) (inode.Inum, defs.Err_t) {
	for _, c := range comps {
		if c == "" || c == upath.Dot {
			continue
		}
		ino, err := r.Store.Get(cur)
		if err != 0 {
			return 0, err
		}
		d := &Dir{Ino: ino}
		next, err := d.Lookup(t, c)
		ino.Put(t)
		if err != 0 {
			return 0, err
		}
		nextIno, err := r.Store.Get(next)
		if err != 0 {
			return 0, err
		}
		if nextIno.Type() == inode.TypeSym {
			*hops++
			if *hops > maxSymlinkHops {
				nextIno.Put(t)
				return 0, defs.ELOOP
			}
			target, err := r.ReadLink(t, nextIno)
			nextIno.Put(t)
			if err != 0 {
				return 0, err
			}
			tp := upath.Path(target)
			start := cur
			if tp.IsAbsolute() {
				start = r.Root
			}
			resolved, err := r.walk(t, start, upath.Canonicalize(tp).Components(), hops)
			if err != 0 {
				return 0, err
			}
			cur = resolved
			continue
		}
		nextIno.Put(t)
		cur = next
	}
	return cur, 0
}
