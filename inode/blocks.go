package inode

import (
	"encoding/binary"

	"maverickos/defs"
	"maverickos/limits"
)

// blockAt resolves the n'th (0-based) data block of an inode to its
// data-block number (relative to the store's dataBase), allocating new blocks (and indirect blocks) as
// needed when alloc is true. Every allocation and pointer write happens
// under txid so a crash mid-extension leaves either the old (shorter)
// file or the new (longer) one, never a torn mix (spec.md §4.J:
// "extending a file ... logged as one transaction").
func (ino *Inode) blockAt(txid uint32, n int, alloc bool) (int, defs.Err_t) {
	st := ino.store
	if n < NDirect {
		ino.mu.Lock()
		b := ino.d.Direct[n]
		ino.mu.Unlock()
		if b != 0 {
			return int(b), 0
		}
		if !alloc {
			return 0, defs.EINVAL
		}
		nb, err := st.allocBlock(txid)
		if err != 0 {
			return 0, err
		}
		ino.mu.Lock()
		ino.d.Direct[n] = uint32(nb)
		snap := ino.d
		ino.mu.Unlock()
		if err := st.writeDiskInodeTxn(txid, ino.Inum, &snap); err != 0 {
			return 0, err
		}
		return nb, 0
	}
	n -= NDirect
	if n < PtrsPerBlk {
		return ino.indirectBlockAt(txid, &ino.d.Indirect, n, alloc)
	}
	n -= PtrsPerBlk
	if n >= PtrsPerBlk*PtrsPerBlk {
		return 0, defs.E2BIG
	}
	outer := n / PtrsPerBlk
	inner := n % PtrsPerBlk
	dindBlk := ino.d.Dindirect
	if dindBlk == 0 {
		if !alloc {
			return 0, defs.EINVAL
		}
		nb, err := st.allocBlock(txid)
		if err != 0 {
			return 0, err
		}
		dindBlk = uint32(nb)
		ino.mu.Lock()
		ino.d.Dindirect = dindBlk
		snap := ino.d
		ino.mu.Unlock()
		if err := st.writeDiskInodeTxn(txid, ino.Inum, &snap); err != 0 {
			return 0, err
		}
	}
	var innerBlk uint32
	if err := st.readPtrBlock(int(dindBlk), outer, &innerBlk); err != 0 {
		return 0, err
	}
	return st.resolvePtrSlot(txid, int(dindBlk), outer, inner, innerBlk, alloc)
}

func (ino *Inode) indirectBlockAt(txid uint32, ptrField *uint32, idx int, alloc bool) (int, defs.Err_t) {
	st := ino.store
	indBlk := *ptrField
	if indBlk == 0 {
		if !alloc {
			return 0, defs.EINVAL
		}
		nb, err := st.allocBlock(txid)
		if err != 0 {
			return 0, err
		}
		indBlk = uint32(nb)
		ino.mu.Lock()
		*ptrField = indBlk
		snap := ino.d
		ino.mu.Unlock()
		if err := st.writeDiskInodeTxn(txid, ino.Inum, &snap); err != 0 {
			return 0, err
		}
	}
	var leaf uint32
	if err := st.readPtrBlock(int(indBlk), idx, &leaf); err != 0 {
		return 0, err
	}
	if leaf != 0 {
		return int(leaf), 0
	}
	if !alloc {
		return 0, defs.EINVAL
	}
	nb, err := st.allocBlock(txid)
	if err != 0 {
		return 0, err
	}
	if err := st.writePtrSlot(txid, int(indBlk), idx, uint32(nb)); err != 0 {
		return 0, err
	}
	return nb, 0
}

// resolvePtrSlot handles the double-indirect leaf case: if the second-
// level indirect block (innerBlk) doesn't exist yet, allocate it and
// link it into the double-indirect block, then resolve/allocate the
// actual data block within it.
func (st *Store) resolvePtrSlot(txid uint32, dindBlk, outer, inner int, innerBlk uint32, alloc bool) (int, defs.Err_t) {
	if innerBlk == 0 {
		if !alloc {
			return 0, defs.EINVAL
		}
		nb, err := st.allocBlock(txid)
		if err != 0 {
			return 0, err
		}
		innerBlk = uint32(nb)
		if err := st.writePtrSlot(txid, dindBlk, outer, innerBlk); err != 0 {
			return 0, err
		}
	}
	var leaf uint32
	if err := st.readPtrBlock(int(innerBlk), inner, &leaf); err != 0 {
		return 0, err
	}
	if leaf != 0 {
		return int(leaf), 0
	}
	if !alloc {
		return 0, defs.EINVAL
	}
	nb, err := st.allocBlock(txid)
	if err != 0 {
		return 0, err
	}
	if err := st.writePtrSlot(txid, int(innerBlk), inner, uint32(nb)); err != 0 {
		return 0, err
	}
	return nb, 0
}

func (st *Store) readPtrBlock(blk, idx int, out *uint32) defs.Err_t {
	sector := st.dataBase + blk
	e, err := st.cache.Get(sector)
	if err != 0 {
		return err
	}
	defer st.cache.Release(e, false)
	*out = binary.LittleEndian.Uint32(e.Data[idx*4 : idx*4+4])
	return 0
}

func (st *Store) writePtrSlot(txid uint32, blk, idx int, val uint32) defs.Err_t {
	sector := st.dataBase + blk
	e, err := st.cache.Get(sector)
	if err != 0 {
		return err
	}
	full := make([]byte, BSIZE)
	copy(full, e.Data[:])
	binary.LittleEndian.PutUint32(full[idx*4:idx*4+4], val)
	st.cache.Release(e, false)
	return st.log.Write(txid, uint32(sector), full)
}

// allocBlock reserves a fresh data block, taking one unit from the
// system-wide data-block pool (limits.Syslimit.Blocks) first so a
// single large file system image can't outrun a system-wide cap shared
// across several mounted stores.
func (st *Store) allocBlock(txid uint32) (int, defs.Err_t) {
	if !limits.Syslimit.Blocks.Take() {
		return 0, defs.ENOSPC
	}
	b, ok := st.blockMap.Alloc()
	if !ok {
		limits.Syslimit.Blocks.Give()
		return 0, defs.ENOSPC
	}
	zero := make([]byte, BSIZE)
	if err := st.log.Write(txid, uint32(st.dataBase+b), zero); err != 0 {
		st.blockMap.Free(b)
		limits.Syslimit.Blocks.Give()
		return 0, err
	}
	return b, 0
}

func (st *Store) freeBlock(b int) {
	st.blockMap.Free(b)
	limits.Syslimit.Blocks.Give()
}

/// ReadAt reads len(buf) bytes starting at off into buf, returning the
/// number of bytes actually read (short if off+len(buf) > Size).
func (ino *Inode) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	size := int64(ino.Size())
	if off >= size {
		return 0, 0
	}
	if off+int64(len(buf)) > size {
		buf = buf[:size-off]
	}
	n := 0
	for n < len(buf) {
		blkIdx := int((off + int64(n)) / BSIZE)
		blkOff := int((off + int64(n)) % BSIZE)
		sector, err := ino.blockAt(0, blkIdx, false)
		want := BSIZE - blkOff
		if want > len(buf)-n {
			want = len(buf) - n
		}
		if err != 0 {
			// Unallocated hole: treat as zeros.
			for i := 0; i < want; i++ {
				buf[n+i] = 0
			}
			n += want
			continue
		}
		e, rerr := ino.store.cache.Get(ino.store.dataBase + sector)
		if rerr != 0 {
			return n, rerr
		}
		copy(buf[n:n+want], e.Data[blkOff:blkOff+want])
		ino.store.cache.Release(e, false)
		n += want
	}
	return n, 0
}

/// WriteAt writes buf at off as part of txid, extending the file and its
/// block pointers as needed, and updates Size if the write grows the
/// file. Caller holds ino.RW for writing and owns txid's lifetime.
func (ino *Inode) WriteAt(txid uint32, buf []byte, off int64) (int, defs.Err_t) {
	n := 0
	for n < len(buf) {
		blkIdx := int((off + int64(n)) / BSIZE)
		blkOff := int((off + int64(n)) % BSIZE)
		sector, err := ino.blockAt(txid, blkIdx, true)
		if err != 0 {
			return n, err
		}
		want := BSIZE - blkOff
		if want > len(buf)-n {
			want = len(buf) - n
		}
		e, rerr := ino.store.cache.Get(ino.store.dataBase + sector)
		if rerr != 0 {
			return n, rerr
		}
		full := make([]byte, BSIZE)
		copy(full, e.Data[:])
		copy(full[blkOff:blkOff+want], buf[n:n+want])
		ino.store.cache.Release(e, false)
		if err := ino.store.log.Write(txid, uint32(ino.store.dataBase+sector), full); err != 0 {
			return n, err
		}
		n += want
	}
	newSize := off + int64(n)
	ino.mu.Lock()
	if newSize > int64(ino.d.Size) {
		ino.d.Size = uint64(newSize)
	}
	snap := ino.d
	ino.mu.Unlock()
	if err := ino.store.writeDiskInodeTxn(txid, ino.Inum, &snap); err != 0 {
		return n, err
	}
	return n, 0
}

/// Truncate shrinks or grows the file's logical size to newSize,
/// freeing now-unreachable blocks (shrink case) under txid. Growing past
/// the current allocated blocks is handled lazily by WriteAt/ReadAt's
/// hole semantics rather than here.
func (ino *Inode) Truncate(txid uint32, newSize uint64) defs.Err_t {
	return ino.truncateTxn(txid, newSize)
}

func (ino *Inode) truncateTxn(txid uint32, newSize uint64) defs.Err_t {
	ino.mu.Lock()
	oldSize := ino.d.Size
	ino.mu.Unlock()
	if newSize >= oldSize {
		ino.mu.Lock()
		ino.d.Size = newSize
		snap := ino.d
		ino.mu.Unlock()
		return ino.store.writeDiskInodeTxn(txid, ino.Inum, &snap)
	}
	oldBlocks := int((oldSize + BSIZE - 1) / BSIZE)
	newBlocks := int((newSize + BSIZE - 1) / BSIZE)
	for i := newBlocks; i < oldBlocks; i++ {
		if b, err := ino.blockAt(txid, i, false); err == 0 {
			ino.store.freeBlock(b)
		}
	}
	ino.mu.Lock()
	ino.d.Size = newSize
	if newBlocks <= NDirect {
		for i := newBlocks; i < NDirect; i++ {
			ino.d.Direct[i] = 0
		}
	}
	snap := ino.d
	ino.mu.Unlock()
	return ino.store.writeDiskInodeTxn(txid, ino.Inum, &snap)
}
