package wal

import (
	"sync"

	"maverickos/bcache"
	"maverickos/blockdev"
	"maverickos/defs"
)

// Log is a forward-appended, sector-backed write-ahead log. It treats
// its backing region as a flat byte stream (sector boundaries are an
// implementation detail of how bytes reach the disk, not part of the
// record framing), which is why scanning for the first invalid record
// at mount time is enough to find both the log's live end and, after a
// crash mid-write, the torn tail of a record that never finished
// writing -- a corrupt/short record fails Decode's CRC or length check
// exactly like genuine end-of-log zero bytes do.
type Log struct {
	mu     sync.Mutex
	region blockdev.Disk
	cache  *bcache.Cache

	writePos   int // next byte offset to append at
	nextTxid   uint32
	open       map[uint32][]Record // txid -> pending data records not yet committed
	held       map[uint32]map[uint32]*bcache.Entry // txid -> block -> cache entry pinned open
	highWater  int
	sectorSize int
}

/// Open mounts a write-ahead log over region (a blockdev.Disk scoped to
/// the log's own sector range), replaying any committed-but-not-yet-
/// flushed transactions into cache before returning.
func Open(region blockdev.Disk, cache *bcache.Cache, highWaterBytes int) (*Log, defs.Err_t) {
	l := &Log{
		region:     region,
		cache:      cache,
		open:       make(map[uint32][]Record),
		held:       make(map[uint32]map[uint32]*bcache.Entry),
		highWater:  highWaterBytes,
		sectorSize: blockdev.SectorSize,
	}
	if err := l.recover(); err != 0 {
		return nil, err
	}
	return l, 0
}

func (l *Log) readAll() ([]byte, defs.Err_t) {
	n := l.region.Nsectors()
	buf := make([]byte, n*l.sectorSize)
	sec := make([]byte, l.sectorSize)
	for i := 0; i < n; i++ {
		if err := l.region.ReadSector(i, sec); err != 0 {
			return nil, err
		}
		copy(buf[i*l.sectorSize:], sec)
	}
	return buf, 0
}

// recover scans the log from byte 0, applying every committed
// transaction's data records to the cache in order and discarding the
// pending records of any transaction left open when the scan runs out
// of valid records (spec.md §4.I: redo committed, implicitly undo/ignore
// uncommitted tails).
func (l *Log) recover() defs.Err_t {
	buf, err := l.readAll()
	if err != 0 {
		return err
	}
	pending := make(map[uint32][]Record)
	off := 0
	for {
		rec, n, ok := Decode(buf[off:])
		if !ok {
			break
		}
		switch rec.Type {
		case RecBegin:
			pending[rec.Txid] = nil
		case RecData:
			pending[rec.Txid] = append(pending[rec.Txid], rec)
		case RecCommit:
			for _, dr := range pending[rec.Txid] {
				l.applyToCache(dr)
			}
			delete(pending, rec.Txid)
		case RecCheckpoint:
			pending = make(map[uint32][]Record)
		}
		off += n
	}
	l.writePos = off
	if l.cache != nil {
		l.cache.FlushDirty()
	}
	return 0
}

// applyToCache installs rec's data into the cache and releases it right
// away. Used only by recover(), where every record replayed here already
// belongs to a transaction the log recorded as committed, so there is
// nothing left to protect: the home sector can be written back whenever
// the cache gets around to it.
func (l *Log) applyToCache(rec Record) {
	if l.cache == nil {
		return
	}
	e, err := l.cache.Get(int(rec.Block))
	if err != 0 {
		return
	}
	copy(e.Data[:], rec.Data)
	l.cache.Release(e, true)
}

// applyToCacheHeld installs rec's data into the cache on behalf of an
// still-open transaction and keeps the entry pinned rather than
// releasing it, so neither clock eviction nor the background flush
// goroutine can steal the block back to its home sector before txid
// commits (spec.md §4.H/§4.I: the buffer cache is no-steal with respect
// to uncommitted transactions, so a redo-only log never needs to undo
// anything -- there is nothing on disk yet to undo). The pin is released
// in Commit, once the commit record itself is durable.
func (l *Log) applyToCacheHeld(txid uint32, rec Record) {
	if l.cache == nil {
		return
	}
	l.mu.Lock()
	blocks := l.held[txid]
	if blocks == nil {
		blocks = make(map[uint32]*bcache.Entry)
		l.held[txid] = blocks
	}
	e, already := blocks[rec.Block]
	l.mu.Unlock()

	if !already {
		var err defs.Err_t
		e, err = l.cache.Get(int(rec.Block))
		if err != 0 {
			return
		}
		l.mu.Lock()
		blocks[rec.Block] = e
		l.mu.Unlock()
	}
	copy(e.Data[:], rec.Data)
	l.cache.MarkDirty(e)
}

func (l *Log) append(rec Record) defs.Err_t {
	bytes := Encode(rec)
	// Pad the write out to a whole number of sectors touched; sectors
	// beyond the current write position are assumed zeroed (fresh image
	// or previously truncated by a checkpoint), so a short final sector
	// write is safe -- any bytes past len(bytes) in the last sector
	// touched are left as whatever was already there, which recover()
	// will fail to parse as a record and correctly stop at.
	startSector := l.writePos / l.sectorSize
	endSector := (l.writePos + len(bytes) - 1) / l.sectorSize
	if endSector >= l.region.Nsectors() {
		return defs.ENOSPC
	}

	// Build a byte image of the touched sector range, splice in bytes at
	// the right offset, write sectors back.
	span := (endSector - startSector + 1) * l.sectorSize
	img := make([]byte, span)
	sec := make([]byte, l.sectorSize)
	for s := startSector; s <= endSector; s++ {
		if err := l.region.ReadSector(s, sec); err != 0 {
			return err
		}
		copy(img[(s-startSector)*l.sectorSize:], sec)
	}
	spliceOff := l.writePos - startSector*l.sectorSize
	copy(img[spliceOff:], bytes)
	for s := startSector; s <= endSector; s++ {
		lo := (s - startSector) * l.sectorSize
		if err := l.region.WriteSector(s, img[lo:lo+l.sectorSize]); err != 0 {
			return err
		}
	}
	l.writePos += len(bytes)
	return 0
}

/// Begin starts a new transaction and returns its id.
func (l *Log) Begin() (uint32, defs.Err_t) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextTxid++
	txid := l.nextTxid
	if err := l.append(Record{Type: RecBegin, Txid: txid}); err != 0 {
		return 0, err
	}
	l.open[txid] = nil
	return txid, 0
}

/// Write logs block's new contents as part of txid and applies them to
/// the buffer cache immediately (so readers within the live session see
/// the write right away; durability comes from the log record, not from
/// this in-memory application). The cache entry stays pinned until txid
/// commits, so it can never be written back to its home sector -- and
/// thus never needs undoing -- while the transaction is still open.
func (l *Log) Write(txid uint32, block uint32, data []byte) defs.Err_t {
	l.mu.Lock()
	if _, ok := l.open[txid]; !ok {
		l.mu.Unlock()
		return defs.EINVAL
	}
	rec := Record{Type: RecData, Txid: txid, Block: block, Data: append([]byte(nil), data...)}
	if err := l.append(rec); err != 0 {
		l.mu.Unlock()
		return err
	}
	l.open[txid] = append(l.open[txid], rec)
	l.mu.Unlock()

	l.applyToCacheHeld(txid, rec)
	return 0
}

/// Commit finalizes txid: writes its commit record and fsyncs the log
/// region, then releases the no-steal pins Write held on txid's dirty
/// blocks (safe now that the commit is durable -- recovery will redo
/// these blocks even if they reach their home sector before a later
/// crash), then triggers an automatic checkpoint if the log has grown
/// past its high-water mark.
func (l *Log) Commit(txid uint32) defs.Err_t {
	l.mu.Lock()
	if _, ok := l.open[txid]; !ok {
		l.mu.Unlock()
		return defs.EINVAL
	}
	if err := l.append(Record{Type: RecCommit, Txid: txid}); err != 0 {
		l.mu.Unlock()
		return err
	}
	delete(l.open, txid)
	held := l.held[txid]
	delete(l.held, txid)
	needCheckpoint := l.highWater > 0 && l.writePos >= l.highWater
	l.mu.Unlock()

	if err := l.region.Flush(); err != 0 {
		return err
	}

	if l.cache != nil {
		for _, e := range held {
			l.cache.Release(e, true)
		}
	}

	if needCheckpoint {
		return l.Checkpoint()
	}
	return 0
}

/// Checkpoint flushes all dirty cache blocks to their home locations and
/// truncates the log, writing a fresh checkpoint record at offset 0.
/// Must not be called while any transaction is open.
func (l *Log) Checkpoint() defs.Err_t {
	l.mu.Lock()
	if len(l.open) != 0 {
		l.mu.Unlock()
		return defs.EBUSY
	}
	l.mu.Unlock()

	if l.cache != nil {
		if err := l.cache.FlushDirty(); err != 0 {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	zero := make([]byte, l.sectorSize)
	for s := 0; s*l.sectorSize < l.writePos && s < l.region.Nsectors(); s++ {
		if err := l.region.WriteSector(s, zero); err != 0 {
			return err
		}
	}
	l.writePos = 0
	rec := Record{Type: RecCheckpoint}
	if err := l.append(rec); err != 0 {
		return err
	}
	return l.region.Flush()
}

/// WritePos reports the current log append offset (test/debug use).
func (l *Log) WritePos() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writePos
}
