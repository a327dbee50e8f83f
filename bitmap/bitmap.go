// Package bitmap implements the fixed-size bit set used by the inode
// free map (component J) and the swap slot allocator (component O).
// Both need the same primitive: a persisted/in-memory bit-per-unit
// table with "find first clear, set it" allocation and O(1) release.
// No teacher file in the retrieval sample implements this directly;
// grounded on the same word-oriented bit-twiddling style biscuit uses
// throughout mem/dmap.go (shift/mask helpers over uint words) applied to
// a slice of uint64 words instead of page-table entries.
package bitmap

import "sync"

/// Bitmap is a concurrency-safe fixed-size bit set.
type Bitmap struct {
	mu    sync.Mutex
	words []uint64
	nbits int
	next  int // next index to probe from, for round-robin allocation
}

/// New creates a bitmap with nbits bits, all initially clear (free).
func New(nbits int) *Bitmap {
	if nbits <= 0 {
		panic("bad bitmap size")
	}
	nwords := (nbits + 63) / 64
	return &Bitmap{words: make([]uint64, nwords), nbits: nbits}
}

/// FromBytes reconstructs a bitmap from its on-disk little-endian byte
/// representation (as written by Bytes), e.g. when loading the free-map
/// inode contents or the swap bitmap at mount time.
func FromBytes(b []byte, nbits int) *Bitmap {
	bm := New(nbits)
	for i := range bm.words {
		var w uint64
		for j := 0; j < 8 && i*8+j < len(b); j++ {
			w |= uint64(b[i*8+j]) << (8 * j)
		}
		bm.words[i] = w
	}
	return bm
}

/// Bytes serializes the bitmap to little-endian bytes suitable for
/// writing to the free-map inode's data blocks.
func (b *Bitmap) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.words)*8)
	for i, w := range b.words {
		for j := 0; j < 8; j++ {
			out[i*8+j] = byte(w >> (8 * j))
		}
	}
	return out
}

func (b *Bitmap) test(i int) bool {
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

func (b *Bitmap) set(i int) {
	b.words[i/64] |= 1 << uint(i%64)
}

func (b *Bitmap) clear(i int) {
	b.words[i/64] &^= 1 << uint(i%64)
}

/// Alloc finds a clear bit, sets it, and returns its index. Returns
/// false if every bit is set.
func (b *Bitmap) Alloc() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := 0; k < b.nbits; k++ {
		i := (b.next + k) % b.nbits
		if !b.test(i) {
			b.set(i)
			b.next = (i + 1) % b.nbits
			return i, true
		}
	}
	return 0, false
}

/// Free clears bit i. Panics if it was already clear -- a double free
/// of a free-map or swap slot is a kernel programmer error.
func (b *Bitmap) Free(i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.test(i) {
		panic("double free of bitmap slot")
	}
	b.clear(i)
}

/// Test reports whether bit i is set.
func (b *Bitmap) Test(i int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.test(i)
}

/// MarkUsed force-sets bit i without going through Alloc, used when
/// reconstructing a bitmap that must reserve specific indices (e.g. the
/// inode and block numbers consumed while formatting a fresh image).
func (b *Bitmap) MarkUsed(i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(i)
}

/// Nbits reports the bitmap's capacity.
func (b *Bitmap) Nbits() int { return b.nbits }

/// Used counts the number of set bits.
func (b *Bitmap) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for i := 0; i < b.nbits; i++ {
		if b.test(i) {
			n++
		}
	}
	return n
}
