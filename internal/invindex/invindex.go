// Package invindex implements the sorted, block-structured on-disk
// inverted index: fixed-width padded keys mapping to variable-length lists
// of fixed-size postings, stored in a region.Region and ordered by
// in-place block shifting (memmove) with overflow-block chaining when a
// block fills.
package invindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/btree"

	"github.com/podcopic-labs/embedstore/internal/region"
)

// Sentinel marks an unused posting slot. It can never be emitted as a real
// row index, which bounds row counts to 2^32-2.
const Sentinel uint32 = 0xFFFFFFFF

// ErrKeyTooLong is returned by Insert when key exceeds the configured key
// width.
type ErrKeyTooLong struct {
	Key     string
	KeySize int
}

func (e *ErrKeyTooLong) Error() string {
	return fmt.Sprintf("invindex: key %q exceeds key size %d", e.Key, e.KeySize)
}

// Index is a sorted, fixed-block keyword -> postings index over a region.
type Index struct {
	reg              *region.Region
	blockSize        int
	keySize          int
	postingsPerBlock int

	// cache accelerates repeated lookups of the same key by remembering the
	// block position binary search last returned for it. It is strictly an
	// accelerator: every hit is verified against the on-disk key before
	// being trusted, so a stale entry (left behind by an insert that
	// shifted blocks around it) just falls back to a fresh binary search
	// rather than ever returning a wrong answer.
	cache *btree.BTree

	// filter gives Search a fast negative path: a definite "not present"
	// skips the binary search entirely. A false positive only costs one
	// wasted search.
	filter *bloom.BloomFilter
}

type cacheItem struct {
	key string
	pos int
}

func (c cacheItem) Less(other btree.Item) bool {
	return c.key < other.(cacheItem).key
}

// DefaultBlockSize and DefaultKeySize match the spec's defaults (B=64,
// K=16), leaving (64-16)/4 = 12 postings per block.
const (
	DefaultBlockSize = 64
	DefaultKeySize   = 16
)

// Open opens or creates the index file at path with the given block size,
// key size, and total region capacity in bytes.
func Open(path string, blockSize, keySize int, capacity uint32) (*Index, error) {
	if blockSize <= keySize {
		return nil, fmt.Errorf("invindex: block size %d must exceed key size %d", blockSize, keySize)
	}
	if (blockSize-keySize)%4 != 0 {
		return nil, fmt.Errorf("invindex: postings region (block-key=%d) must be a multiple of 4", blockSize-keySize)
	}

	reg, err := region.Open(path, capacity)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		reg:              reg,
		blockSize:        blockSize,
		keySize:          keySize,
		postingsPerBlock: (blockSize - keySize) / 4,
		cache:            btree.New(2),
		filter:           bloom.NewWithEstimates(100_000, 0.01),
	}
	idx.rebuildFilter()
	return idx, nil
}

// Close flushes the underlying region.
func (idx *Index) Close() error { return idx.reg.Close() }

func (idx *Index) numBlocks() int {
	return int((idx.reg.Cursor() - 4) / uint32(idx.blockSize))
}

func (idx *Index) blockOffset(pos int) int {
	return 4 + pos*idx.blockSize
}

func (idx *Index) keyAt(pos int) []byte {
	start := idx.blockOffset(pos)
	return idx.reg.Base()[start : start+idx.keySize]
}

func (idx *Index) postingsAt(pos int) []byte {
	start := idx.blockOffset(pos) + idx.keySize
	return idx.reg.Base()[start : start+idx.blockSize-idx.keySize]
}

func (idx *Index) rebuildFilter() {
	n := idx.numBlocks()
	for i := 0; i < n; i++ {
		idx.filter.Add(idx.keyAt(i))
	}
}

// pad zero-pads key to exactly keySize bytes, or fails with ErrKeyTooLong.
func (idx *Index) pad(key string) ([]byte, error) {
	b := []byte(key)
	if len(b) > idx.keySize {
		return nil, &ErrKeyTooLong{Key: key, KeySize: idx.keySize}
	}
	padded := make([]byte, idx.keySize)
	copy(padded, b)
	return padded, nil
}

// binarySearch returns the lower-bound position for paddedKey and whether
// that position is an exact match.
func (idx *Index) binarySearch(paddedKey []byte) (pos int, found bool) {
	n := idx.numBlocks()
	pos = sort.Search(n, func(i int) bool {
		return bytes.Compare(idx.keyAt(i), paddedKey) >= 0
	})
	found = pos < n && bytes.Equal(idx.keyAt(pos), paddedKey)
	return pos, found
}

// lookupCached resolves paddedKey to a block position, preferring the
// cache when it still points at the right key.
func (idx *Index) lookupCached(paddedKey []byte) (pos int, found bool) {
	if item := idx.cache.Get(cacheItem{key: string(paddedKey)}); item != nil {
		cached := item.(cacheItem)
		if cached.pos < idx.numBlocks() && bytes.Equal(idx.keyAt(cached.pos), paddedKey) {
			return cached.pos, true
		}
	}
	return idx.binarySearch(paddedKey)
}

// Search returns the multiset union of postings for key, discovered by
// scanning backward then forward from the found block across the overflow
// chain. Order is discovery order, not sorted; callers needing a stable
// order must sort themselves.
func (idx *Index) Search(key string) ([]uint32, error) {
	paddedKey, err := idx.pad(key)
	if err != nil {
		return nil, err
	}

	if idx.filter != nil && !idx.filter.Test(paddedKey) {
		return nil, nil
	}

	pos, found := idx.lookupCached(paddedKey)
	if !found {
		return nil, nil
	}
	idx.cache.ReplaceOrInsert(cacheItem{key: string(paddedKey), pos: pos})

	var result []uint32
	n := idx.numBlocks()
	for i := pos; i >= 0 && bytes.Equal(idx.keyAt(i), paddedKey); i-- {
		result = append(result, idx.nonSentinelPostings(i)...)
	}
	for j := pos + 1; j < n && bytes.Equal(idx.keyAt(j), paddedKey); j++ {
		result = append(result, idx.nonSentinelPostings(j)...)
	}
	return result, nil
}

func (idx *Index) nonSentinelPostings(pos int) []uint32 {
	raw := idx.postingsAt(pos)
	out := make([]uint32, 0, idx.postingsPerBlock)
	for s := 0; s < idx.postingsPerBlock; s++ {
		v := binary.LittleEndian.Uint32(raw[s*4:])
		if v != Sentinel {
			out = append(out, v)
		}
	}
	return out
}

// Insert adds postings under key, filling sentinel slots of an existing
// block first and chaining overflow blocks (each a fresh, same-key block
// spliced in immediately after) for whatever doesn't fit.
func (idx *Index) Insert(key string, postings []uint32) error {
	paddedKey, err := idx.pad(key)
	if err != nil {
		return err
	}
	if len(postings) == 0 {
		return nil
	}

	pos, found := idx.binarySearch(paddedKey)
	if !found {
		if err := idx.insertChain(pos, paddedKey, postings); err != nil {
			return err
		}
	} else {
		remaining := idx.fillSentinels(pos, postings)
		if len(remaining) > 0 {
			if err := idx.insertChain(pos+1, paddedKey, remaining); err != nil {
				return err
			}
		}
	}

	idx.filter.Add(paddedKey)
	idx.cache.ReplaceOrInsert(cacheItem{key: string(paddedKey), pos: pos})
	return nil
}

// fillSentinels writes postings into the first sentinel slots of the block
// at pos and returns whatever didn't fit.
func (idx *Index) fillSentinels(pos int, postings []uint32) []uint32 {
	raw := idx.postingsAt(pos)
	filled := 0
	for s := 0; s < idx.postingsPerBlock && filled < len(postings); s++ {
		if binary.LittleEndian.Uint32(raw[s*4:]) == Sentinel {
			binary.LittleEndian.PutUint32(raw[s*4:], postings[filled])
			filled++
		}
	}
	return postings[filled:]
}

// insertChain splices a fresh block for postings at pos, recursing to
// pos+1 for whatever doesn't fit in a single block. Every spliced block
// shares paddedKey, preserving sort order by construction.
func (idx *Index) insertChain(pos int, paddedKey []byte, postings []uint32) error {
	if len(postings) > idx.postingsPerBlock {
		if err := idx.spliceBlock(pos, paddedKey, postings[:idx.postingsPerBlock]); err != nil {
			return err
		}
		return idx.insertChain(pos+1, paddedKey, postings[idx.postingsPerBlock:])
	}
	return idx.spliceBlock(pos, paddedKey, postings)
}

// spliceBlock grows the region by one block, memmoves every block from pos
// onward forward by one slot, and writes the new block's contents at pos.
func (idx *Index) spliceBlock(pos int, paddedKey []byte, postings []uint32) error {
	oldEnd := idx.reg.Cursor()
	if _, err := idx.reg.Reserve(uint32(idx.blockSize)); err != nil {
		return fmt.Errorf("invindex: %w", err)
	}

	base := idx.reg.Base()
	start := idx.blockOffset(pos)
	copy(base[start+idx.blockSize:int(oldEnd)+idx.blockSize], base[start:oldEnd])

	block := base[start : start+idx.blockSize]
	copy(block[:idx.keySize], paddedKey)
	for s := 0; s < idx.postingsPerBlock; s++ {
		v := Sentinel
		if s < len(postings) {
			v = postings[s]
		}
		binary.LittleEndian.PutUint32(block[idx.keySize+s*4:], v)
	}
	return nil
}
