// Package vstore is the EmbeddingStore coordinator: three (or four, with
// hybrid enabled) region.Region files, an optional inverted index, and the
// add / top-k / top-k-hybrid operations that tie them together. It plays
// the role the teacher's internal/storage/vector_storage.go plays for
// ShibuDb's FAISS-backed engine, but the ranking itself is a from-scratch
// parallel brute-force scan (see internal/scan) rather than a delegated
// index, since the spec's non-goals rule out approximate indexes.
package vstore

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/podcopic-labs/embedstore/internal/byteio"
	"github.com/podcopic-labs/embedstore/internal/distance"
	"github.com/podcopic-labs/embedstore/internal/invindex"
	"github.com/podcopic-labs/embedstore/internal/region"
	"github.com/podcopic-labs/embedstore/internal/scan"
	"github.com/podcopic-labs/embedstore/internal/tokenize"
)

const (
	vectorFileName  = "embedding_store.bin"
	offsetFileName  = "embedding_to_object_map.bin"
	payloadFileName = "object_store.bin"
	indexFileName   = "inverted_index.bin"
)

// Result is one ranked hit: a score (lower is better) paired with the
// payload stored alongside the matching vector.
type Result struct {
	Score   float32
	Payload []byte
}

// Store coordinates the vector region, the row->payload offset map, the
// payload region, and an optional inverted index for hybrid search.
type Store struct {
	dir           string
	dimension     int
	hybridEnabled bool

	vectorRegion  *region.Region
	offsetRegion  *region.Region
	payloadRegion *region.Region
	invIndex      *invindex.Index
	tokenizer     *tokenize.Tokenizer

	blockSize, keySize int
	invertedCapacity   uint32
	createdUnix        int64

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Open creates a fresh store (zero-initialized to the given capacities) or
// reopens an existing one (adopting capacities from the files on disk and
// the dimension/hybrid flag from the persisted manifest), per the
// construction rules in spec.md §4.5. Either all of the store's data files
// exist or none do; a partial set is ErrStateInconsistent.
func Open(dir string, dimension int, vectorCapacity, payloadCapacity uint32, hybridEnabled bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	man, manExists, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}

	blockSize, keySize := invindex.DefaultBlockSize, invindex.DefaultKeySize
	invertedCapacity := payloadCapacity
	createdUnix := time.Now().Unix()

	if manExists {
		dimension = man.Dimension
		hybridEnabled = man.HybridEnabled
		vectorCapacity = man.VectorCapacity
		payloadCapacity = man.PayloadCapacity
		if man.InvertedBlockSize != 0 {
			blockSize = man.InvertedBlockSize
		}
		if man.InvertedKeySize != 0 {
			keySize = man.InvertedKeySize
		}
		if man.InvertedCapacity != 0 {
			invertedCapacity = man.InvertedCapacity
		}
		createdUnix = man.CreatedUnix
	}

	vectorPath := filepath.Join(dir, vectorFileName)
	offsetPath := filepath.Join(dir, offsetFileName)
	payloadPath := filepath.Join(dir, payloadFileName)
	indexPath := filepath.Join(dir, indexFileName)

	required := []string{vectorPath, offsetPath, payloadPath}
	if hybridEnabled {
		required = append(required, indexPath)
	}
	if err := checkAllOrNothing(required); err != nil {
		return nil, err
	}

	vectorRegion, err := region.Open(vectorPath, vectorCapacity)
	if err != nil {
		return nil, err
	}
	offsetMapCapacity := 4 + (vectorCapacity/uint32(dimension*4))*4
	offsetRegion, err := region.Open(offsetPath, offsetMapCapacity)
	if err != nil {
		vectorRegion.Close()
		return nil, err
	}
	payloadRegion, err := region.Open(payloadPath, payloadCapacity)
	if err != nil {
		vectorRegion.Close()
		offsetRegion.Close()
		return nil, err
	}

	var invIdx *invindex.Index
	var tok *tokenize.Tokenizer
	if hybridEnabled {
		invIdx, err = invindex.Open(indexPath, blockSize, keySize, invertedCapacity)
		if err != nil {
			vectorRegion.Close()
			offsetRegion.Close()
			payloadRegion.Close()
			return nil, err
		}
		tok, err = tokenize.New()
		if err != nil {
			vectorRegion.Close()
			offsetRegion.Close()
			payloadRegion.Close()
			invIdx.Close()
			return nil, err
		}
	}

	s := &Store{
		dir:              dir,
		dimension:        dimension,
		hybridEnabled:    hybridEnabled,
		vectorRegion:     vectorRegion,
		offsetRegion:     offsetRegion,
		payloadRegion:    payloadRegion,
		invIndex:         invIdx,
		tokenizer:        tok,
		blockSize:        blockSize,
		keySize:          keySize,
		invertedCapacity: invertedCapacity,
		createdUnix:      createdUnix,
	}

	if !manExists {
		m := newManifest(dimension, vectorCapacity, payloadCapacity, hybridEnabled, blockSize, keySize, invertedCapacity, createdUnix)
		if err := saveManifest(dir, m); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

func checkAllOrNothing(paths []string) error {
	existing := 0
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing++
		}
	}
	if existing != 0 && existing != len(paths) {
		return ErrStateInconsistent
	}
	return nil
}

// rowCount is derived from the offset map's cursor, not tracked
// separately — one 4-byte slot per row, header excluded.
func (s *Store) rowCount() int {
	return int((s.offsetRegion.Cursor() - 4) / 4)
}

// Add appends vector and payload to their respective regions (and, when
// hybrid search is enabled, emits one posting per distinct keyword into
// the inverted index). A CapacityExceededError names which region filled;
// per spec.md §4.5's partial-failure note, the caller must treat that as
// terminal for this store instance rather than retrying further writes.
func (s *Store) Add(vector []float32, payload []byte) error {
	if len(vector) != s.dimension {
		return ErrDimensionMismatch
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rowIndex := s.rowCount()

	if _, err := s.vectorRegion.Append(byteio.EncodeVector(vector)); err != nil {
		return capacityErr("vector", err)
	}

	payloadOffset := s.payloadRegion.Cursor()
	offsetBuf := make([]byte, 4)
	if err := byteio.WriteU32(offsetBuf, payloadOffset); err != nil {
		return err
	}
	if _, err := s.offsetRegion.Append(offsetBuf); err != nil {
		return capacityErr("offset_map", err)
	}

	lenBuf := make([]byte, 4)
	if err := byteio.WriteU32(lenBuf, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := s.payloadRegion.Append(lenBuf); err != nil {
		return capacityErr("payload", err)
	}
	if len(payload) > 0 {
		if _, err := s.payloadRegion.Append(payload); err != nil {
			return capacityErr("payload", err)
		}
	}

	if s.hybridEnabled && s.invIndex != nil {
		seen := make(map[string]struct{})
		for _, w := range s.tokenizer.Tokenize(string(payload)) {
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			if err := s.invIndex.Insert(w, []uint32{uint32(rowIndex)}); err != nil {
				if errors.Is(err, region.ErrCapacityExceeded) {
					return capacityErr("index", err)
				}
				return err
			}
		}
	}

	return nil
}

// vectorBytes returns a view into the D*4-byte stored vector for row.
func (s *Store) vectorBytes(row int) []byte {
	start := 4 + row*s.dimension*4
	return s.vectorRegion.Base()[start : start+s.dimension*4]
}

// payloadAt copies out the payload stored for row.
func (s *Store) payloadAt(row int) []byte {
	offsetBuf := s.offsetRegion.Base()[4+row*4 : 4+row*4+4]
	offset, _ := byteio.ReadU32(offsetBuf)

	base := s.payloadRegion.Base()
	length, _ := byteio.ReadU32(base[offset : offset+4])

	out := make([]byte, length)
	copy(out, base[offset+4:offset+4+length])
	return out
}

func (s *Store) materialize(results []scan.Result) []Result {
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{Score: r.Score, Payload: s.payloadAt(r.Row)}
	}
	return out
}

// TopK ranks every row by metric(query, row) and returns the k closest
// payloads, best first. A dimension mismatch returns an empty slice, not
// an error, matching the source's query behavior.
func (s *Store) TopK(query []float32, k, numWorkers int, metric distance.Metric) []Result {
	if len(query) != s.dimension {
		return nil
	}
	distFn := func(row int) float32 {
		return distance.Compute(metric, query, s.vectorBytes(row), 0)
	}
	identity := func(_ int, d float32) float32 { return d }
	return s.materialize(scan.TopK(s.rowCount(), k, numWorkers, distFn, identity))
}

// TopKHybrid mixes keyword overlap with vector distance. It requires
// hybrid search to be enabled and degenerates to TopK when keywordWeight
// is zero.
func (s *Store) TopKHybrid(queryText string, queryVec []float32, k, numWorkers int, metric distance.Metric, keywordWeight float32) []Result {
	if !s.hybridEnabled || s.invIndex == nil {
		return nil
	}
	if len(queryVec) != s.dimension {
		return nil
	}
	if keywordWeight == 0 {
		return s.TopK(queryVec, k, numWorkers, metric)
	}

	hitCounts := make(map[int]int)
	seen := make(map[string]struct{})
	for _, w := range s.tokenizer.Tokenize(queryText) {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		postings, err := s.invIndex.Search(w)
		if err != nil {
			continue
		}
		for _, p := range postings {
			hitCounts[int(p)]++
		}
	}

	minC, maxC := 0, 0
	first := true
	for _, c := range hitCounts {
		if first {
			minC, maxC = c, c
			first = false
			continue
		}
		if c < minC {
			minC = c
		}
		if c > maxC {
			maxC = c
		}
	}

	normalize := func(row int) float32 {
		c, ok := hitCounts[row]
		if !ok {
			return 0
		}
		if maxC == minC {
			return 1
		}
		return float32(c-minC) / float32(maxC-minC)
	}

	distFn := func(row int) float32 {
		return distance.Compute(metric, queryVec, s.vectorBytes(row), 0)
	}
	scoreFn := func(row int, d float32) float32 {
		n := normalize(row)
		return (1-n)*keywordWeight + d*(1-keywordWeight)
	}
	return s.materialize(scan.TopK(s.rowCount(), k, numWorkers, distFn, scoreFn))
}

// Close flushes every region's cursor, persists the manifest, and releases
// file descriptors. It is safe to call more than once.
func (s *Store) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		m := newManifest(s.dimension, s.vectorRegion.Capacity(), s.payloadRegion.Capacity(), s.hybridEnabled, s.blockSize, s.keySize, s.invertedCapacity, s.createdUnix)
		if err := saveManifest(s.dir, m); err != nil {
			log.Printf("vstore: saving manifest failed: %v", err)
			firstErr = err
		}

		closers := []*region.Region{s.vectorRegion, s.offsetRegion, s.payloadRegion}
		for _, c := range closers {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if s.invIndex != nil {
			if err := s.invIndex.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
