// Package embedstore is a persistent, embedded vector store with optional
// hybrid (vector + keyword) nearest-neighbor retrieval. It stores
// fixed-dimension float32 vectors paired with arbitrary byte payloads in
// three memory-mapped, append-only files, and answers top-k nearest
// queries with a parallel brute-force scan across configurable distance
// metrics. An optional on-disk inverted index augments vector distance
// with keyword overlap for hybrid ranking.
//
// A Store occupies one directory. Close persists every region's write
// cursor; reopening the same directory recovers the exact write position
// and every previously added entry. There is no deletion, no update, and
// no approximate indexing — see DESIGN.md for the full list of non-goals.
package embedstore

import (
	"github.com/podcopic-labs/embedstore/internal/distance"
	"github.com/podcopic-labs/embedstore/internal/vstore"
)

// Metric selects the distance kernel used by TopK and TopKHybrid.
type Metric = distance.Metric

const (
	Cosine    = distance.Cosine
	Manhattan = distance.Manhattan
	L2Squared = distance.L2Squared
)

// Result is one ranked hit: a score (lower is better, ascending order in
// TopK/TopKHybrid results) paired with the payload stored alongside the
// matching vector.
type Result = vstore.Result

// Store is a persistent, embedded vector store. See Open.
type Store struct {
	inner *vstore.Store
}

// Open creates a fresh store directory (zero-initialized to vectorCapacity
// and payloadCapacity bytes per region) or reopens an existing one,
// adopting its dimension, capacities, and hybrid flag from the files
// already on disk. dimension, vectorCapacity, payloadCapacity, and
// hybridEnabled are only consulted when the directory holds no store
// manifest yet.
//
// Either every one of the store's data files exists, or none do — a
// directory holding a partial set is a fatal initialization error.
func Open(dir string, dimension int, vectorCapacity, payloadCapacity uint32, hybridEnabled bool) (*Store, error) {
	inner, err := vstore.Open(dir, dimension, vectorCapacity, payloadCapacity, hybridEnabled)
	if err != nil {
		return nil, err
	}
	return &Store{inner: inner}, nil
}

// Add appends a D-length vector and its payload to the store. When hybrid
// search is enabled, the payload is tokenized and one posting per distinct
// keyword is recorded against this row.
//
// A CapacityExceededError identifies which region (vector, offset_map,
// payload, or index) filled; once Add returns such an error, this Store
// instance must not be written to again — see the package-level notes on
// partial-failure in DESIGN.md.
func (s *Store) Add(vector []float32, payload []byte) error {
	return s.inner.Add(vector, payload)
}

// TopK returns the k closest payloads to query under metric, computed by
// fanning the scan across numWorkers goroutines, best first. A dimension
// mismatch returns an empty slice rather than an error.
func (s *Store) TopK(query []float32, k, numWorkers int, metric Metric) []Result {
	return s.inner.TopK(query, k, numWorkers, metric)
}

// TopKHybrid ranks rows by a composite of vector distance and keyword
// overlap with queryText: score = (1-norm)*keywordWeight +
// dist*(1-keywordWeight), lower is better. It requires the store to have
// been opened with hybridEnabled and degenerates to TopK when keywordWeight
// is 0.
func (s *Store) TopKHybrid(queryText string, queryVec []float32, k, numWorkers int, metric Metric, keywordWeight float32) []Result {
	return s.inner.TopKHybrid(queryText, queryVec, k, numWorkers, metric, keywordWeight)
}

// Close flushes every region's write cursor to disk and releases file
// descriptors. Safe to call more than once.
func (s *Store) Close() error {
	return s.inner.Close()
}
