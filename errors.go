package embedstore

import (
	"github.com/podcopic-labs/embedstore/internal/invindex"
	"github.com/podcopic-labs/embedstore/internal/vstore"
)

// ErrDimensionMismatch is returned by Add when the vector length doesn't
// match the store's dimension.
var ErrDimensionMismatch = vstore.ErrDimensionMismatch

// ErrStateInconsistent means the store directory holds a partial set of
// data files — a fatal, non-recoverable initialization error.
var ErrStateInconsistent = vstore.ErrStateInconsistent

// CapacityExceededError is returned by Add when appending would exceed a
// region's configured capacity; it wraps the underlying region error.
// Region names one of "vector", "offset_map", "payload", or "index".
type CapacityExceededError = vstore.CapacityExceededError

// ErrKeyTooLong is returned when an inverted-index keyword exceeds the
// index's configured key width.
type ErrKeyTooLong = invindex.ErrKeyTooLong
