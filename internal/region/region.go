// Package region implements the mmap-backed, append-only byte region that
// backs every on-disk file the store touches: the vector region, the
// row->payload offset map, the payload region, and the inverted index.
//
// Each region is a single file whose first four bytes hold a persisted
// write cursor. Everything past the cursor is undefined and must never be
// read. The pattern mirrors the teacher's own mmap lifecycle in
// internal/index/BTreeIndex.go: open-or-create, mmap with PROT_READ|PROT_WRITE
// and MAP_SHARED, and Msync on demand rather than on every write.
package region

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// headerSize is the width of the persisted write-cursor field.
const headerSize = 4

// ErrCapacityExceeded is returned by Append/Reserve when the region has no
// room left for the requested bytes.
var ErrCapacityExceeded = errors.New("region: capacity exceeded")

// Region is a single mmap-backed append-only file with a persisted cursor.
type Region struct {
	path     string
	file     *os.File
	data     []byte
	capacity uint32
	cursor   uint32
}

// Open opens path if it exists (adopting its size as the capacity and its
// header as the cursor) or creates it, zero-truncated to capacity bytes
// with cursor set to 4, if it does not.
func Open(path string, capacity uint32) (*Region, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("region: open %s: %w", path, err)
	}

	var size int64
	if existed {
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("region: stat %s: %w", path, err)
		}
		size = info.Size()
	} else {
		size = int64(capacity)
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("region: truncate %s: %w", path, err)
		}
	}

	if size < headerSize {
		file.Close()
		return nil, fmt.Errorf("region: %s smaller than header (%d bytes)", path, size)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("region: mmap %s: %w", path, err)
	}

	r := &Region{
		path:     path,
		file:     file,
		data:     data,
		capacity: uint32(size),
	}

	if existed {
		r.cursor = readCursor(data)
	} else {
		r.cursor = headerSize
		writeCursor(data, r.cursor)
	}

	return r, nil
}

func readCursor(data []byte) uint32 {
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
}

func writeCursor(data []byte, v uint32) {
	data[0] = byte(v)
	data[1] = byte(v >> 8)
	data[2] = byte(v >> 16)
	data[3] = byte(v >> 24)
}

// Capacity reports the region's total size in bytes, header included.
func (r *Region) Capacity() uint32 { return r.capacity }

// Cursor reports the current write cursor.
func (r *Region) Cursor() uint32 { return r.cursor }

// Append copies b at the current cursor and advances it, failing with
// ErrCapacityExceeded (and leaving state unchanged) if there isn't room.
func (r *Region) Append(b []byte) (uint32, error) {
	offset, err := r.Reserve(uint32(len(b)))
	if err != nil {
		return 0, err
	}
	copy(r.data[offset:offset+uint32(len(b))], b)
	return offset, nil
}

// Reserve advances the cursor by n bytes without writing anything, handing
// back the offset the caller should now fill in (directly, via Base, or via
// WriteAt). It exists for the inverted index's block-splice insertion,
// which must grow the region before shifting existing bytes into the new
// space.
func (r *Region) Reserve(n uint32) (uint32, error) {
	if r.cursor+n > r.capacity {
		return 0, fmt.Errorf("%w: region %s needs %d more bytes, has %d", ErrCapacityExceeded, r.path, n, r.capacity-r.cursor)
	}
	offset := r.cursor
	r.cursor += n
	return offset, nil
}

// WriteAt is an unchecked positional write; the caller is responsible for
// bounds (used by the inverted index during block shifts).
func (r *Region) WriteAt(offset uint32, b []byte) {
	copy(r.data[offset:offset+uint32(len(b))], b)
}

// Base returns the raw mapping, cursor header included, for direct random
// reads and for the splice logic that needs to memmove bytes in place.
func (r *Region) Base() []byte { return r.data }

// FlushCursor persists the current cursor into the region's header.
func (r *Region) FlushCursor() error {
	writeCursor(r.data, r.cursor)
	return nil
}

// Close flushes the cursor, syncs the mapping, unmaps it, and closes the
// file descriptor. Per the design's destructor-driven-flush note, the
// cursor flush always runs, even if unmapping later fails.
func (r *Region) Close() error {
	flushErr := r.FlushCursor()

	var syncErr, unmapErr error
	if r.data != nil {
		syncErr = unix.Msync(r.data, unix.MS_SYNC)
		unmapErr = unix.Munmap(r.data)
		r.data = nil
	}
	closeErr := r.file.Close()

	for _, err := range []error{flushErr, syncErr, unmapErr, closeErr} {
		if err != nil {
			return fmt.Errorf("region: close %s: %w", r.path, err)
		}
	}
	return nil
}
