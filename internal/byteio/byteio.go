// Package byteio provides unaligned little-endian reads and writes of u32
// and f32 values over raw byte regions, the way the rest of the store reads
// directly out of mmap'd slices without ever casting through an unaligned
// pointer.
package byteio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Size in bytes of both supported value kinds.
const WordSize = 4

// DecodeError reports a malformed fixed-width field during decode.
type DecodeError struct {
	Want int
	Got  int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("byteio: decode error: want %d bytes, got %d", e.Want, e.Got)
}

// ReadU32 reads a little-endian uint32 from the first 4 bytes of buf.
// Unlike ReadF32, it always consumes exactly 4 bytes and never fails on a
// longer buffer — callers slice to size themselves.
func ReadU32(buf []byte) (uint32, error) {
	if len(buf) < WordSize {
		return 0, &DecodeError{Want: WordSize, Got: len(buf)}
	}
	return binary.LittleEndian.Uint32(buf[:WordSize]), nil
}

// WriteU32 writes v as little-endian into the first 4 bytes of buf.
func WriteU32(buf []byte, v uint32) error {
	if len(buf) < WordSize {
		return &DecodeError{Want: WordSize, Got: len(buf)}
	}
	binary.LittleEndian.PutUint32(buf[:WordSize], v)
	return nil
}

// ReadF32 reads a little-endian float32 from buf, which must be exactly 4
// bytes — a length mismatch is a DecodeError, not a silent truncation.
func ReadF32(buf []byte) (float32, error) {
	if len(buf) != WordSize {
		return 0, &DecodeError{Want: WordSize, Got: len(buf)}
	}
	bits := binary.LittleEndian.Uint32(buf)
	return math.Float32frombits(bits), nil
}

// WriteF32 writes v as little-endian into the first 4 bytes of buf.
func WriteF32(buf []byte, v float32) error {
	if len(buf) < WordSize {
		return &DecodeError{Want: WordSize, Got: len(buf)}
	}
	binary.LittleEndian.PutUint32(buf[:WordSize], math.Float32bits(v))
	return nil
}

// EncodeVector serializes a vector of float32s into its little-endian wire
// form (D*4 bytes).
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*WordSize)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*WordSize:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector reads a D-length float32 vector back out of its wire form.
// buf's length must be a multiple of 4.
func DecodeVector(buf []byte) ([]float32, error) {
	if len(buf)%WordSize != 0 {
		return nil, &DecodeError{Want: 0, Got: len(buf)}
	}
	vec := make([]float32, len(buf)/WordSize)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*WordSize:]))
	}
	return vec, nil
}
