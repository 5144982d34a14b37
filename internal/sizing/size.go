// Package sizing provides overflow-checked size arithmetic shared by the
// archive codec and the verification layer.
package sizing

import (
	"io"
	"math"
)

// Max32 is the largest value a classic 32-bit ZIP size or offset field can
// hold without being mistaken for the ZIP64 sentinel.
const Max32 = math.MaxUint32 - 1

// MaxCount16 is the largest entry count the classic end record can hold
// without being mistaken for the ZIP64 count sentinel.
const MaxCount16 = math.MaxUint16 - 1

// Needs64 reports whether v must be promoted to a ZIP64 field.
func Needs64(v uint64) bool {
	return v > Max32
}

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// Add returns a+b, or overflowErr when the sum wraps.
func Add(a, b uint64, overflowErr error) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, overflowErr
	}
	return sum, nil
}

// ReadAllWithLimit reads r to EOF, failing with overflowErr as soon as more
// than maxSize bytes are seen. A zero maxSize disables the limit.
func ReadAllWithLimit(r io.Reader, maxSize uint64, overflowErr error) ([]byte, error) {
	if maxSize == 0 {
		return io.ReadAll(r)
	}
	if maxSize > uint64(math.MaxInt-1) {
		return nil, overflowErr
	}
	lr := &io.LimitedReader{R: r, N: int64(maxSize) + 1} //nolint:gosec // checked above
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > maxSize {
		return nil, overflowErr
	}
	return data, nil
}
