// Package wire provides the fixed-width little-endian field codec used by
// every ZIP record, plus conversions between the archive timestamp encodings
// and time.Time.
package wire

import "encoding/binary"

// ReadBuf decodes little-endian fields from the front of a byte slice.
// Callers check Len before reading; reads past the end panic.
type ReadBuf []byte

// Len returns the number of undecoded bytes.
func (b *ReadBuf) Len() int { return len(*b) }

// Uint8 consumes one byte.
func (b *ReadBuf) Uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

// Uint16 consumes two bytes.
func (b *ReadBuf) Uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

// Uint32 consumes four bytes.
func (b *ReadBuf) Uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

// Uint64 consumes eight bytes.
func (b *ReadBuf) Uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

// Sub consumes n bytes and returns them as a new ReadBuf.
func (b *ReadBuf) Sub(n int) ReadBuf {
	b2 := (*b)[:n]
	*b = (*b)[n:]
	return b2
}

// WriteBuf encodes little-endian fields into a preallocated slice.
// The slice must be large enough for every field written.
type WriteBuf []byte

// Uint8 writes one byte.
func (b *WriteBuf) Uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

// Uint16 writes two bytes.
func (b *WriteBuf) Uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

// Uint32 writes four bytes.
func (b *WriteBuf) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

// Uint64 writes eight bytes.
func (b *WriteBuf) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

// Bytes copies p.
func (b *WriteBuf) Bytes(p []byte) {
	n := copy(*b, p)
	*b = (*b)[n:]
}
