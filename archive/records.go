package archive

import (
	"math"

	"github.com/meigma/jarstream/internal/sizing"
	"github.com/meigma/jarstream/internal/wire"
)

// Record signatures and fixed lengths.
const (
	localHeaderSignature    = 0x04034b50
	dataDescriptorSignature = 0x08074b50
	centralHeaderSignature  = 0x02014b50
	directoryEndSignature   = 0x06054b50
	directory64EndSignature = 0x06064b50
	directory64LocSignature = 0x07064b50

	localHeaderLen      = 30 // + name + extra
	centralHeaderLen    = 46 // + name + extra + comment
	directoryEndLen     = 22 // + comment
	directory64EndLen   = 56
	directory64LocLen   = 20
	dataDescriptorLen   = 16 // signature, crc, two 32-bit sizes
	dataDescriptor64Len = 24 // signature, crc, two 64-bit sizes

	maxUint16         = math.MaxUint16
	sentinel32 uint32 = math.MaxUint32
	sentinel16 uint16 = math.MaxUint16
)

// Extra field tags.
const (
	zip64ExtraID   = 0x0001
	ntfsExtraID    = 0x000a
	extTimeExtraID = 0x5455
)

// maxGeneratedExtra bounds the extra bytes the writer adds on its own:
// a full ZIP64 record (4+24) and an NTFS timestamp record (4+32).
const maxGeneratedExtra = 28 + 36

// Versions needed to extract.
const (
	versionStore   = 10
	versionDeflate = 20
	versionZip64   = 45
	versionZstd    = 63
)

// sizeField is a size or offset whose wire form is resolved only when the
// record is serialized: a classic 32-bit value, or the ZIP64 sentinel with
// the real value moved to the ZIP64 extra record. Each field is promoted on
// its own.
type sizeField uint64

func (f sizeField) needs64() bool { return sizing.Needs64(uint64(f)) }

func (f sizeField) wire32() uint32 {
	if f.needs64() {
		return sentinel32
	}
	return uint32(f)
}

// zip64Extra builds a ZIP64 extra record holding only the promoted fields,
// in the order given. It returns nil when nothing needs promotion.
func zip64Extra(fields ...sizeField) []byte {
	n := 0
	for _, f := range fields {
		if f.needs64() {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	buf := make([]byte, 4+8*n)
	b := wire.WriteBuf(buf)
	b.Uint16(zip64ExtraID)
	b.Uint16(uint16(8 * n)) //nolint:gosec // at most 24
	for _, f := range fields {
		if f.needs64() {
			b.Uint64(uint64(f))
		}
	}
	return buf
}

// versionNeeded returns the minimum extractor version for an entry.
func versionNeeded(m Method, zip64 bool) uint16 {
	v := uint16(versionStore)
	switch m {
	case Deflate:
		v = versionDeflate
	case Zstd:
		v = versionZstd
	}
	if zip64 && v < versionZip64 {
		v = versionZip64
	}
	return v
}

// localHeader is the fixed part of a local file header plus its name and extra.
type localHeader struct {
	version uint16
	flags   uint16
	method  uint16
	dosTime uint16
	dosDate uint16
	crc     uint32
	csize   uint32
	usize   uint32
	name    string
	extra   []byte
}

func (h *localHeader) encode() []byte {
	buf := make([]byte, localHeaderLen+len(h.name)+len(h.extra))
	b := wire.WriteBuf(buf)
	b.Uint32(localHeaderSignature)
	b.Uint16(h.version)
	b.Uint16(h.flags)
	b.Uint16(h.method)
	b.Uint16(h.dosTime)
	b.Uint16(h.dosDate)
	b.Uint32(h.crc)
	b.Uint32(h.csize)
	b.Uint32(h.usize)
	b.Uint16(uint16(len(h.name)))  //nolint:gosec // validated by Entry.validate
	b.Uint16(uint16(len(h.extra))) //nolint:gosec // validated by Entry.validate
	b.Bytes([]byte(h.name))
	b.Bytes(h.extra)
	return buf
}

// decodeLocalFixed parses the 30-byte fixed prefix. It returns the name and
// extra lengths that follow.
func decodeLocalFixed(buf []byte) (h localHeader, nameLen, extraLen int, ok bool) {
	b := wire.ReadBuf(buf)
	if b.Uint32() != localHeaderSignature {
		return h, 0, 0, false
	}
	h.version = b.Uint16()
	h.flags = b.Uint16()
	h.method = b.Uint16()
	h.dosTime = b.Uint16()
	h.dosDate = b.Uint16()
	h.crc = b.Uint32()
	h.csize = b.Uint32()
	h.usize = b.Uint32()
	nameLen = int(b.Uint16())
	extraLen = int(b.Uint16())
	return h, nameLen, extraLen, true
}

// encodeDataDescriptor writes the trailer that follows a streamed payload.
// 64-bit sizes are used when either size needs promotion.
func encodeDataDescriptor(crc uint32, csize, usize uint64) []byte {
	if sizeField(csize).needs64() || sizeField(usize).needs64() {
		buf := make([]byte, dataDescriptor64Len)
		b := wire.WriteBuf(buf)
		b.Uint32(dataDescriptorSignature)
		b.Uint32(crc)
		b.Uint64(csize)
		b.Uint64(usize)
		return buf
	}
	buf := make([]byte, dataDescriptorLen)
	b := wire.WriteBuf(buf)
	b.Uint32(dataDescriptorSignature)
	b.Uint32(crc)
	b.Uint32(uint32(csize))
	b.Uint32(uint32(usize))
	return buf
}

// centralHeader is one central directory record.
type centralHeader struct {
	creatorVersion uint16
	readerVersion  uint16
	flags          uint16
	method         uint16
	dosTime        uint16
	dosDate        uint16
	crc            uint32
	csize          sizeField
	usize          sizeField
	offset         sizeField
	externalAttrs  uint32
	name           string
	extra          []byte // without the ZIP64 record
	comment        string
}

func (h *centralHeader) encode() ([]byte, error) {
	extra := append(zip64Extra(h.usize, h.csize, h.offset), h.extra...)
	if len(extra) > maxUint16 {
		return nil, ErrExtraTooLong
	}
	buf := make([]byte, centralHeaderLen+len(h.name)+len(extra)+len(h.comment))
	b := wire.WriteBuf(buf)
	b.Uint32(centralHeaderSignature)
	b.Uint16(h.creatorVersion)
	b.Uint16(h.readerVersion)
	b.Uint16(h.flags)
	b.Uint16(h.method)
	b.Uint16(h.dosTime)
	b.Uint16(h.dosDate)
	b.Uint32(h.crc)
	b.Uint32(h.csize.wire32())
	b.Uint32(h.usize.wire32())
	b.Uint16(uint16(len(h.name)))    //nolint:gosec // validated by Entry.validate
	b.Uint16(uint16(len(extra)))     //nolint:gosec // checked above
	b.Uint16(uint16(len(h.comment))) //nolint:gosec // validated by Entry.validate
	b.Uint16(0)                      // disk number start
	b.Uint16(0)                      // internal attributes
	b.Uint32(h.externalAttrs)
	b.Uint32(h.offset.wire32())
	b.Bytes([]byte(h.name))
	b.Bytes(extra)
	b.Bytes([]byte(h.comment))
	return buf, nil
}

// directoryEnd holds the values of the end records, already widened to 64 bits.
type directoryEnd struct {
	count   uint64
	size    uint64
	offset  uint64
	comment string
	zip64   bool // read side: a ZIP64 end record was present
}

func (d *directoryEnd) needsZip64() bool {
	return d.count > sizing.MaxCount16 || sizing.Needs64(d.size) || sizing.Needs64(d.offset)
}

// encode writes the optional ZIP64 end record and locator followed by the
// classic end record. zip64At is the archive offset where the ZIP64 end
// record will land.
func (d *directoryEnd) encode(zip64At uint64) []byte {
	var out []byte
	count16 := uint16(d.count) //nolint:gosec // replaced by sentinel when too large
	size32 := sizeField(d.size).wire32()
	offset32 := sizeField(d.offset).wire32()

	if d.needsZip64() {
		buf := make([]byte, directory64EndLen+directory64LocLen)
		b := wire.WriteBuf(buf)
		b.Uint32(directory64EndSignature)
		b.Uint64(directory64EndLen - 12) // size of the remaining record
		b.Uint16(versionZip64)           // version made by
		b.Uint16(versionZip64)           // version needed
		b.Uint32(0)                      // this disk
		b.Uint32(0)                      // disk with the central directory
		b.Uint64(d.count)                // entries on this disk
		b.Uint64(d.count)                // entries total
		b.Uint64(d.size)
		b.Uint64(d.offset)

		b.Uint32(directory64LocSignature)
		b.Uint32(0) // disk with the ZIP64 end record
		b.Uint64(zip64At)
		b.Uint32(1) // total disks
		out = buf

		if d.count > sizing.MaxCount16 {
			count16 = sentinel16
		}
	}

	buf := make([]byte, directoryEndLen+len(d.comment))
	b := wire.WriteBuf(buf)
	b.Uint32(directoryEndSignature)
	b.Uint16(0) // this disk
	b.Uint16(0) // disk with the central directory
	b.Uint16(count16)
	b.Uint16(count16)
	b.Uint32(size32)
	b.Uint32(offset32)
	b.Uint16(uint16(len(d.comment))) //nolint:gosec // validated by SetComment
	b.Bytes([]byte(d.comment))
	return append(out, buf...)
}
