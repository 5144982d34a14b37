package archive

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Method identifies the compression algorithm of an entry.
type Method uint16

// Compression methods.
const (
	Store   Method = 0  // no compression
	Deflate Method = 8  // DEFLATE
	Zstd    Method = 93 // Zstandard, APPNOTE 6.3.7
)

func (m Method) String() string {
	switch m {
	case Store:
		return "stored"
	case Deflate:
		return "deflate"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// General purpose flag bits.
const (
	FlagEncrypted      uint16 = 0x0001
	FlagDataDescriptor uint16 = 0x0008 // sizes and CRC follow the payload
	FlagUTF8           uint16 = 0x0800
)

// SizeUnknown marks a size that is not known when the entry is created.
// The writer then records sizes in a trailing data descriptor or, for
// methods that cannot be delimited in a stream, buffers the payload.
const SizeUnknown = ^uint64(0)

// Entry describes one item in an archive.
//
// On the write side UncompressedSize and CRC32 are declared together: when
// UncompressedSize is not SizeUnknown, CRC32 must hold the CRC of the data
// that will be written, and both are checked at CloseEntry. A zero-value
// Entry therefore declares an empty payload; use NewEntry for streaming.
// For compressed methods a CompressedSize of zero or SizeUnknown means the
// compressed size is not known in advance.
type Entry struct {
	// Name is the slash-separated path of the entry. At most 65535 bytes.
	Name string

	// Comment is the per-entry comment stored in the central directory.
	Comment string

	// Method is the compression method.
	Method Method

	// Flags holds the general purpose bit flags as read from the header.
	Flags uint16

	// Modified is the last modification time.
	Modified time.Time

	// Accessed and Created are optional; the zero time means absent.
	Accessed time.Time
	Created  time.Time

	// CRC32 is the CRC-32 (IEEE) of the uncompressed data.
	CRC32 uint32

	// CompressedSize and UncompressedSize are the payload sizes in bytes.
	CompressedSize   uint64
	UncompressedSize uint64

	// Extra is the raw extra field block (tag, size, payload records).
	// The writer regenerates ZIP64 and timestamp records from the fields
	// above and drops any such records found here.
	Extra []byte

	// ExternalAttrs holds host-dependent file attributes.
	ExternalAttrs uint32

	// Offset is the byte offset of the local header. Set by the writer and
	// by the directory reader; the streaming reader sets it to the number of
	// archive bytes consumed before the header.
	Offset uint64
}

// NewEntry returns an entry with unknown sizes, suitable for streaming
// content whose length is not known up front.
func NewEntry(name string, method Method) *Entry {
	return &Entry{
		Name:             name,
		Method:           method,
		Modified:         time.Now(),
		CompressedSize:   SizeUnknown,
		UncompressedSize: SizeUnknown,
	}
}

// IsDir reports whether the entry names a directory.
func (e *Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// HasDataDescriptor reports whether sizes and CRC follow the payload.
func (e *Entry) HasDataDescriptor() bool {
	return e.Flags&FlagDataDescriptor != 0
}

func (e *Entry) sizesDeclared() bool {
	return e.UncompressedSize != SizeUnknown
}

func (e *Entry) compressedDeclared() bool {
	return e.CompressedSize != SizeUnknown && e.CompressedSize != 0
}

func (e *Entry) validate() error {
	if len(e.Name) > maxUint16 {
		return ErrNameTooLong
	}
	if len(e.Comment) > maxUint16 {
		return ErrCommentTooLong
	}
	if len(e.Extra) > maxUint16-maxGeneratedExtra {
		return ErrExtraTooLong
	}
	if e.Flags&FlagEncrypted != 0 {
		return ErrUnsupported
	}
	return nil
}

// needsUTF8Flag reports whether the name or comment requires the UTF-8 flag.
// Pure ASCII needs no flag; invalid UTF-8 must not claim it.
func needsUTF8Flag(s ...string) bool {
	need := false
	for _, v := range s {
		for i := 0; i < len(v); i++ {
			if v[i] >= utf8.RuneSelf {
				need = true
				break
			}
		}
		if !utf8.ValidString(v) {
			return false
		}
	}
	return need
}
