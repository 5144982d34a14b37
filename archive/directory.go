package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/jarstream/internal/sizing"
	"github.com/meigma/jarstream/internal/wire"
)

// maxDirectoryEndSearch bounds the backward search for the end record:
// the fixed record plus the longest possible comment.
const maxDirectoryEndSearch = directoryEndLen + maxUint16

// Directory is the central directory of an archive available for random
// access. Unlike Reader it trusts the directory, so entries written after
// the payloads they describe are visible before any payload is read.
type Directory struct {
	ra   io.ReaderAt
	size int64
	opts []ReaderOption

	// Entries lists the central directory records in stored order.
	Entries []*Entry

	// Comment is the archive comment.
	Comment string

	zip64 bool
	index map[string]*Entry
}

// ReadDirectory locates and parses the central directory of the archive
// held by ra, which is size bytes long. Options are applied to the readers
// returned by Open.
func ReadDirectory(ra io.ReaderAt, size int64, opts ...ReaderOption) (*Directory, error) {
	end, err := readDirectoryEnd(ra, size)
	if err != nil {
		return nil, err
	}
	d := &Directory{
		ra:      ra,
		size:    size,
		opts:    opts,
		Comment: end.comment,
		zip64:   end.zip64,
		index:   make(map[string]*Entry),
	}

	dirEnd, err := sizing.Add(end.offset, end.size, ErrMalformed)
	if err != nil || dirEnd > uint64(size) { //nolint:gosec // size is non-negative
		return nil, fmt.Errorf("%w: central directory [%d, +%d) outside archive of %d bytes",
			ErrMalformed, end.offset, end.size, size)
	}
	if end.count > end.size/centralHeaderLen {
		return nil, fmt.Errorf("%w: %d entries cannot fit in %d directory bytes", ErrMalformed, end.count, end.size)
	}

	sr := io.NewSectionReader(ra, int64(end.offset), int64(end.size)) //nolint:gosec // bounded by size above
	br := bufio.NewReader(sr)
	d.Entries = make([]*Entry, 0, end.count)
	for i := uint64(0); i < end.count; i++ {
		e, err := readCentralHeader(br)
		if err != nil {
			return nil, fmt.Errorf("central record %d: %w", i, err)
		}
		d.Entries = append(d.Entries, e)
		if _, ok := d.index[e.Name]; !ok {
			d.index[e.Name] = e
		}
	}
	return d, nil
}

// Zip64 reports whether the archive carries a ZIP64 end record.
func (d *Directory) Zip64() bool {
	return d.zip64
}

// Lookup returns the first entry with the given name, or nil.
func (d *Directory) Lookup(name string) *Entry {
	return d.index[name]
}

// Open returns a reader over the decompressed bytes of e, which must come
// from d.Entries. The local header is parsed again and the payload checked
// as Reader does. A local record whose method, CRC-32 or sizes differ from
// the central record fails with ErrIntegrity.
func (d *Directory) Open(e *Entry) (io.Reader, error) {
	if e.Offset >= uint64(d.size) { //nolint:gosec // size is non-negative
		return nil, fmt.Errorf("%w: %q offset %d past end of archive", ErrMalformed, e.Name, e.Offset)
	}
	off := int64(e.Offset) //nolint:gosec // checked above
	r := NewReader(io.NewSectionReader(d.ra, off, d.size-off), d.opts...)
	local, err := r.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no local header for %q at offset %d", ErrMalformed, e.Name, e.Offset)
		}
		return nil, err
	}
	if local.Name != e.Name {
		return nil, fmt.Errorf("%w: local header names %q, directory names %q", ErrMalformed, local.Name, e.Name)
	}
	if !local.HasDataDescriptor() {
		if err := matchRecords(e, local); err != nil {
			return nil, err
		}
	}
	return &directoryReader{r: r, central: e, local: local}, nil
}

// directoryReader reads an entry opened through the central directory and,
// at the end of the payload, checks the descriptor values against the
// central record.
type directoryReader struct {
	r       *Reader
	central *Entry
	local   *Entry
}

func (d *directoryReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if errors.Is(err, io.EOF) {
		if merr := matchRecords(d.central, d.local); merr != nil {
			return n, merr
		}
	}
	return n, err
}

// matchRecords fails with ErrIntegrity if the local record of an entry
// disagrees with its central record.
func matchRecords(central, local *Entry) error {
	switch {
	case central.Method != local.Method:
		return fmt.Errorf("%w: %q method is %s locally, %s in the directory", ErrIntegrity, central.Name, local.Method, central.Method)
	case central.CRC32 != local.CRC32:
		return fmt.Errorf("%w: %q crc-32 is %#08x locally, %#08x in the directory", ErrIntegrity, central.Name, local.CRC32, central.CRC32)
	case central.CompressedSize != local.CompressedSize:
		return fmt.Errorf("%w: %q compressed size is %d locally, %d in the directory",
			ErrIntegrity, central.Name, local.CompressedSize, central.CompressedSize)
	case central.UncompressedSize != local.UncompressedSize:
		return fmt.Errorf("%w: %q size is %d locally, %d in the directory",
			ErrIntegrity, central.Name, local.UncompressedSize, central.UncompressedSize)
	}
	return nil
}

func readDirectoryEnd(ra io.ReaderAt, size int64) (*directoryEnd, error) {
	if size < directoryEndLen {
		return nil, fmt.Errorf("%w: %d bytes is too short for an archive", ErrMalformed, size)
	}
	search := min(size, int64(maxDirectoryEndSearch))
	buf := make([]byte, search)
	if _, err := ra.ReadAt(buf, size-search); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	at := findDirectoryEnd(buf)
	if at < 0 {
		return nil, fmt.Errorf("%w: end of central directory not found", ErrMalformed)
	}
	b := wire.ReadBuf(buf[at+4:])
	disk, dirDisk := b.Uint16(), b.Uint16()
	if disk != 0 || dirDisk != 0 {
		return nil, fmt.Errorf("%w: multi-disk archive", ErrUnsupported)
	}
	b.Uint16() // entries on this disk
	end := &directoryEnd{
		count:  uint64(b.Uint16()),
		size:   uint64(b.Uint32()),
		offset: uint64(b.Uint32()),
	}
	commentLen := int(b.Uint16())
	end.comment = string(b[:commentLen])

	endOffset := size - search + int64(at)
	if endOffset < directory64LocLen {
		return end, nil
	}
	var loc [directory64LocLen]byte
	if _, err := ra.ReadAt(loc[:], endOffset-directory64LocLen); err != nil {
		return nil, err
	}
	lb := wire.ReadBuf(loc[:])
	if lb.Uint32() != directory64LocSignature {
		return end, nil
	}
	if lb.Uint32() != 0 {
		return nil, fmt.Errorf("%w: multi-disk archive", ErrUnsupported)
	}
	z64At := lb.Uint64()
	if z64At > uint64(endOffset) { //nolint:gosec // endOffset is non-negative
		return nil, fmt.Errorf("%w: zip64 end record offset %d past end record", ErrMalformed, z64At)
	}

	var rec [directory64EndLen]byte
	if _, err := ra.ReadAt(rec[:], int64(z64At)); err != nil { //nolint:gosec // checked above
		return nil, truncated(err, "zip64 end record", z64At)
	}
	rb := wire.ReadBuf(rec[:])
	if rb.Uint32() != directory64EndSignature {
		return nil, fmt.Errorf("%w: no zip64 end record at offset %d", ErrMalformed, z64At)
	}
	rb.Uint64() // record size
	rb.Uint16() // version made by
	rb.Uint16() // version needed
	if rb.Uint32() != 0 || rb.Uint32() != 0 {
		return nil, fmt.Errorf("%w: multi-disk archive", ErrUnsupported)
	}
	rb.Uint64() // entries on this disk
	end.count = rb.Uint64()
	end.size = rb.Uint64()
	end.offset = rb.Uint64()
	end.zip64 = true
	return end, nil
}

// findDirectoryEnd returns the index of the last end record in buf whose
// comment length is consistent with the bytes that follow it, or -1.
func findDirectoryEnd(buf []byte) int {
	sig := []byte{0x50, 0x4b, 0x05, 0x06}
	for i := len(buf) - directoryEndLen; i >= 0; i-- {
		if !bytes.Equal(buf[i:i+4], sig) {
			continue
		}
		commentLen := int(buf[i+directoryEndLen-2]) | int(buf[i+directoryEndLen-1])<<8
		if i+directoryEndLen+commentLen <= len(buf) {
			return i
		}
	}
	return -1
}

func readCentralHeader(r io.Reader) (*Entry, error) {
	var fixed [centralHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, truncated(err, "central record", 0)
	}
	b := wire.ReadBuf(fixed[:])
	if sig := b.Uint32(); sig != centralHeaderSignature {
		return nil, fmt.Errorf("%w: unexpected central record signature %#08x", ErrMalformed, sig)
	}
	b.Uint16() // version made by
	b.Uint16() // version needed
	flags := b.Uint16()
	method := b.Uint16()
	dosTime := b.Uint16()
	dosDate := b.Uint16()
	crc := b.Uint32()
	csize := b.Uint32()
	usize := b.Uint32()
	nameLen := int(b.Uint16())
	extraLen := int(b.Uint16())
	commentLen := int(b.Uint16())
	if disk := b.Uint16(); disk != 0 && disk != sentinel16 {
		return nil, fmt.Errorf("%w: entry on disk %d", ErrUnsupported, disk)
	}
	b.Uint16() // internal attributes
	external := b.Uint32()
	offset := b.Uint32()

	rest := make([]byte, nameLen+extraLen+commentLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, truncated(err, "central record", 0)
	}
	e := &Entry{
		Name:             string(rest[:nameLen]),
		Comment:          string(rest[nameLen+extraLen:]),
		Method:           Method(method),
		Flags:            flags,
		Modified:         wire.DOSToTime(dosDate, dosTime),
		CRC32:            crc,
		CompressedSize:   uint64(csize),
		UncompressedSize: uint64(usize),
		ExternalAttrs:    external,
		Offset:           uint64(offset),
	}
	if extraLen > 0 {
		e.Extra = rest[nameLen : nameLen+extraLen]
	}
	missing, err := parseExtra(e, zip64Need{
		usize:  usize == sentinel32,
		csize:  csize == sentinel32,
		offset: offset == sentinel32,
	})
	if err != nil {
		return nil, err
	}
	if missing != (zip64Need{}) {
		return nil, fmt.Errorf("%w: %q has size sentinels but no zip64 record", ErrMalformed, e.Name)
	}
	return e, nil
}
