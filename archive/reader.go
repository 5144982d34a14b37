package archive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"log/slog"

	"github.com/meigma/jarstream/internal/ioutil"
	"github.com/meigma/jarstream/internal/sizing"
	"github.com/meigma/jarstream/internal/wire"
)

const readerBufferSize = 64 << 10

// EntryObserver receives the decompressed bytes of every entry as the
// reader produces them.
//
// BeginEntry is called once the local header is parsed. Update is called
// with each chunk handed to the caller, in order. EndEntry is called only
// after the entry's CRC-32 and sizes have been checked against the bytes
// delivered; an entry that fails the check never reaches EndEntry.
type EntryObserver interface {
	BeginEntry(e *Entry)
	Update(p []byte)
	EndEntry(e *Entry)
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithObserver attaches an observer fed with every entry's bytes.
func WithObserver(o EntryObserver) ReaderOption {
	return func(r *Reader) {
		r.observer = o
	}
}

// WithLogger sets the logger for entry-level debug output.
// By default nothing is logged.
func WithLogger(logger *slog.Logger) ReaderOption {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxEntrySize limits the decompressed size of a single entry.
// Exceeding it fails the entry with ErrSizeOverflow. Zero means no limit.
func WithMaxEntrySize(n uint64) ReaderOption {
	return func(r *Reader) {
		r.maxEntrySize = n
	}
}

// WithDecompressor overrides the decompressor for a method on this reader.
func WithDecompressor(m Method, d Decompressor) ReaderOption {
	return func(r *Reader) {
		if r.decompressors == nil {
			r.decompressors = make(map[Method]Decompressor)
		}
		r.decompressors[m] = d
	}
}

// Reader decodes an archive from a forward-only byte stream.
//
// Entries are returned in stored order by Next; the entry's decompressed
// bytes are then available through Read. The central directory is never
// consulted: enumeration ends at the first central directory or end record.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	src *ioutil.CountingReader
	br  *bufio.Reader

	observer      EntryObserver
	logger        *slog.Logger
	maxEntrySize  uint64
	decompressors map[Method]Decompressor

	cur *payload
	err error // sticky; io.EOF once the entries are exhausted
}

// NewReader returns a Reader decoding entries from r.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	src := &ioutil.CountingReader{R: r}
	zr := &Reader{
		src:    src,
		br:     bufio.NewReaderSize(src, readerBufferSize),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(zr)
	}
	return zr
}

// offset returns the number of archive bytes consumed so far.
func (r *Reader) offset() uint64 {
	return r.src.N - uint64(r.br.Buffered())
}

// Next advances to the next entry. Any unread bytes of the current entry are
// drained first and checked like bytes the caller read. Next returns io.EOF
// when the central directory is reached.
//
// Sizes and CRC-32 carried in a data descriptor are filled into the returned
// Entry once its payload has been read to the end.
func (r *Reader) Next() (*Entry, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.cur != nil {
		if err := r.cur.drain(); err != nil {
			return nil, r.fail(err)
		}
		r.cur = nil
	}

	offset := r.offset()
	sig, err := r.br.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, r.fail(fmt.Errorf("%w: stream ends at offset %d without a central directory", ErrMalformed, offset))
		}
		return nil, r.fail(err)
	}
	switch v := binary.LittleEndian.Uint32(sig); v {
	case localHeaderSignature:
	case centralHeaderSignature, directoryEndSignature, directory64EndSignature:
		r.err = io.EOF
		return nil, io.EOF
	default:
		return nil, r.fail(fmt.Errorf("%w: unexpected signature %#08x at offset %d", ErrMalformed, v, offset))
	}

	e, zip64, err := r.readLocalHeader(offset)
	if err != nil {
		return nil, r.fail(err)
	}

	dec := r.decompressors[e.Method]
	if dec == nil {
		dec = lookupDecompressor(e.Method)
	}
	if dec == nil {
		return nil, r.fail(fmt.Errorf("%w: method %d for %q", ErrUnsupported, uint16(e.Method), e.Name))
	}

	src := &payloadSource{br: r.br}
	if !e.HasDataDescriptor() {
		src.limited = true
		src.remaining = e.CompressedSize
	}
	rc, err := dec(src)
	if err != nil {
		return nil, r.fail(fmt.Errorf("%w: %s decoder for %q: %w", ErrIntegrity, e.Method, e.Name, err))
	}

	r.cur = &payload{
		r:     r,
		entry: e,
		src:   src,
		dec:   rc,
		crc:   crc32.NewIEEE(),
		zip64: zip64,
	}
	r.logger.Debug("archive: entry",
		slog.String("name", e.Name),
		slog.String("method", e.Method.String()),
		slog.Bool("descriptor", e.HasDataDescriptor()),
		slog.Uint64("offset", offset))
	if r.observer != nil {
		r.observer.BeginEntry(e)
	}
	return e, nil
}

// Read reads decompressed bytes of the current entry. It returns io.EOF at
// the end of the entry once its CRC-32 and sizes have been checked, and an
// error wrapping ErrIntegrity if they do not match.
func (r *Reader) Read(p []byte) (int, error) {
	if r.cur == nil {
		if r.err != nil {
			return 0, r.err
		}
		return 0, ErrNoEntry
	}
	return r.cur.read(p)
}

// Offset returns the number of archive bytes consumed so far.
func (r *Reader) Offset() uint64 {
	return r.offset()
}

func (r *Reader) fail(err error) error {
	r.err = err
	r.cur = nil
	return err
}

// readLocalHeader consumes a local header at the current position. The
// returned flag reports whether a ZIP64 extra record was present.
func (r *Reader) readLocalHeader(offset uint64) (*Entry, bool, error) {
	var fixed [localHeaderLen]byte
	if _, err := io.ReadFull(r.br, fixed[:]); err != nil {
		return nil, false, truncated(err, "local header", offset)
	}
	h, nameLen, extraLen, _ := decodeLocalFixed(fixed[:])

	rest := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(r.br, rest); err != nil {
		return nil, false, truncated(err, "local header", offset)
	}

	e := &Entry{
		Name:             string(rest[:nameLen]),
		Method:           Method(h.method),
		Flags:            h.flags,
		Modified:         wire.DOSToTime(h.dosDate, h.dosTime),
		CRC32:            h.crc,
		CompressedSize:   uint64(h.csize),
		UncompressedSize: uint64(h.usize),
		Offset:           offset,
	}
	if extraLen > 0 {
		e.Extra = rest[nameLen:]
	}

	if e.Flags&FlagEncrypted != 0 {
		return nil, false, fmt.Errorf("%w: %q is encrypted", ErrUnsupported, e.Name)
	}

	zip64 := hasExtraTag(e.Extra, zip64ExtraID)
	descriptor := e.HasDataDescriptor()
	need := zip64Need{
		usize: h.usize == sentinel32,
		csize: h.csize == sentinel32,
	}
	missing, err := parseExtra(e, need)
	if err != nil {
		return nil, false, err
	}

	if descriptor {
		if !selfDelimiting(e.Method) {
			return nil, false, fmt.Errorf("%w: %s entry %q with a data descriptor", ErrUnsupported, e.Method, e.Name)
		}
		// Real values arrive in the descriptor.
		e.CRC32 = 0
		e.CompressedSize = 0
		e.UncompressedSize = 0
		return e, zip64, nil
	}

	if missing.csize || missing.usize {
		return nil, false, fmt.Errorf("%w: %q has size sentinels but no zip64 record", ErrMalformed, e.Name)
	}
	if e.Method == Store && e.CompressedSize != e.UncompressedSize {
		return nil, false, fmt.Errorf("%w: stored entry %q has compressed size %d and size %d",
			ErrMalformed, e.Name, e.CompressedSize, e.UncompressedSize)
	}
	return e, zip64, nil
}

// readDescriptor consumes the data descriptor after a streamed payload and
// copies its values into e. The signature is optional: when absent the same
// bytes are taken as starting with the CRC-32 and the unused tail is left in
// the stream.
func (r *Reader) readDescriptor(e *Entry, wide bool) error {
	size := dataDescriptorLen
	if wide {
		size = dataDescriptor64Len
	}
	offset := r.offset()
	buf, err := r.br.Peek(size)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	b := wire.ReadBuf(buf)
	consumed := size
	switch {
	case len(buf) >= 4 && binary.LittleEndian.Uint32(buf) == dataDescriptorSignature:
		if len(buf) < size {
			return truncated(io.ErrUnexpectedEOF, "data descriptor", offset)
		}
		b.Uint32()
	case len(buf) >= size-4:
		consumed = size - 4
	default:
		return truncated(io.ErrUnexpectedEOF, "data descriptor", offset)
	}

	e.CRC32 = b.Uint32()
	if wide {
		e.CompressedSize = b.Uint64()
		e.UncompressedSize = b.Uint64()
	} else {
		e.CompressedSize = uint64(b.Uint32())
		e.UncompressedSize = uint64(b.Uint32())
	}
	_, err = r.br.Discard(consumed)
	return err
}

func truncated(err error, what string, offset uint64) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated %s at offset %d", ErrMalformed, what, offset)
	}
	return err
}

// payloadSource feeds the compressed bytes of one entry to its decoder. It
// is an io.ByteReader so inflation never reads past the end of the stream.
type payloadSource struct {
	br        *bufio.Reader
	limited   bool
	remaining uint64
	n         uint64 // compressed bytes consumed
	err       error  // first error from the underlying stream
}

func (s *payloadSource) Read(p []byte) (int, error) {
	if s.limited {
		if s.remaining == 0 {
			return 0, io.EOF
		}
		if uint64(len(p)) > s.remaining {
			p = p[:s.remaining]
		}
	}
	n, err := s.br.Read(p)
	s.consume(n)
	return n, s.check(err)
}

func (s *payloadSource) ReadByte() (byte, error) {
	if s.limited && s.remaining == 0 {
		return 0, io.EOF
	}
	c, err := s.br.ReadByte()
	if err != nil {
		return 0, s.check(err)
	}
	s.consume(1)
	return c, nil
}

func (s *payloadSource) consume(n int) {
	s.n += uint64(n)
	if s.limited {
		s.remaining -= uint64(n)
	}
}

// check maps an end of stream inside the payload to io.ErrUnexpectedEOF and
// remembers the first underlying failure.
func (s *payloadSource) check(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	if s.err == nil {
		s.err = err
	}
	return err
}

// payload is the decoding state of the current entry.
type payload struct {
	r     *Reader
	entry *Entry
	src   *payloadSource
	dec   io.ReadCloser
	crc   hash.Hash32
	n     uint64 // decompressed bytes delivered
	zip64 bool
	err   error // sticky; io.EOF after a successful check
}

func (p *payload) read(buf []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if len(buf) == 0 {
		return 0, nil
	}

	n, err := p.dec.Read(buf)
	if n > 0 {
		total, overflow := sizing.Add(p.n, uint64(n), ErrSizeOverflow)
		if overflow != nil {
			return 0, p.setErr(overflow)
		}
		if limit := p.r.maxEntrySize; limit > 0 && total > limit {
			return 0, p.setErr(fmt.Errorf("%w: %q exceeds %d bytes", ErrSizeOverflow, p.entry.Name, limit))
		}
		if !p.entry.HasDataDescriptor() && total > p.entry.UncompressedSize {
			return 0, p.setErr(fmt.Errorf("%w: %q is longer than its declared %d bytes",
				ErrIntegrity, p.entry.Name, p.entry.UncompressedSize))
		}
		p.n = total
		p.crc.Write(buf[:n]) //nolint:errcheck // hash writes never fail
		if p.r.observer != nil {
			p.r.observer.Update(buf[:n])
		}
	}

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if ferr := p.finish(); ferr != nil {
			return n, p.setErr(ferr)
		}
		p.err = io.EOF
		return n, io.EOF
	default:
		return n, p.setErr(p.classify(err))
	}
}

// classify separates failures of the underlying stream, which are returned
// unchanged, from corrupt or truncated payload data.
func (p *payload) classify(err error) error {
	if p.src.err != nil && !errors.Is(p.src.err, io.ErrUnexpectedEOF) {
		return p.src.err
	}
	return fmt.Errorf("%w: %q: %w", ErrIntegrity, p.entry.Name, err)
}

// finish runs once the decoder reports the end of the payload.
func (p *payload) finish() error {
	e := p.entry
	if e.HasDataDescriptor() {
		wide := p.zip64 || sizing.Needs64(p.src.n) || sizing.Needs64(p.n)
		if err := p.r.readDescriptor(e, wide); err != nil {
			return err
		}
	}
	if p.src.n != e.CompressedSize {
		return fmt.Errorf("%w: %q compressed size is %d, recorded %d", ErrIntegrity, e.Name, p.src.n, e.CompressedSize)
	}
	if p.n != e.UncompressedSize {
		return fmt.Errorf("%w: %q size is %d, recorded %d", ErrIntegrity, e.Name, p.n, e.UncompressedSize)
	}
	if sum := p.crc.Sum32(); sum != e.CRC32 {
		return fmt.Errorf("%w: %q crc-32 is %08x, recorded %08x", ErrIntegrity, e.Name, sum, e.CRC32)
	}
	_ = p.dec.Close() //nolint:errcheck // decoder state is discarded
	p.dec = nil
	if p.r.observer != nil {
		p.r.observer.EndEntry(e)
	}
	return nil
}

func (p *payload) setErr(err error) error {
	p.err = err
	if p.dec != nil {
		_ = p.dec.Close() //nolint:errcheck // decoder state is discarded
		p.dec = nil
	}
	return err
}

// drain reads the rest of the entry so the stream is positioned at the next
// header. It returns the entry's failure, if any.
func (p *payload) drain() error {
	var scratch [8 << 10]byte
	for {
		_, err := p.read(scratch[:])
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}
