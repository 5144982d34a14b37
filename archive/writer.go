package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/jarstream/internal/ioutil"
	"github.com/meigma/jarstream/internal/wire"
)

const writerBufferSize = 64 << 10

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCompressionLevel sets the deflate level used for Deflate entries.
// It has no effect when WithCompressor overrides Deflate.
func WithCompressionLevel(level int) WriterOption {
	return func(w *Writer) {
		w.level = level
		w.hasLevel = true
	}
}

// WithCompressor overrides the compressor for a method on this writer.
func WithCompressor(m Method, c Compressor) WriterOption {
	return func(w *Writer) {
		if w.compressors == nil {
			w.compressors = make(map[Method]Compressor)
		}
		w.compressors[m] = c
	}
}

// WithWriterLogger sets the logger for entry-level debug output.
// By default nothing is logged.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMaxBufferedEntry limits how many bytes an entry written in buffered
// mode may hold in memory. Zero means no limit.
func WithMaxBufferedEntry(n uint64) WriterOption {
	return func(w *Writer) {
		w.maxBuffered = n
	}
}

// writeMode is how an entry's header and sizes reach the stream.
type writeMode uint8

const (
	// modeDirect writes the header with declared sizes before the payload.
	modeDirect writeMode = iota
	// modeDescriptor writes sizes in a data descriptor after the payload.
	modeDescriptor
	// modeBuffered holds the payload in memory until sizes are known.
	modeBuffered
)

func (m writeMode) String() string {
	switch m {
	case modeDirect:
		return "direct"
	case modeDescriptor:
		return "descriptor"
	default:
		return "buffered"
	}
}

// Writer encodes an archive to a forward-only byte stream.
//
// Entries are written in the order they are created. Close writes the
// central directory and end records; it does not close the underlying
// writer. A Writer is not safe for concurrent use.
type Writer struct {
	cw *ioutil.CountingWriter
	bw *bufio.Writer

	compressors map[Method]Compressor
	level       int
	hasLevel    bool
	logger      *slog.Logger
	maxBuffered uint64

	names   map[string]struct{}
	entries []*pendingEntry
	cur     *entryWriter
	comment string
	closed  bool
	err     error // sticky; the stream is no longer consistent
}

// pendingEntry is a written entry awaiting its central directory record.
type pendingEntry struct {
	entry   Entry
	flags   uint16
	dosDate uint16
	dosTime uint16
}

// entryWriter is the state of the entry being written.
type entryWriter struct {
	pe       *pendingEntry
	mode     writeMode
	declared bool
	comp     io.WriteCloser
	out      *ioutil.CountingWriter // compressed bytes
	buf      *bytes.Buffer          // modeBuffered only
	crc      hash.Hash32
	n        uint64
}

// NewWriter returns a Writer encoding an archive to w.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	bw := bufio.NewWriterSize(w, writerBufferSize)
	zw := &Writer{
		cw:     &ioutil.CountingWriter{W: bw},
		bw:     bw,
		logger: slog.New(slog.DiscardHandler),
		names:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(zw)
	}
	return zw
}

// SetComment sets the archive comment written by Close.
func (w *Writer) SetComment(comment string) error {
	if w.closed {
		return ErrClosed
	}
	if len(comment) > maxUint16 {
		return ErrCommentTooLong
	}
	w.comment = comment
	return nil
}

// CreateEntry starts a new entry, closing the previous one if it is open.
//
// When e.UncompressedSize is declared, e.CRC32 must be the CRC-32 of the
// data that follows; for compressed methods e.CompressedSize must also be
// declared for the header to be written up front. Otherwise a Deflate entry
// is followed by a data descriptor, and any other method is buffered in
// memory until CloseEntry. CreateEntry sets e.Offset.
func (w *Writer) CreateEntry(e *Entry) error {
	if w.closed {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	if w.cur != nil {
		if err := w.CloseEntry(); err != nil {
			return err
		}
	}
	if err := e.validate(); err != nil {
		return err
	}
	if _, ok := w.names[e.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, e.Name)
	}
	compressor := w.compressorFor(e.Method)
	if compressor == nil {
		return fmt.Errorf("%w: method %d for %q", ErrUnsupported, uint16(e.Method), e.Name)
	}

	pe := &pendingEntry{entry: *e}
	ent := &pe.entry
	ent.Extra = stripExtra(e.Extra, zip64ExtraID, ntfsExtraID, extTimeExtraID)
	if ent.Modified.IsZero() {
		ent.Modified = time.Now()
	}
	ent.Offset = w.cw.N
	e.Offset = ent.Offset
	pe.dosDate, pe.dosTime, _ = wire.TimeToDOS(ent.Modified)

	ew := &entryWriter{
		pe:       pe,
		declared: ent.sizesDeclared(),
		crc:      crc32.NewIEEE(),
	}
	switch {
	case ew.declared && (ent.Method == Store || ent.compressedDeclared()):
		ew.mode = modeDirect
		if ent.Method == Store {
			ent.CompressedSize = ent.UncompressedSize
		}
	case selfDelimiting(ent.Method):
		ew.mode = modeDescriptor
	default:
		ew.mode = modeBuffered
	}

	pe.flags = ent.Flags &^ (FlagDataDescriptor | FlagUTF8)
	if needsUTF8Flag(ent.Name, ent.Comment) {
		pe.flags |= FlagUTF8
	}
	if ew.mode == modeDescriptor {
		pe.flags |= FlagDataDescriptor
	}

	switch ew.mode {
	case modeDirect:
		if err := w.write(w.localHeader(pe, ent.CRC32, ent.CompressedSize, ent.UncompressedSize)); err != nil {
			return err
		}
		ew.out = &ioutil.CountingWriter{W: w.cw}
	case modeDescriptor:
		if err := w.write(w.localHeader(pe, 0, 0, 0)); err != nil {
			return err
		}
		ew.out = &ioutil.CountingWriter{W: w.cw}
	case modeBuffered:
		ew.buf = new(bytes.Buffer)
		ew.out = &ioutil.CountingWriter{W: ew.buf}
	}

	comp, err := compressor(ew.out)
	if err != nil {
		return w.setErr(fmt.Errorf("archive: %s compressor for %q: %w", ent.Method, ent.Name, err))
	}
	ew.comp = comp
	w.names[ent.Name] = struct{}{}
	w.cur = ew
	return nil
}

// Write writes uncompressed data to the current entry.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	ew := w.cur
	if ew == nil {
		return 0, ErrNoEntry
	}
	total := ew.n + uint64(len(p))
	if ew.declared && total > ew.pe.entry.UncompressedSize {
		return 0, w.setErr(fmt.Errorf("%w: %q declared %d bytes", ErrSizeMismatch, ew.pe.entry.Name, ew.pe.entry.UncompressedSize))
	}
	if ew.mode == modeBuffered && w.maxBuffered > 0 && total > w.maxBuffered {
		return 0, w.setErr(fmt.Errorf("%w: %q exceeds %d buffered bytes", ErrSizeOverflow, ew.pe.entry.Name, w.maxBuffered))
	}
	ew.crc.Write(p) //nolint:errcheck // hash writes never fail
	ew.n = total
	n, err := ew.comp.Write(p)
	if err != nil {
		return n, w.setErr(err)
	}
	return n, nil
}

// CloseEntry finishes the current entry. Declared sizes and CRC-32 are
// checked against the bytes written.
func (w *Writer) CloseEntry() error {
	if w.closed {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	ew := w.cur
	if ew == nil {
		return ErrNoEntry
	}
	w.cur = nil

	if err := ew.comp.Close(); err != nil {
		return w.setErr(err)
	}
	ent := &ew.pe.entry
	crc := ew.crc.Sum32()
	csize := ew.out.N

	if ew.declared {
		var err error
		switch {
		case ew.n != ent.UncompressedSize:
			err = fmt.Errorf("%w: %q wrote %d bytes, declared %d", ErrSizeMismatch, ent.Name, ew.n, ent.UncompressedSize)
		case crc != ent.CRC32:
			err = fmt.Errorf("%w: %q is %08x, declared %08x", ErrCRCMismatch, ent.Name, crc, ent.CRC32)
		case ew.mode == modeDirect && csize != ent.CompressedSize:
			err = fmt.Errorf("%w: %q compressed to %d bytes, declared %d", ErrSizeMismatch, ent.Name, csize, ent.CompressedSize)
		}
		if err != nil {
			return w.setErr(err)
		}
	}
	ent.CRC32 = crc
	ent.CompressedSize = csize
	ent.UncompressedSize = ew.n

	switch ew.mode {
	case modeDescriptor:
		if err := w.write(encodeDataDescriptor(crc, csize, ew.n)); err != nil {
			return err
		}
	case modeBuffered:
		if err := w.write(w.localHeader(ew.pe, crc, csize, ew.n)); err != nil {
			return err
		}
		if err := w.write(ew.buf.Bytes()); err != nil {
			return err
		}
	}

	w.entries = append(w.entries, ew.pe)
	w.logger.Debug("archive: entry written",
		slog.String("name", ent.Name),
		slog.String("method", ent.Method.String()),
		slog.String("mode", ew.mode.String()),
		slog.Uint64("compressed", csize),
		slog.Uint64("size", ew.n))
	return nil
}

// Close writes the central directory and end records and flushes buffered
// output. It fails with ErrEntryOpen while an entry is open.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	if w.cur != nil {
		return ErrEntryOpen
	}
	w.closed = true

	start := w.cw.N
	for _, pe := range w.entries {
		rec, err := w.centralHeader(pe).encode()
		if err != nil {
			return w.setErr(fmt.Errorf("%w: %q", err, pe.entry.Name))
		}
		if err := w.write(rec); err != nil {
			return err
		}
	}
	end := directoryEnd{
		count:   uint64(len(w.entries)),
		size:    w.cw.N - start,
		offset:  start,
		comment: w.comment,
	}
	if err := w.write(end.encode(w.cw.N)); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return w.setErr(err)
	}
	w.logger.Debug("archive: closed",
		slog.Int("entries", len(w.entries)),
		slog.Bool("zip64", end.needsZip64()))
	return nil
}

func (w *Writer) compressorFor(m Method) Compressor {
	if c := w.compressors[m]; c != nil {
		return c
	}
	if m == Deflate && w.hasLevel {
		level := w.level
		return func(dst io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(dst, level)
		}
	}
	return lookupCompressor(m)
}

// localHeader encodes the local header of pe with the given values.
// Sizes promoted to ZIP64 are moved to the extra record one by one.
func (w *Writer) localHeader(pe *pendingEntry, crc uint32, csize, usize uint64) []byte {
	ent := &pe.entry
	cs, us := sizeField(csize), sizeField(usize)
	z64 := zip64Extra(us, cs)
	extra := append(append(z64, timeExtra(ent, false)...), ent.Extra...)
	h := localHeader{
		version: versionNeeded(ent.Method, z64 != nil),
		flags:   pe.flags,
		method:  uint16(ent.Method),
		dosTime: pe.dosTime,
		dosDate: pe.dosDate,
		crc:     crc,
		csize:   cs.wire32(),
		usize:   us.wire32(),
		name:    ent.Name,
		extra:   extra,
	}
	return h.encode()
}

func (w *Writer) centralHeader(pe *pendingEntry) *centralHeader {
	ent := &pe.entry
	h := &centralHeader{
		flags:         pe.flags,
		method:        uint16(ent.Method),
		dosTime:       pe.dosTime,
		dosDate:       pe.dosDate,
		crc:           ent.CRC32,
		csize:         sizeField(ent.CompressedSize),
		usize:         sizeField(ent.UncompressedSize),
		offset:        sizeField(ent.Offset),
		externalAttrs: ent.ExternalAttrs,
		name:          ent.Name,
		extra:         append(timeExtra(ent, true), ent.Extra...),
		comment:       ent.Comment,
	}
	zip64 := h.csize.needs64() || h.usize.needs64() || h.offset.needs64()
	h.readerVersion = versionNeeded(ent.Method, zip64)
	h.creatorVersion = max(versionZip64, h.readerVersion)
	return h
}

func (w *Writer) write(p []byte) error {
	if _, err := w.cw.Write(p); err != nil {
		return w.setErr(err)
	}
	return nil
}

func (w *Writer) setErr(err error) error {
	if w.err == nil {
		w.err = err
	}
	return err
}
