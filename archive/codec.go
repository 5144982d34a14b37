package archive

import (
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// A Compressor returns a compressing writer that writes to w.
// Close must flush all pending data without closing w.
type Compressor func(w io.Writer) (io.WriteCloser, error)

// A Decompressor returns a decompressing reader that reads from r.
// Close releases associated resources without closing r.
type Decompressor func(r io.Reader) (io.ReadCloser, error)

var (
	compressors   sync.Map // map[Method]Compressor
	decompressors sync.Map // map[Method]Decompressor
)

func init() {
	compressors.Store(Store, Compressor(newStoreWriter))
	compressors.Store(Deflate, Compressor(newFlateWriter))
	compressors.Store(Zstd, Compressor(newZstdWriter))

	decompressors.Store(Store, Decompressor(newStoreReader))
	decompressors.Store(Deflate, Decompressor(newFlateReader))
	decompressors.Store(Zstd, Decompressor(newZstdReader))
}

// RegisterCompressor registers or overrides the package-level compressor
// for a method. Writers consult per-writer overrides first.
func RegisterCompressor(m Method, c Compressor) {
	compressors.Store(m, c)
}

// RegisterDecompressor registers or overrides the package-level
// decompressor for a method. Readers consult per-reader overrides first.
func RegisterDecompressor(m Method, d Decompressor) {
	decompressors.Store(m, d)
}

func lookupCompressor(m Method) Compressor {
	if c, ok := compressors.Load(m); ok {
		return c.(Compressor) //nolint:forcetypeassert // map only holds Compressor
	}
	return nil
}

func lookupDecompressor(m Method) Decompressor {
	if d, ok := decompressors.Load(m); ok {
		return d.(Decompressor) //nolint:forcetypeassert // map only holds Decompressor
	}
	return nil
}

// selfDelimiting reports whether a method's stream marks its own end and
// its decoder stops there without reading ahead, so the payload can be
// followed by a data descriptor. Other methods need sizes in the header.
func selfDelimiting(m Method) bool {
	return m == Deflate
}

// --- stored ---

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newStoreWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func newStoreReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// --- deflate ---

var flateWriterPool sync.Pool

type pooledFlateWriter struct {
	mu sync.Mutex // guards Close and Write
	fw *flate.Writer
}

func newFlateWriter(w io.Writer) (io.WriteCloser, error) {
	fw, ok := flateWriterPool.Get().(*flate.Writer)
	if ok {
		fw.Reset(w)
	} else {
		var err error
		fw, err = flate.NewWriter(w, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
	}
	return &pooledFlateWriter{fw: fw}, nil
}

func (w *pooledFlateWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fw == nil {
		return 0, errors.New("archive: write after close")
	}
	return w.fw.Write(p)
}

func (w *pooledFlateWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if w.fw != nil {
		err = w.fw.Close()
		flateWriterPool.Put(w.fw)
		w.fw = nil
	}
	return err
}

var flateReaderPool sync.Pool

type pooledFlateReader struct {
	mu sync.Mutex // guards Close and Read
	fr io.ReadCloser
}

// newFlateReader wraps r for inflation. When r implements io.ByteReader the
// decoder consumes exactly the compressed stream and nothing after it.
func newFlateReader(r io.Reader) (io.ReadCloser, error) {
	fr, ok := flateReaderPool.Get().(io.ReadCloser)
	if ok {
		if err := fr.(flate.Resetter).Reset(r, nil); err != nil { //nolint:forcetypeassert // pool only holds flate readers
			return nil, err
		}
	} else {
		fr = flate.NewReader(r)
	}
	return &pooledFlateReader{fr: fr}, nil
}

func (r *pooledFlateReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return 0, errors.New("archive: read after close")
	}
	return r.fr.Read(p)
}

func (r *pooledFlateReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.fr != nil {
		err = r.fr.Close()
		flateReaderPool.Put(r.fr)
		r.fr = nil
	}
	return err
}

// --- zstd ---

var zstdDecoderPool sync.Pool

func newZstdWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
}

type pooledZstdReader struct {
	dec *zstd.Decoder
}

func newZstdReader(r io.Reader) (io.ReadCloser, error) {
	dec, ok := zstdDecoderPool.Get().(*zstd.Decoder)
	if ok {
		if err := dec.Reset(r); err != nil {
			dec.Close()
			ok = false
		}
	}
	if !ok {
		var err error
		dec, err = zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
	}
	return &pooledZstdReader{dec: dec}, nil
}

func (r *pooledZstdReader) Read(p []byte) (int, error) {
	if r.dec == nil {
		return 0, errors.New("archive: read after close")
	}
	return r.dec.Read(p)
}

func (r *pooledZstdReader) Close() error {
	if r.dec != nil {
		_ = r.dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		zstdDecoderPool.Put(r.dec)
		r.dec = nil
	}
	return nil
}
