package jarstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/meigma/jarstream/archive"
	"github.com/meigma/jarstream/internal/ioutil"
	"github.com/meigma/jarstream/internal/pathutil"
	"github.com/meigma/jarstream/verify"
)

const defaultSignerName = "SIGNER"

// spooledEntry is a source entry whose payload sits in the spool file.
type spooledEntry struct {
	entry  Entry
	offset int64
	size   int64
	crc    uint32
	digest []byte
}

// Sign reads the archive from src and writes a signed copy to dst.
//
// The output starts with META-INF/MANIFEST.MF, META-INF/<NAME>.SF and
// META-INF/<NAME>.<EXT>, followed by the source entries in their original
// order. Attributes of an existing manifest are kept and each entry's
// section gains a digest. Signature files of other signers are carried
// over; those with the same name are replaced.
//
// Entry payloads are spooled to a temporary file between reading the source
// and writing the output, since the manifest must precede them.
func Sign(ctx context.Context, dst io.Writer, src io.Reader, signer BlockSigner, opts ...SignOption) error {
	cfg := signConfig{
		name:   defaultSignerName,
		alg:    verify.SHA256,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	name, err := signerName(cfg.name)
	if err != nil {
		return err
	}

	spool, err := os.CreateTemp(cfg.tempDir, "jarstream-sign-*")
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	s := &signing{cfg: cfg, name: name, spool: spool, buf: make([]byte, copyBufferSize)}
	if err := s.readSource(ctx, src); err != nil {
		return err
	}

	s.report(ProgressEvent{Stage: StageSigning, EntriesTotal: len(s.entries)})
	manifest := s.buildManifest()
	sf, err := verify.BuildSignatureFile(manifest, cfg.alg)
	if err != nil {
		return fmt.Errorf("build signature file: %w", err)
	}
	block, err := signer.Sign(sf)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	cfg.logger.Debug("signature created",
		slog.String("name", name),
		slog.String("algorithm", cfg.alg.Name()),
		slog.Int("entries", len(s.entries)))

	return s.writeSigned(ctx, dst, manifest, sf, block, signer.Extension())
}

// signing holds the state of one Sign call.
type signing struct {
	cfg      signConfig
	name     string
	spool    *os.File
	buf      []byte
	manifest *verify.Manifest
	entries  []*spooledEntry
}

func (s *signing) report(ev ProgressEvent) {
	if s.cfg.progress != nil {
		s.cfg.progress(ev)
	}
}

// readSource spools every source entry, recording its CRC-32 and digest.
func (s *signing) readSource(ctx context.Context, src io.Reader) error {
	r := archive.NewReader(src, archive.WithLogger(s.cfg.logger))
	cw := &ioutil.CountingWriter{W: s.spool}
	var done uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}

		switch {
		case strings.EqualFold(pathutil.Clean(e.Name), verify.ManifestPath):
			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read source manifest: %w", err)
			}
			if s.manifest, err = verify.ParseManifest(data); err != nil {
				return fmt.Errorf("parse source manifest: %w", err)
			}
			continue
		case s.ownSignature(e.Name):
			if _, err := io.Copy(io.Discard, r); err != nil {
				return fmt.Errorf("read %s: %w", e.Name, err)
			}
			s.cfg.logger.Debug("replacing signature entry", slog.String("name", e.Name))
			continue
		}

		h := s.cfg.alg.New()
		crc := crc32.NewIEEE()
		offset := cw.N
		n, err := ioutil.CopyWithContext(ctx, io.MultiWriter(cw, h, crc), r, s.buf)
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name, err)
		}
		s.entries = append(s.entries, &spooledEntry{
			entry:  *e,
			offset: int64(offset), //nolint:gosec // spool offsets fit the file size
			size:   n,
			crc:    crc.Sum32(),
			digest: h.Sum(nil),
		})
		done += uint64(n) //nolint:gosec // n is non-negative
		s.report(ProgressEvent{Stage: StageDigesting, Path: e.Name, BytesDone: done, EntriesDone: len(s.entries)})
	}
}

// ownSignature reports whether name is a signature file or block with the
// name being signed.
func (s *signing) ownSignature(name string) bool {
	upper := strings.ToUpper(pathutil.Clean(name))
	return isSignatureMetadata(upper) && strings.HasPrefix(upper, "META-INF/"+s.name+".")
}

// buildManifest merges entry digests into the source manifest.
func (s *signing) buildManifest() []byte {
	m := s.manifest
	if m == nil {
		m = verify.NewManifest()
	}
	if _, ok := m.Main.Lookup("Created-By"); !ok {
		m.Main.Set("Created-By", "jarstream")
	}
	key := s.cfg.alg.Name() + "-Digest"
	for _, se := range s.entries {
		if se.entry.IsDir() || isSignatureMetadata(se.entry.Name) {
			continue
		}
		attrs, ok := m.Entry(se.entry.Name)
		if !ok {
			attrs = &verify.Attributes{}
		}
		attrs.Set(key, base64.StdEncoding.EncodeToString(se.digest))
		m.SetEntry(se.entry.Name, attrs)
	}
	return m.Bytes()
}

// writeSigned writes the signature entries followed by the spooled entries.
func (s *signing) writeSigned(ctx context.Context, dst io.Writer, manifest, sf, block []byte, ext string) error {
	var wopts []archive.WriterOption
	wopts = append(wopts, archive.WithWriterLogger(s.cfg.logger))
	if s.cfg.hasLevel {
		wopts = append(wopts, archive.WithCompressionLevel(s.cfg.level))
	}
	w := archive.NewWriter(dst, wopts...)

	now := time.Now()
	meta := []struct {
		name   string
		method Method
		data   []byte
	}{
		{verify.ManifestPath, Deflate, manifest},
		{"META-INF/" + s.name + ".SF", Deflate, sf},
		{"META-INF/" + s.name + "." + ext, Store, block},
	}
	for _, m := range meta {
		e := &Entry{
			Name:             m.name,
			Method:           m.method,
			Modified:         now,
			UncompressedSize: uint64(len(m.data)),
			CompressedSize:   archive.SizeUnknown,
			CRC32:            crc32.ChecksumIEEE(m.data),
		}
		if err := w.CreateEntry(e); err != nil {
			return fmt.Errorf("write %s: %w", m.name, err)
		}
		if _, err := w.Write(m.data); err != nil {
			return fmt.Errorf("write %s: %w", m.name, err)
		}
		if err := w.CloseEntry(); err != nil {
			return fmt.Errorf("write %s: %w", m.name, err)
		}
	}

	for i, se := range s.entries {
		e := se.entry
		e.UncompressedSize = uint64(se.size) //nolint:gosec // size is non-negative
		e.CompressedSize = archive.SizeUnknown
		e.CRC32 = se.crc
		if err := w.CreateEntry(&e); err != nil {
			return fmt.Errorf("write %s: %w", e.Name, err)
		}
		if _, err := ioutil.CopyWithContext(ctx, w, io.NewSectionReader(s.spool, se.offset, se.size), s.buf); err != nil {
			return fmt.Errorf("write %s: %w", e.Name, err)
		}
		if err := w.CloseEntry(); err != nil {
			return fmt.Errorf("write %s: %w", e.Name, err)
		}
		s.report(ProgressEvent{Stage: StageWriting, Path: e.Name, EntriesDone: i + 1, EntriesTotal: len(s.entries)})
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// signerName validates and upper-cases a signature base name.
func signerName(name string) (string, error) {
	upper := strings.ToUpper(name)
	if upper == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSignerName)
	}
	for _, r := range upper {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return "", fmt.Errorf("%w: %q", ErrInvalidSignerName, name)
		}
	}
	return upper, nil
}
