package jarstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/meigma/jarstream/archive"
	"github.com/meigma/jarstream/internal/ioutil"
	"github.com/meigma/jarstream/internal/pathutil"
	"github.com/meigma/jarstream/internal/sizing"
	"github.com/meigma/jarstream/verify"
)

const copyBufferSize = 32 << 10

// Archive reads a signed or unsigned archive from a stream and verifies
// entry digests as the entries go by.
//
// Signer results for an entry are final only once the entry has been read
// to the end; Verify reads every remaining entry. An Archive is not safe for
// concurrent use, except that Signers, Status and CodeSource may be called
// from other goroutines.
type Archive struct {
	r        *archive.Reader
	v        *verify.Verifier
	domains  *verify.Domains
	maxEntry uint64
	progress ProgressFunc

	entries []*Entry
}

// Open returns an Archive reading from r.
func Open(r io.Reader, opts ...Option) *Archive {
	cfg := newConfig(opts)

	v := verify.NewVerifier(append([]verify.Option{verify.WithLogger(cfg.logger)}, cfg.verifyOpts...)...)
	ropts := []archive.ReaderOption{
		archive.WithObserver(v),
		archive.WithLogger(cfg.logger),
		archive.WithMaxEntrySize(cfg.maxEntrySize),
	}
	return &Archive{
		r:        archive.NewReader(r, ropts...),
		v:        v,
		domains:  cfg.domains,
		maxEntry: cfg.maxEntrySize,
		progress: cfg.progress,
	}
}

// Next advances to the next entry, draining the current one. It returns
// io.EOF after the last entry.
func (a *Archive) Next() (*Entry, error) {
	e, err := a.r.Next()
	if errors.Is(err, io.EOF) {
		a.v.Seal()
	}
	if err != nil {
		return nil, err
	}
	a.entries = append(a.entries, e)
	return e, nil
}

// Read reads the current entry's decompressed bytes.
func (a *Archive) Read(p []byte) (int, error) {
	return a.r.Read(p)
}

// ReadEntry reads the rest of the current entry. It fails with
// ErrSizeOverflow if the entry exceeds the WithMaxEntrySize limit.
func (a *Archive) ReadEntry() ([]byte, error) {
	return sizing.ReadAllWithLimit(a.r, a.maxEntry, ErrSizeOverflow)
}

// Signers returns the verified signers of the named entry, or nil if it is
// unsigned, tampered with, or not yet read to the end.
func (a *Archive) Signers(name string) *SignerSet {
	return a.v.Signers(name)
}

// Status reports the signature state of the named entry.
func (a *Archive) Status(name string) Status {
	return a.v.Status(name)
}

// CodeSource returns the trust-domain token for the named entry loaded from
// origin. Entries with the same origin and signers share a token.
func (a *Archive) CodeSource(origin, name string) *CodeSource {
	return a.domains.CodeSource(origin, a.v.Signers(name))
}

// Domains returns the registry that mints this archive's CodeSource tokens.
func (a *Archive) Domains() *verify.Domains {
	return a.domains
}

// Verify reads every remaining entry and reports the signature state of all
// entries seen. Container errors, including integrity failures, are
// returned; signature problems are reported per entry.
func (a *Archive) Verify(ctx context.Context) (*Report, error) {
	buf := make([]byte, copyBufferSize)
	var done uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := a.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		n, err := ioutil.CopyWithContext(ctx, io.Discard, a.r, buf)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name, err)
		}
		done += uint64(n) //nolint:gosec // n is non-negative
		if a.progress != nil {
			a.progress(ProgressEvent{
				Stage:       StageVerifying,
				Path:        e.Name,
				BytesDone:   done,
				EntriesDone: len(a.entries),
			})
		}
	}
	return a.Report(), nil
}

// Report returns the signature state of the entries seen so far.
func (a *Archive) Report() *Report {
	r := &Report{Entries: make([]EntryReport, len(a.entries))}
	for i, e := range a.entries {
		r.Entries[i] = EntryReport{
			Name:           e.Name,
			Size:           e.UncompressedSize,
			CompressedSize: e.CompressedSize,
			CRC32:          e.CRC32,
			Offset:         e.Offset,
			Dir:            e.IsDir(),
			Status:         a.v.Status(e.Name),
			Signers:        a.v.Signers(e.Name),
		}
	}
	return r
}

// Report summarizes the signature state of an archive's entries.
type Report struct {
	Entries []EntryReport
}

// EntryReport is the signature state of one entry, with the record values
// seen while streaming it.
type EntryReport struct {
	Name           string
	Size           uint64
	CompressedSize uint64
	CRC32          uint32
	Offset         uint64 // of the local header
	Dir            bool
	Status         Status
	Signers        *SignerSet
}

// Signed reports whether every entry other than directories and signature
// metadata is verified. An archive with no such entries is not signed.
func (r *Report) Signed() bool {
	signed := false
	for _, e := range r.Entries {
		if e.Dir || isSignatureMetadata(e.Name) {
			continue
		}
		if e.Status != StatusVerified {
			return false
		}
		signed = true
	}
	return signed
}

// Tampered returns the names of entries whose bytes did not match the
// signed manifest.
func (r *Report) Tampered() []string {
	var names []string
	for _, e := range r.Entries {
		if e.Status == StatusTampered {
			names = append(names, e.Name)
		}
	}
	return names
}

// isSignatureMetadata reports whether name is the manifest or a signature
// file or block.
func isSignatureMetadata(name string) bool {
	upper := strings.ToUpper(pathutil.Clean(name))
	if upper == verify.ManifestPath {
		return true
	}
	rest, sub, ok := pathutil.Child(upper, "META-INF/")
	if !ok || sub {
		return false
	}
	switch path.Ext(rest) {
	case ".SF", ".RSA", ".DSA", ".EC":
		return true
	}
	return false
}
