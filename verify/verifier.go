package verify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"hash"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/meigma/jarstream/archive"
	"github.com/meigma/jarstream/internal/pathutil"
)

const metaDir = "META-INF/"

// DefaultMaxMetadataSize is the default buffering limit for each signature
// metadata entry.
const DefaultMaxMetadataSize = 16 << 20

// Status describes what is known about an entry's signature.
type Status uint8

const (
	// StatusUnsigned means no signer vouches for the entry.
	StatusUnsigned Status = iota
	// StatusPending means a signer vouches for the entry but its bytes
	// have not been checked yet.
	StatusPending
	// StatusVerified means the entry's bytes matched the signed manifest.
	StatusVerified
	// StatusTampered means the entry's bytes did not match the signed
	// manifest.
	StatusTampered
)

func (s Status) String() string {
	switch s {
	case StatusUnsigned:
		return "unsigned"
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusTampered:
		return "tampered"
	default:
		return "unknown"
	}
}

type entryKind uint8

const (
	kindManifest entryKind = iota + 1
	kindSigFile
	kindBlock
	kindDigest
)

type entryHash struct {
	alg  DigestAlgorithm
	h    hash.Hash
	want []byte
}

type entryState struct {
	name     string
	kind     entryKind
	buf      bytes.Buffer
	hashes   []entryHash
	overflow bool
}

type pendingBlock struct {
	name string
	data []byte
}

// Verifier checks entry digests against a signed manifest while an archive
// is being read. Attach it to an archive.Reader with archive.WithObserver.
//
// Signature metadata is accepted only at the start of the archive, until the
// first entry outside META-INF (or an unrecognized META-INF entry) is seen.
// Signature blocks may arrive before their signature file or the manifest;
// they are held until the missing part shows up.
//
// Signer results for an entry are final only once the entry's payload has
// been read to the end. Queries are safe to call from other goroutines.
type Verifier struct {
	algs    *Algorithms
	blocks  BlockVerifier
	cache   *SignerCache
	logger  *slog.Logger
	maxMeta int

	mu              sync.RWMutex
	parsingMeta     bool
	manifestRaw     []byte
	manifest        map[string]*Attributes // canonical name to section
	digester        *ManifestDigester
	sigFileData     map[string][]byte
	pending         map[string][]*pendingBlock
	sigFileSigners  map[string]*SignerSet
	verifiedSigners map[string]*SignerSet
	tampered        map[string]bool

	// cur is touched only by the reading goroutine.
	cur *entryState
}

var _ archive.EntryObserver = (*Verifier)(nil)

// NewVerifier returns a Verifier in its initial metadata-parsing state.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		algs:            DefaultAlgorithms(),
		blocks:          PKCS7Verifier{},
		logger:          slog.New(slog.DiscardHandler),
		maxMeta:         DefaultMaxMetadataSize,
		parsingMeta:     true,
		sigFileData:     make(map[string][]byte),
		pending:         make(map[string][]*pendingBlock),
		sigFileSigners:  make(map[string]*SignerSet),
		verifiedSigners: make(map[string]*SignerSet),
		tampered:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.cache == nil {
		v.cache = NewSignerCache()
	}
	return v
}

// BeginEntry implements archive.EntryObserver.
func (v *Verifier) BeginEntry(e *archive.Entry) {
	name := pathutil.Clean(e.Name)
	v.cur = nil

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.parsingMeta {
		if kind, special := v.classifyMeta(name, e.IsDir()); special {
			if kind != 0 {
				v.cur = &entryState{name: name, kind: kind}
			}
			return
		}
		v.sealLocked()
	}
	if name == ManifestPath || e.IsDir() {
		return
	}
	_, pending := v.sigFileSigners[name]
	_, verified := v.verifiedSigners[name]
	if !pending && !verified {
		return
	}

	hashes := v.expectedDigests(name)
	if len(hashes) == 0 {
		v.logger.Debug("no supported digest for signed entry", slog.String("name", name))
		delete(v.sigFileSigners, name)
		return
	}
	v.cur = &entryState{name: name, kind: kindDigest, hashes: hashes}
}

// classifyMeta reports whether name is handled specially while metadata is
// being parsed, and how its bytes are collected. A zero kind with special
// set means the entry is skipped.
func (v *Verifier) classifyMeta(name string, dir bool) (entryKind, bool) {
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, metaDir) {
		return 0, false
	}
	if dir {
		return 0, true
	}
	switch upper {
	case ManifestPath:
		return kindManifest, true
	case metaDir + "INDEX.LIST":
		return 0, true
	}
	rest, sub, _ := pathutil.Child(upper, metaDir)
	if sub {
		return 0, false
	}
	switch path.Ext(rest) {
	case ".SF":
		return kindSigFile, true
	case ".RSA", ".DSA", ".EC":
		return kindBlock, true
	}
	return 0, false
}

func (v *Verifier) expectedDigests(name string) []entryHash {
	attrs, ok := v.manifest[name]
	if !ok {
		return nil
	}
	var hashes []entryHash
	for _, kv := range attrs.list {
		algName, ok := digestAttribute(kv.key, digestSuffix)
		if !ok {
			continue
		}
		alg, ok := v.algs.Lookup(algName)
		if !ok {
			continue
		}
		want, err := base64.StdEncoding.DecodeString(kv.value)
		if err != nil {
			v.logger.Debug("undecodable entry digest", slog.String("name", name), slog.String("algorithm", algName))
			continue
		}
		hashes = append(hashes, entryHash{alg: alg, h: alg.New(), want: want})
	}
	return hashes
}

// Update implements archive.EntryObserver.
func (v *Verifier) Update(p []byte) {
	cur := v.cur
	if cur == nil {
		return
	}
	if cur.kind == kindDigest {
		for _, eh := range cur.hashes {
			eh.h.Write(p)
		}
		return
	}
	if cur.overflow {
		return
	}
	if cur.buf.Len()+len(p) > v.maxMeta {
		v.logger.Debug("signature metadata too large",
			slog.String("name", cur.name),
			slog.Int("limit", v.maxMeta))
		cur.overflow = true
		cur.buf = bytes.Buffer{}
		return
	}
	cur.buf.Write(p)
}

// EndEntry implements archive.EntryObserver.
func (v *Verifier) EndEntry(e *archive.Entry) {
	cur := v.cur
	v.cur = nil
	if cur == nil || cur.name != pathutil.Clean(e.Name) || cur.overflow {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch cur.kind {
	case kindManifest:
		v.manifestRaw = bytes.Clone(cur.buf.Bytes())
		for base := range v.pending {
			v.resolvePendingLocked(base)
		}
	case kindSigFile:
		base := baseName(cur.name)
		v.sigFileData[base] = bytes.Clone(cur.buf.Bytes())
		v.resolvePendingLocked(base)
	case kindBlock:
		base := baseName(cur.name)
		pb := &pendingBlock{name: cur.name, data: bytes.Clone(cur.buf.Bytes())}
		if v.manifestRaw == nil || v.sigFileData[base] == nil {
			v.logger.Debug("signature block parked", slog.String("name", cur.name))
			v.pending[base] = append(v.pending[base], pb)
			return
		}
		v.processBlockLocked(base, pb)
	case kindDigest:
		v.finishDigestLocked(cur)
	}
}

func (v *Verifier) finishDigestLocked(cur *entryState) {
	for _, eh := range cur.hashes {
		if !bytes.Equal(eh.h.Sum(nil), eh.want) {
			v.logger.Debug("entry digest mismatch",
				slog.String("name", cur.name),
				slog.String("algorithm", eh.alg.Name()))
			v.tampered[cur.name] = true
			delete(v.verifiedSigners, cur.name)
			delete(v.sigFileSigners, cur.name)
			return
		}
	}
	if set, ok := v.sigFileSigners[cur.name]; ok {
		v.verifiedSigners[cur.name] = v.cache.Union(v.verifiedSigners[cur.name], set)
		delete(v.sigFileSigners, cur.name)
	}
}

func (v *Verifier) resolvePendingLocked(base string) {
	if v.manifestRaw == nil || v.sigFileData[base] == nil {
		return
	}
	blocks := v.pending[base]
	delete(v.pending, base)
	for _, pb := range blocks {
		v.logger.Debug("resolving parked signature block", slog.String("name", pb.name))
		v.processBlockLocked(base, pb)
	}
}

// processBlockLocked verifies a signature block and records its signers for
// every name the signature file covers. Failures leave those names unsigned.
func (v *Verifier) processBlockLocked(base string, pb *pendingBlock) {
	sfData := v.sigFileData[base]
	chains, err := v.blocks.Verify(pb.data, sfData)
	if err != nil {
		v.logger.Debug("signature block rejected", slog.String("name", pb.name), slog.Any("error", err))
		return
	}
	sf, err := ParseManifest(sfData)
	if err != nil {
		v.logger.Debug("signature file rejected", slog.String("name", base), slog.Any("error", err))
		return
	}
	if v.digester == nil {
		if v.digester, err = NewManifestDigester(v.manifestRaw); err != nil {
			v.logger.Debug("manifest rejected", slog.Any("error", err))
			return
		}
	}
	res, err := checkSignatureFile(sf, v.digester, v.algs)
	if err != nil {
		v.logger.Debug("signature file does not match manifest", slog.String("name", base), slog.Any("error", err))
		return
	}
	if len(res.tampered) > 0 {
		v.logger.Debug("signature file sections do not match manifest",
			slog.String("name", base), slog.Int("count", len(res.tampered)))
	}

	set := v.cache.Intern(chains...)
	if set == nil {
		return
	}
	for _, name := range res.covered {
		v.sigFileSigners[name] = v.cache.Union(v.sigFileSigners[name], set)
	}
	v.logger.Debug("signature block verified",
		slog.String("name", pb.name),
		slog.Int("signers", set.Len()),
		slog.Int("entries", len(res.covered)))
}

// Seal ends metadata parsing. It happens on its own when the first
// non-metadata entry begins; call it when an archive holds nothing but
// metadata. Buffers used for signature processing are released.
func (v *Verifier) Seal() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sealLocked()
}

func (v *Verifier) sealLocked() {
	if !v.parsingMeta {
		return
	}
	v.parsingMeta = false

	if set, ok := v.sigFileSigners[ManifestPath]; ok {
		v.verifiedSigners[ManifestPath] = set
		delete(v.sigFileSigners, ManifestPath)
	}
	for base, blocks := range v.pending {
		err := ErrNoManifest
		if v.manifestRaw != nil {
			err = fmt.Errorf("%w: no signature file %s.SF", ErrBadSignature, base)
		}
		v.logger.Debug("signature block never resolved",
			slog.String("name", base), slog.Int("blocks", len(blocks)), slog.Any("error", err))
	}

	if len(v.sigFileSigners) > 0 && v.manifestRaw != nil {
		m, err := ParseManifest(v.manifestRaw)
		if err != nil {
			v.logger.Debug("manifest rejected", slog.Any("error", err))
		} else {
			v.manifest = make(map[string]*Attributes, len(m.names))
			for _, name := range m.names {
				v.manifest[pathutil.Clean(name)] = m.entries[name]
			}
		}
	}

	v.manifestRaw = nil
	v.digester = nil
	v.sigFileData = nil
	v.pending = nil
	v.logger.Debug("metadata sealed", slog.Int("signed", len(v.sigFileSigners)))
}

// Signers returns the verified signers of the named entry, or nil if the
// entry is unsigned, tampered with, or not yet read to the end.
func (v *Verifier) Signers(name string) *SignerSet {
	name = pathutil.Clean(name)
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.tampered[name] {
		return nil
	}
	return v.verifiedSigners[name]
}

// Status reports the verification state of the named entry.
func (v *Verifier) Status(name string) Status {
	name = pathutil.Clean(name)
	v.mu.RLock()
	defer v.mu.RUnlock()
	switch {
	case v.tampered[name]:
		return StatusTampered
	case v.verifiedSigners[name] != nil:
		return StatusVerified
	case v.sigFileSigners[name] != nil:
		return StatusPending
	default:
		return StatusUnsigned
	}
}

// Sealed reports whether metadata parsing has ended.
func (v *Verifier) Sealed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.parsingMeta
}

// baseName returns the upper-cased file name without directory or extension.
func baseName(name string) string {
	return pathutil.Stem(strings.ToUpper(name))
}
