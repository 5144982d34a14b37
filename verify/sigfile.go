package verify

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/meigma/jarstream/internal/pathutil"
)

const (
	digestSuffix             = "-Digest"
	manifestDigestSuffix     = "-Digest-Manifest"
	mainAttributesDigestSuff = "-Digest-Manifest-Main-Attributes"
)

// sigFileResult is the outcome of checking a signature file against a
// manifest.
type sigFileResult struct {
	covered  []string // names whose manifest sections the signature file vouches for
	tampered []string // names whose section digest did not match
}

// checkSignatureFile checks a parsed signature file against the manifest.
//
// A matching whole-manifest digest covers every section named in the
// signature file. Otherwise a main-attributes digest, when present, must
// match or the whole signature file is rejected, and each section is checked
// on its own. The manifest itself is always covered.
func checkSignatureFile(sf *Manifest, md *ManifestDigester, algs *Algorithms) (*sigFileResult, error) {
	// An unsupported whole-manifest algorithm falls back to section checks.
	wholeOK, _ := matchDigests(sf.Main, manifestDigestSuffix, algs, md.Whole)
	if !wholeOK {
		if hasSupported(sf.Main, mainAttributesDigestSuff, algs) {
			if ok, _ := matchDigests(sf.Main, mainAttributesDigestSuff, algs, md.Main); !ok {
				return nil, fmt.Errorf("%w: main attributes", ErrDigestMismatch)
			}
		}
	}

	res := &sigFileResult{covered: []string{ManifestPath}}
	for _, raw := range sf.Names() {
		name := pathutil.Clean(raw)
		if !md.Has(raw) {
			continue
		}
		if wholeOK {
			res.covered = append(res.covered, name)
			continue
		}
		attrs, _ := sf.Entry(raw)
		ok, err := matchDigests(attrs, digestSuffix, algs, func(alg DigestAlgorithm) []byte {
			sum, _ := md.Section(alg, raw)
			return sum
		})
		switch {
		case err != nil:
			// no supported digest for this section; leave it unsigned
		case ok:
			res.covered = append(res.covered, name)
		default:
			res.tampered = append(res.tampered, name)
		}
	}
	return res, nil
}

// matchDigests compares every supported "<ALG><suffix>" attribute against
// the digest produced by compute. It reports false if any differs, and
// ErrUnsupportedAlgorithm if no supported digest is present.
func matchDigests(attrs *Attributes, suffix string, algs *Algorithms, compute func(DigestAlgorithm) []byte) (bool, error) {
	supported := false
	for _, kv := range attrs.list {
		algName, ok := digestAttribute(kv.key, suffix)
		if !ok {
			continue
		}
		alg, ok := algs.Lookup(algName)
		if !ok {
			continue
		}
		supported = true
		want, err := base64.StdEncoding.DecodeString(kv.value)
		if err != nil || !bytes.Equal(want, compute(alg)) {
			return false, nil
		}
	}
	if !supported {
		return false, ErrUnsupportedAlgorithm
	}
	return true, nil
}

func hasSupported(attrs *Attributes, suffix string, algs *Algorithms) bool {
	for _, key := range attrs.Keys() {
		if algName, ok := digestAttribute(key, suffix); ok {
			if _, ok := algs.Lookup(algName); ok {
				return true
			}
		}
	}
	return false
}

// BuildSignatureFile returns a signature file for manifest using alg. It
// carries whole-manifest and main-attributes digests and one section digest
// per manifest entry.
func BuildSignatureFile(manifest []byte, alg DigestAlgorithm) ([]byte, error) {
	md, err := NewManifestDigester(manifest)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(manifest)
	if err != nil {
		return nil, err
	}
	enc := base64.StdEncoding.EncodeToString

	sf := &Manifest{Main: &Attributes{}, entries: make(map[string]*Attributes)}
	sf.Main.Set("Signature-Version", "1.0")
	sf.Main.Set("Created-By", "jarstream")
	sf.Main.Set(alg.Name()+mainAttributesDigestSuff, enc(md.Main(alg)))
	sf.Main.Set(alg.Name()+manifestDigestSuffix, enc(md.Whole(alg)))
	for _, name := range m.Names() {
		sum, _ := md.Section(alg, name)
		attrs := &Attributes{}
		attrs.Set(alg.Name()+digestSuffix, enc(sum))
		sf.SetEntry(name, attrs)
	}
	return sf.Bytes(), nil
}
