package verify

import "sync"

// ManifestDigester computes digests over raw manifest bytes: the whole
// manifest, its main section, and individual entry sections. Each section
// digest covers the section's bytes exactly as stored, including the blank
// line that ends it. Results are memoized per algorithm.
type ManifestDigester struct {
	raw      []byte
	main     rawSection
	sections map[string][]rawSection

	mu   sync.Mutex
	memo map[digestKey][]byte
}

type digestKey struct {
	alg     string
	section string
	kind    uint8
}

const (
	digestWhole uint8 = iota
	digestMain
	digestSection
)

// NewManifestDigester indexes raw manifest bytes.
func NewManifestDigester(raw []byte) (*ManifestDigester, error) {
	sections, err := scanManifest(raw)
	if err != nil {
		return nil, err
	}
	d := &ManifestDigester{
		raw:      raw,
		main:     sections[0],
		sections: make(map[string][]rawSection),
		memo:     make(map[digestKey][]byte),
	}
	for _, s := range sections[1:] {
		if s.name != "" {
			d.sections[s.name] = append(d.sections[s.name], s)
		}
	}
	return d, nil
}

// Whole returns the digest of the entire manifest.
func (d *ManifestDigester) Whole(alg DigestAlgorithm) []byte {
	return d.digest(digestKey{alg: alg.Name(), kind: digestWhole}, alg, d.raw)
}

// Main returns the digest of the main section.
func (d *ManifestDigester) Main(alg DigestAlgorithm) []byte {
	return d.digest(digestKey{alg: alg.Name(), kind: digestMain}, alg, d.raw[d.main.start:d.main.end])
}

// Section returns the digest of the named entry section. Sections that
// repeat a name are digested as one concatenated run.
func (d *ManifestDigester) Section(alg DigestAlgorithm, name string) ([]byte, bool) {
	secs, ok := d.sections[name]
	if !ok {
		return nil, false
	}
	key := digestKey{alg: alg.Name(), section: name, kind: digestSection}
	d.mu.Lock()
	sum, ok := d.memo[key]
	d.mu.Unlock()
	if ok {
		return sum, true
	}
	h := alg.New()
	for _, s := range secs {
		h.Write(d.raw[s.start:s.end])
	}
	sum = h.Sum(nil)
	d.mu.Lock()
	d.memo[key] = sum
	d.mu.Unlock()
	return sum, true
}

// Has reports whether the manifest has a section for name.
func (d *ManifestDigester) Has(name string) bool {
	_, ok := d.sections[name]
	return ok
}

func (d *ManifestDigester) digest(key digestKey, alg DigestAlgorithm, data []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sum, ok := d.memo[key]; ok {
		return sum
	}
	h := alg.New()
	h.Write(data)
	sum := h.Sum(nil)
	d.memo[key] = sum
	return sum
}
