package verify

import (
	"crypto/x509"
	"slices"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
)

// Signer is one signing identity: a certificate chain, leaf first.
type Signer struct {
	chain       []*x509.Certificate
	fingerprint digest.Digest
}

// Chain returns the certificate chain, leaf first.
func (s *Signer) Chain() []*x509.Certificate {
	return slices.Clone(s.chain)
}

// Certificate returns the leaf certificate.
func (s *Signer) Certificate() *x509.Certificate {
	return s.chain[0]
}

// Fingerprint returns the SHA-256 digest over the DER bytes of the chain.
func (s *Signer) Fingerprint() digest.Digest {
	return s.fingerprint
}

func chainFingerprint(chain []*x509.Certificate) digest.Digest {
	dg := digest.Canonical.Digester()
	for _, c := range chain {
		dg.Hash().Write(c.Raw)
	}
	return dg.Digest()
}

// SignerSet is an immutable set of signers. Sets obtained from the same
// SignerCache are interned: equal sets are the same pointer.
type SignerSet struct {
	signers []*Signer
	key     string
}

// Signers returns the signers ordered by fingerprint.
func (s *SignerSet) Signers() []*Signer {
	if s == nil {
		return nil
	}
	return slices.Clone(s.signers)
}

// Len returns the number of signers.
func (s *SignerSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.signers)
}

// Key returns a string identifying the set's contents.
func (s *SignerSet) Key() string {
	if s == nil {
		return ""
	}
	return s.key
}

// SignerCache interns signers and signer sets so that identical chains seen
// in different signature blocks resolve to the same values. It is safe for
// concurrent use.
type SignerCache struct {
	mu      sync.Mutex
	signers map[digest.Digest]*Signer
	sets    map[string]*SignerSet
}

// NewSignerCache returns an empty cache.
func NewSignerCache() *SignerCache {
	return &SignerCache{
		signers: make(map[digest.Digest]*Signer),
		sets:    make(map[string]*SignerSet),
	}
}

// Intern returns the set holding one signer per chain. Empty chains are
// ignored; if none remain the result is nil.
func (c *SignerCache) Intern(chains ...[]*x509.Certificate) *SignerSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	signers := make([]*Signer, 0, len(chains))
	for _, chain := range chains {
		if len(chain) == 0 {
			continue
		}
		fp := chainFingerprint(chain)
		s, ok := c.signers[fp]
		if !ok {
			s = &Signer{chain: slices.Clone(chain), fingerprint: fp}
			c.signers[fp] = s
		}
		signers = append(signers, s)
	}
	return c.internLocked(signers)
}

// Union returns the interned set holding the signers of a and b.
func (c *SignerCache) Union(a, b *SignerSet) *SignerSet {
	switch {
	case a == nil:
		return b
	case b == nil, a == b:
		return a
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internLocked(append(a.Signers(), b.signers...))
}

func (c *SignerCache) internLocked(signers []*Signer) *SignerSet {
	if len(signers) == 0 {
		return nil
	}
	slices.SortFunc(signers, func(x, y *Signer) int {
		return strings.Compare(string(x.fingerprint), string(y.fingerprint))
	})
	signers = slices.CompactFunc(signers, func(x, y *Signer) bool { return x == y })

	parts := make([]string, len(signers))
	for i, s := range signers {
		parts[i] = string(s.fingerprint)
	}
	key := strings.Join(parts, ",")
	if set, ok := c.sets[key]; ok {
		return set
	}
	set := &SignerSet{signers: signers, key: key}
	c.sets[key] = set
	return set
}
