package verify

import "sync"

// CodeSource is a trust-domain token: an origin paired with the signers of
// the code loaded from it. Tokens minted by the same Domains for the same
// origin and signer set are the same pointer, so they can be compared with ==.
type CodeSource struct {
	origin  string
	signers *SignerSet
	owner   *Domains
}

// Origin returns the location the code was loaded from.
func (cs *CodeSource) Origin() string { return cs.origin }

// Signers returns the signer set, nil for unsigned code.
func (cs *CodeSource) Signers() *SignerSet { return cs.signers }

type domainKey struct {
	origin string
	set    *SignerSet
}

// Domains mints CodeSource tokens. It is safe for concurrent use; when two
// goroutines race to mint the same token, both receive the first one stored.
//
// Signer sets must come from a single SignerCache for equal sets to map to
// one token.
type Domains struct {
	mu     sync.Mutex
	tokens map[domainKey]*CodeSource
}

// NewDomains returns an empty token registry.
func NewDomains() *Domains {
	return &Domains{tokens: make(map[domainKey]*CodeSource)}
}

// CodeSource returns the token for origin and set. A nil set denotes
// unsigned code.
func (d *Domains) CodeSource(origin string, set *SignerSet) *CodeSource {
	key := domainKey{origin: origin, set: set}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cs, ok := d.tokens[key]; ok {
		return cs
	}
	cs := &CodeSource{origin: origin, signers: set, owner: d}
	d.tokens[key] = cs
	return cs
}

// Signers returns the signer set behind a token minted by d. Tokens from
// another Domains are rejected.
func (d *Domains) Signers(cs *CodeSource) (*SignerSet, bool) {
	if cs == nil || cs.owner != d {
		return nil, false
	}
	return cs.signers, true
}
