package verify

import (
	"crypto/sha1" //nolint:gosec // legacy manifests still carry SHA1-Digest
	"hash"
	"strings"

	"github.com/opencontainers/go-digest"
)

// DigestAlgorithm is a hash named the way manifests name it, such as
// "SHA-256" in a "SHA-256-Digest" attribute.
type DigestAlgorithm interface {
	Name() string
	New() hash.Hash
}

type registeredAlgorithm struct {
	name string
	new  func() hash.Hash
}

func (a registeredAlgorithm) Name() string   { return a.name }
func (a registeredAlgorithm) New() hash.Hash { return a.new() }

// Built-in algorithms. The SHA-2 family is provided by go-digest.
var (
	SHA1   DigestAlgorithm = registeredAlgorithm{name: "SHA-1", new: sha1.New}
	SHA256 DigestAlgorithm = registeredAlgorithm{name: "SHA-256", new: digest.SHA256.Hash}
	SHA384 DigestAlgorithm = registeredAlgorithm{name: "SHA-384", new: digest.SHA384.Hash}
	SHA512 DigestAlgorithm = registeredAlgorithm{name: "SHA-512", new: digest.SHA512.Hash}
)

// NewDigestAlgorithm returns a DigestAlgorithm with the given manifest name.
func NewDigestAlgorithm(name string, newHash func() hash.Hash) DigestAlgorithm {
	return registeredAlgorithm{name: name, new: newHash}
}

// Algorithms is the set of digest algorithms a Verifier accepts.
// Lookups ignore case and hyphens, so "sha256" finds "SHA-256".
type Algorithms struct {
	list   []DigestAlgorithm
	byName map[string]DigestAlgorithm
}

// NewAlgorithms returns a set holding algs. Later entries replace earlier
// ones with the same normalized name.
func NewAlgorithms(algs ...DigestAlgorithm) *Algorithms {
	a := &Algorithms{byName: make(map[string]DigestAlgorithm, len(algs))}
	for _, alg := range algs {
		key := normalizeAlgorithm(alg.Name())
		if _, ok := a.byName[key]; !ok {
			a.list = append(a.list, alg)
		}
		a.byName[key] = alg
	}
	return a
}

// DefaultAlgorithms returns SHA-256, SHA-384, SHA-512 and SHA-1.
func DefaultAlgorithms() *Algorithms {
	return NewAlgorithms(SHA256, SHA384, SHA512, SHA1)
}

// Lookup returns the algorithm with the given manifest name.
func (a *Algorithms) Lookup(name string) (DigestAlgorithm, bool) {
	alg, ok := a.byName[normalizeAlgorithm(name)]
	return alg, ok
}

// List returns the algorithms in registration order.
func (a *Algorithms) List() []DigestAlgorithm {
	return append([]DigestAlgorithm(nil), a.list...)
}

func normalizeAlgorithm(name string) string {
	n := strings.ToUpper(strings.ReplaceAll(name, "-", ""))
	if n == "SHA" {
		return "SHA1"
	}
	return n
}

// digestAttribute splits an attribute name of the form "<ALG><suffix>",
// matching the suffix without regard to case.
func digestAttribute(key, suffix string) (string, bool) {
	if len(key) <= len(suffix) || !strings.EqualFold(key[len(key)-len(suffix):], suffix) {
		return "", false
	}
	return key[:len(key)-len(suffix)], true
}
