package verify

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/digitorus/pkcs7"
)

// BlockVerifier checks a detached signature block over the signature file
// bytes and returns one certificate chain per signer, leaf first.
//
// Implementations do not validate chains against a trust store; callers
// decide which signers they trust.
type BlockVerifier interface {
	Verify(block, content []byte) ([][]*x509.Certificate, error)
}

// BlockSigner produces a detached signature block over signature file
// bytes. Extension names the block entry suffix, such as "RSA".
type BlockSigner interface {
	Sign(content []byte) ([]byte, error)
	Extension() string
}

// PKCS7Verifier verifies PKCS#7 SignedData blocks.
type PKCS7Verifier struct{}

var _ BlockVerifier = PKCS7Verifier{}

// Verify implements BlockVerifier.
func (PKCS7Verifier) Verify(block, content []byte) ([][]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	p7.Content = content
	if err := p7.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if len(p7.Signers) == 0 {
		return nil, fmt.Errorf("%w: no signers", ErrBadSignature)
	}

	chains := make([][]*x509.Certificate, 0, len(p7.Signers))
	for _, si := range p7.Signers {
		ias := si.IssuerAndSerialNumber
		var leaf *x509.Certificate
		for _, c := range p7.Certificates {
			if c.SerialNumber.Cmp(ias.SerialNumber) == 0 && bytes.Equal(c.RawIssuer, ias.IssuerName.FullBytes) {
				leaf = c
				break
			}
		}
		if leaf == nil {
			return nil, fmt.Errorf("%w: signer certificate not in block", ErrBadSignature)
		}
		chains = append(chains, buildChain(leaf, p7.Certificates))
	}
	return chains, nil
}

// buildChain follows issuer names from leaf through pool until it reaches a
// self-issued certificate or runs out of issuers.
func buildChain(leaf *x509.Certificate, pool []*x509.Certificate) []*x509.Certificate {
	chain := []*x509.Certificate{leaf}
	cur := leaf
	for len(chain) <= len(pool) {
		if bytes.Equal(cur.RawIssuer, cur.RawSubject) {
			break
		}
		var next *x509.Certificate
		for _, c := range pool {
			if c != cur && bytes.Equal(c.RawSubject, cur.RawIssuer) {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	return chain
}

// PKCS7Signer signs with a certificate and key, embedding the chain.
type PKCS7Signer struct {
	cert  *x509.Certificate
	key   crypto.PrivateKey
	chain []*x509.Certificate
	ext   string
}

var _ BlockSigner = (*PKCS7Signer)(nil)

// NewPKCS7Signer returns a signer for cert and key. Parents are embedded
// after the leaf, nearest issuer first.
func NewPKCS7Signer(cert *x509.Certificate, key crypto.PrivateKey, parents ...*x509.Certificate) (*PKCS7Signer, error) {
	var ext string
	switch key.(type) {
	case *rsa.PrivateKey:
		ext = "RSA"
	case *ecdsa.PrivateKey:
		ext = "EC"
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	return &PKCS7Signer{cert: cert, key: key, chain: parents, ext: ext}, nil
}

// Extension implements BlockSigner.
func (s *PKCS7Signer) Extension() string { return s.ext }

// Sign implements BlockSigner.
func (s *PKCS7Signer) Sign(content []byte) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("create signed data: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSignerChain(s.cert, s.key, s.chain, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("add signer: %w", err)
	}
	sd.Detach()
	block, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("finish signed data: %w", err)
	}
	return block, nil
}
