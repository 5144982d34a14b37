package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meigma/jarstream/verify"
)

const keyPoolSize = 4

var (
	keyPool = sync.OnceValues(func() ([]*rsa.PrivateKey, error) {
		keys := make([]*rsa.PrivateKey, keyPoolSize)
		for i := range keys {
			k, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				return nil, err
			}
			keys[i] = k
		}
		return keys, nil
	})
	nextKey    atomic.Uint32
	nextSerial atomic.Int64
)

// Key returns an RSA key from a pool generated once per test binary.
func Key(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()

	keys, err := keyPool()
	require.NoError(tb, err)
	return keys[nextKey.Add(1)%keyPoolSize]
}

// CA is a throwaway certificate authority.
type CA struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// Identity is an end-entity certificate with its key and issuing chain.
type Identity struct {
	Cert    *x509.Certificate
	Key     *rsa.PrivateKey
	Parents []*x509.Certificate
}

// NewCA returns a self-signed CA named cn.
func NewCA(tb testing.TB, cn string) *CA {
	tb.Helper()

	key := Key(tb)
	tmpl := template(cn)
	tmpl.IsCA = true
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	cert := create(tb, tmpl, tmpl, key, key)
	return &CA{Cert: cert, Key: key}
}

// Issue returns an identity named cn signed by ca.
func (ca *CA) Issue(tb testing.TB, cn string) *Identity {
	tb.Helper()

	key := Key(tb)
	tmpl := template(cn)
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning}
	cert := create(tb, tmpl, ca.Cert, key, ca.Key)
	return &Identity{Cert: cert, Key: key, Parents: []*x509.Certificate{ca.Cert}}
}

// Signer returns a PKCS#7 block signer for the identity.
func (id *Identity) Signer(tb testing.TB) *verify.PKCS7Signer {
	tb.Helper()

	s, err := verify.NewPKCS7Signer(id.Cert, id.Key, id.Parents...)
	require.NoError(tb, err)
	return s
}

func template(cn string) *x509.Certificate {
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: big.NewInt(nextSerial.Add(1)),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"jarstream tests"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
	}
}

func create(tb testing.TB, tmpl, parent *x509.Certificate, key, signer *rsa.PrivateKey) *x509.Certificate {
	tb.Helper()

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	require.NoError(tb, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(tb, err)
	return cert
}

// SignerChain returns the identity's chain, leaf first.
func SignerChain(id *Identity) []*x509.Certificate {
	return append([]*x509.Certificate{id.Cert}, id.Parents...)
}
