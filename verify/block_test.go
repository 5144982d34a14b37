package verify_test

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/jarstream/internal/testutil"
	"github.com/meigma/jarstream/verify"
)

func TestPKCS7RoundTrip(t *testing.T) {
	t.Parallel()

	ca := testutil.NewCA(t, "root")
	id := ca.Issue(t, "alice")
	signer := id.Signer(t)
	assert.Equal(t, "RSA", signer.Extension())

	content := []byte("Signature-Version: 1.0\r\n\r\n")
	block, err := signer.Sign(content)
	require.NoError(t, err)

	chains, err := verify.PKCS7Verifier{}.Verify(block, content)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	require.Len(t, chains[0], 2)
	assert.True(t, chains[0][0].Equal(id.Cert))
	assert.True(t, chains[0][1].Equal(ca.Cert))
}

func TestPKCS7VerifyRejects(t *testing.T) {
	t.Parallel()

	id := testutil.NewCA(t, "root").Issue(t, "alice")
	content := []byte("Signature-Version: 1.0\r\n\r\n")
	block, err := id.Signer(t).Sign(content)
	require.NoError(t, err)

	tests := []struct {
		name    string
		block   []byte
		content []byte
	}{
		{"other content", block, []byte("Signature-Version: 2.0\r\n\r\n")},
		{"garbage", []byte("not a signature"), content},
		{"truncated", block[:len(block)/2], content},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := verify.PKCS7Verifier{}.Verify(tt.block, tt.content)
			require.ErrorIs(t, err, verify.ErrBadSignature)
		})
	}
}

func TestNewPKCS7SignerKeyTypes(t *testing.T) {
	t.Parallel()

	id := testutil.NewCA(t, "root").Issue(t, "alice")

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s, err := verify.NewPKCS7Signer(id.Cert, ecKey)
	require.NoError(t, err)
	assert.Equal(t, "EC", s.Extension())

	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = verify.NewPKCS7Signer(id.Cert, edKey)
	require.ErrorIs(t, err, verify.ErrUnsupportedKey)
}
