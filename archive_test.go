package jarstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/jarstream/internal/testutil"
	"github.com/meigma/jarstream/verify"
)

var sourceFiles = []testutil.File{
	{Name: "META-INF/", Method: Store},
	{Name: "a.txt", Data: []byte("0123456789"), Method: Store},
	{Name: "pkg/", Method: Store},
	{Name: "pkg/b.txt", Data: bytes.Repeat([]byte("hello"), 1000), Method: Deflate},
	{Name: "pkg/c.bin", Data: bytes.Repeat([]byte{0, 1, 2, 3}, 4096), Method: Zstd},
}

// signedArchive returns sourceFiles signed by a fresh identity.
func signedArchive(tb testing.TB, opts ...SignOption) ([]byte, *testutil.Identity) {
	tb.Helper()

	id := testutil.NewCA(tb, "root").Issue(tb, "alice")
	var out bytes.Buffer
	src := bytes.NewReader(testutil.BuildArchive(tb, sourceFiles))
	require.NoError(tb, Sign(context.Background(), &out, src, id.Signer(tb), opts...))
	return out.Bytes(), id
}

func TestArchiveVerify(t *testing.T) {
	t.Parallel()

	data, id := signedArchive(t)
	a := Open(bytes.NewReader(data))
	report, err := a.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Signed())
	assert.Empty(t, report.Tampered())

	for _, name := range []string{"a.txt", "pkg/b.txt", "pkg/c.bin", verify.ManifestPath} {
		assert.Equal(t, StatusVerified, a.Status(name), name)
		set := a.Signers(name)
		require.NotNil(t, set, name)
		assert.True(t, set.Signers()[0].Certificate().Equal(id.Cert))
	}
	assert.Equal(t, StatusUnsigned, a.Status("pkg/"))

	byName := make(map[string]EntryReport)
	for _, e := range report.Entries {
		byName[e.Name] = e
	}
	assert.Equal(t, uint64(5000), byName["pkg/b.txt"].Size)
	assert.True(t, byName["pkg/"].Dir)
	assert.Same(t, a.Signers("a.txt"), byName["a.txt"].Signers)
}

func TestArchiveReadWhileVerifying(t *testing.T) {
	t.Parallel()

	data, _ := signedArchive(t)
	a := Open(bytes.NewReader(data))
	got := make(map[string][]byte)
	for {
		e, err := a.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b, err := a.ReadEntry()
		require.NoError(t, err)
		got[e.Name] = b
		if !e.IsDir() && !isSignatureMetadata(e.Name) {
			assert.Equal(t, StatusVerified, a.Status(e.Name), "verified as soon as %s is read", e.Name)
		}
	}
	for _, f := range sourceFiles {
		if f.Data != nil {
			assert.Equal(t, f.Data, got[f.Name])
		}
	}
}

func TestArchiveCodeSource(t *testing.T) {
	t.Parallel()

	data, _ := signedArchive(t)
	cache, domains := verify.NewSignerCache(), verify.NewDomains()

	a := Open(bytes.NewReader(data), WithSignerCache(cache), WithDomains(domains))
	_, err := a.Verify(context.Background())
	require.NoError(t, err)
	b := Open(bytes.NewReader(data), WithSignerCache(cache), WithDomains(domains))
	_, err = b.Verify(context.Background())
	require.NoError(t, err)

	cs := a.CodeSource("file:/app.jar", "a.txt")
	assert.Same(t, cs, a.CodeSource("file:/app.jar", "pkg/b.txt"))
	assert.Same(t, cs, b.CodeSource("file:/app.jar", "pkg/c.bin"))
	assert.NotSame(t, cs, a.CodeSource("file:/app.jar", "pkg/"))
	assert.Same(t, domains, a.Domains())

	set, ok := domains.Signers(cs)
	require.True(t, ok)
	assert.Same(t, a.Signers("a.txt"), set)

	// Without shared state each archive mints its own tokens.
	c := Open(bytes.NewReader(data))
	_, err = c.Verify(context.Background())
	require.NoError(t, err)
	other := c.CodeSource("file:/app.jar", "a.txt")
	assert.NotSame(t, cs, other)
	_, ok = domains.Signers(other)
	assert.False(t, ok)
}

func TestArchiveTamperedEntry(t *testing.T) {
	t.Parallel()

	id := testutil.NewCA(t, "root").Issue(t, "alice")
	files := testutil.SignedFiles(t, sourceFiles, "ALICE", id.Signer(t))
	for i := range files {
		if files[i].Name == "pkg/b.txt" {
			files[i].Data = bytes.Repeat([]byte("howdy"), 1000)
		}
	}

	a := Open(bytes.NewReader(testutil.BuildArchive(t, files)))
	report, err := a.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Signed())
	assert.Equal(t, []string{"pkg/b.txt"}, report.Tampered())
	assert.Equal(t, StatusVerified, a.Status("a.txt"))
	assert.Nil(t, a.Signers("pkg/b.txt"))
}

func TestArchiveUnsigned(t *testing.T) {
	t.Parallel()

	a := Open(bytes.NewReader(testutil.BuildArchive(t, sourceFiles)))
	report, err := a.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Signed())
	assert.Len(t, report.Entries, len(sourceFiles))

	empty := Open(bytes.NewReader(testutil.BuildArchive(t, nil)))
	report, err = empty.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Signed())
	assert.Empty(t, report.Entries)
}

func TestArchiveVerifyCorruptContainer(t *testing.T) {
	t.Parallel()

	data, _ := signedArchive(t)
	i := bytes.Index(data, []byte("0123456789"))
	require.Positive(t, i)
	data[i] ^= 0x01

	_, err := Open(bytes.NewReader(data)).Verify(context.Background())
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestArchiveVerifyCanceled(t *testing.T) {
	t.Parallel()

	data, _ := signedArchive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(bytes.NewReader(data)).Verify(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestArchiveMaxEntrySize(t *testing.T) {
	t.Parallel()

	data := testutil.BuildArchive(t, sourceFiles[:2])
	a := Open(bytes.NewReader(data), WithMaxEntrySize(4))
	_, err := a.Next()
	require.NoError(t, err)
	_, err = a.Next()
	require.NoError(t, err)
	_, err = a.ReadEntry()
	require.ErrorIs(t, err, ErrSizeOverflow)
}

func TestArchiveVerifyProgress(t *testing.T) {
	t.Parallel()

	data, _ := signedArchive(t)
	var events []ProgressEvent
	a := Open(bytes.NewReader(data), WithProgress(func(ev ProgressEvent) {
		events = append(events, ev)
	}))
	report, err := a.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, events, len(report.Entries))
	last := events[len(events)-1]
	assert.Equal(t, StageVerifying, last.Stage)
	assert.Equal(t, "pkg/c.bin", last.Path)
	assert.Equal(t, len(report.Entries), last.EntriesDone)
}

func TestIsSignatureMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"META-INF/MANIFEST.MF", true},
		{"meta-inf/manifest.mf", true},
		{"/META-INF/MANIFEST.MF", true},
		{"META-INF/SIGNER.SF", true},
		{"META-INF/SIGNER.RSA", true},
		{"META-INF/SIGNER.EC", true},
		{"META-INF/signer.dsa", true},
		{"META-INF/sub/SIGNER.SF", false},
		{"META-INF/services/x", false},
		{"a.SF", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSignatureMetadata(tt.name), tt.name)
	}
}
