package jarstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/jarstream/archive"
	"github.com/meigma/jarstream/internal/testutil"
	"github.com/meigma/jarstream/verify"
)

type namedEntry struct {
	name string
	data []byte
}

func readEntries(tb testing.TB, data []byte) []namedEntry {
	tb.Helper()

	r := archive.NewReader(bytes.NewReader(data))
	var out []namedEntry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(tb, err)
		b, err := io.ReadAll(r)
		require.NoError(tb, err)
		out = append(out, namedEntry{name: e.Name, data: b})
	}
}

func TestSignLayout(t *testing.T) {
	t.Parallel()

	data, _ := signedArchive(t, SignWithName("release"))
	entries := readEntries(t, data)
	require.Len(t, entries, len(sourceFiles)+3)

	assert.Equal(t, verify.ManifestPath, entries[0].name)
	assert.Equal(t, "META-INF/RELEASE.SF", entries[1].name)
	assert.Equal(t, "META-INF/RELEASE.RSA", entries[2].name)
	for i, f := range sourceFiles {
		assert.Equal(t, f.Name, entries[3+i].name)
		assert.Equal(t, len(f.Data), len(entries[3+i].data))
	}

	m, err := verify.ParseManifest(entries[0].data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "pkg/b.txt", "pkg/c.bin"}, m.Names())
	attrs, _ := m.Entry("a.txt")
	assert.NotEmpty(t, attrs.Get("SHA-256-Digest"))
	assert.Equal(t, "jarstream", m.Main.Get("Created-By"))
}

func TestSignWithDigest(t *testing.T) {
	t.Parallel()

	data, _ := signedArchive(t, SignWithDigest(verify.SHA512))
	entries := readEntries(t, data)
	assert.Contains(t, string(entries[0].data), "SHA-512-Digest: ")
	assert.Contains(t, string(entries[1].data), "SHA-512-Digest-Manifest: ")

	report, err := Open(bytes.NewReader(data)).Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Signed())
}

func TestSignTwice(t *testing.T) {
	t.Parallel()

	first, _ := signedArchive(t, SignWithName("ALICE"))
	bob := testutil.NewCA(t, "other root").Issue(t, "bob")

	tests := []struct {
		name      string
		as        string
		wantNames []string
	}{
		{"second signer is added", "BOB", []string{"alice", "bob"}},
		{"same name is replaced", "ALICE", []string{"bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			require.NoError(t, Sign(context.Background(), &out, bytes.NewReader(first), bob.Signer(t), SignWithName(tt.as)))

			a := Open(bytes.NewReader(out.Bytes()))
			report, err := a.Verify(context.Background())
			require.NoError(t, err)
			assert.True(t, report.Signed())

			var names []string
			for _, s := range a.Signers("pkg/b.txt").Signers() {
				names = append(names, s.Certificate().Subject.CommonName)
			}
			assert.ElementsMatch(t, tt.wantNames, names)

			var sigFiles int
			for _, e := range readEntries(t, out.Bytes()) {
				if strings.HasSuffix(e.name, ".SF") {
					sigFiles++
				}
			}
			assert.Equal(t, len(tt.wantNames), sigFiles)
		})
	}
}

func TestSignProgress(t *testing.T) {
	t.Parallel()

	var stages []ProgressStage
	signedArchive(t, SignWithProgress(func(ev ProgressEvent) {
		if len(stages) == 0 || stages[len(stages)-1] != ev.Stage {
			stages = append(stages, ev.Stage)
		}
	}))
	assert.Equal(t, []ProgressStage{StageDigesting, StageSigning, StageWriting}, stages)
}

func TestSignErrors(t *testing.T) {
	t.Parallel()

	id := testutil.NewCA(t, "root").Issue(t, "alice")
	src := testutil.BuildArchive(t, sourceFiles)

	for _, name := range []string{"", "bad name", "../X", "ÄÖ"} {
		err := Sign(context.Background(), io.Discard, bytes.NewReader(src), id.Signer(t), SignWithName(name))
		require.ErrorIs(t, err, ErrInvalidSignerName, "name %q", name)
	}

	err := Sign(context.Background(), io.Discard, bytes.NewReader(src[:len(src)/2]), id.Signer(t))
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Sign(ctx, io.Discard, bytes.NewReader(src), id.Signer(t))
	require.ErrorIs(t, err, context.Canceled)

	err = Sign(context.Background(), io.Discard, bytes.NewReader(src), id.Signer(t), SignWithTempDir(t.TempDir()+"/missing"))
	require.Error(t, err)
}

func TestSignerName(t *testing.T) {
	t.Parallel()

	got, err := signerName("release_1-a")
	require.NoError(t, err)
	assert.Equal(t, "RELEASE_1-A", got)
}
