// Package testutil provides fixtures shared by the package tests: archives,
// certificates and signed archives.
package testutil

import (
	"bytes"
	"encoding/base64"
	"errors"
	"hash/crc32"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meigma/jarstream/archive"
	"github.com/meigma/jarstream/verify"
)

// FixedTime is the modification time given to fixture entries.
var FixedTime = time.Date(2024, time.May, 6, 7, 8, 10, 0, time.UTC)

// File is an entry used to build fixture archives.
type File struct {
	Name   string
	Data   []byte
	Method archive.Method
}

// BuildArchive writes files in order. Stored entries declare their sizes;
// other methods stream with unknown sizes.
func BuildArchive(tb testing.TB, files []File) []byte {
	tb.Helper()

	var buf bytes.Buffer
	w := archive.NewWriter(&buf)
	for _, f := range files {
		e := archive.NewEntry(f.Name, f.Method)
		e.Modified = FixedTime
		if f.Method == archive.Store {
			e.UncompressedSize = uint64(len(f.Data))
			e.CRC32 = crc32.ChecksumIEEE(f.Data)
		}
		require.NoError(tb, w.CreateEntry(e))
		_, err := w.Write(f.Data)
		require.NoError(tb, err)
		require.NoError(tb, w.CloseEntry())
	}
	require.NoError(tb, w.Close())
	return buf.Bytes()
}

// ReadAll reads every entry of data and returns the payloads by name.
func ReadAll(tb testing.TB, data []byte, opts ...archive.ReaderOption) map[string][]byte {
	tb.Helper()

	out := make(map[string][]byte)
	r := archive.NewReader(bytes.NewReader(data), opts...)
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(tb, err)
		b, err := io.ReadAll(r)
		require.NoError(tb, err, "reading %q", e.Name)
		out[e.Name] = b
	}
}

// BuildManifest returns a manifest with an alg digest for every file that is
// neither a directory nor under META-INF.
func BuildManifest(files []File, alg verify.DigestAlgorithm) []byte {
	m := verify.NewManifest()
	m.Main.Set("Created-By", "testutil")
	for _, f := range files {
		if strings.HasSuffix(f.Name, "/") || strings.HasPrefix(strings.ToUpper(f.Name), "META-INF/") {
			continue
		}
		h := alg.New()
		h.Write(f.Data)
		attrs := &verify.Attributes{}
		attrs.Set(alg.Name()+"-Digest", base64.StdEncoding.EncodeToString(h.Sum(nil)))
		m.SetEntry(f.Name, attrs)
	}
	return m.Bytes()
}

// Signature returns the signature file and block entries for manifest,
// named META-INF/<base>.SF and META-INF/<base>.<ext>.
func Signature(tb testing.TB, manifest []byte, base string, signer verify.BlockSigner) (sf, block File) {
	tb.Helper()

	sfData, err := verify.BuildSignatureFile(manifest, verify.SHA256)
	require.NoError(tb, err)
	blockData, err := signer.Sign(sfData)
	require.NoError(tb, err)
	return File{Name: "META-INF/" + base + ".SF", Data: sfData, Method: archive.Deflate},
		File{Name: "META-INF/" + base + "." + signer.Extension(), Data: blockData, Method: archive.Store}
}

// SignedFiles returns files preceded by a SHA-256 manifest, signature file
// and signature block.
func SignedFiles(tb testing.TB, files []File, base string, signer verify.BlockSigner) []File {
	tb.Helper()

	manifest := BuildManifest(files, verify.SHA256)
	sf, block := Signature(tb, manifest, base, signer)
	out := []File{{Name: verify.ManifestPath, Data: manifest, Method: archive.Deflate}, sf, block}
	return append(out, files...)
}
