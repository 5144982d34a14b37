package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestReadDirectory(t *testing.T) {
	t.Parallel()

	fixtures := []fixture{
		{name: "META-INF/MANIFEST.MF", method: Deflate, data: []byte("Manifest-Version: 1.0\r\n\r\n")},
		{name: "a/", method: Store, data: []byte{}, declare: true},
		{name: "a/b.txt", method: Store, data: []byte("bee"), declare: true},
		{name: "a/c.bin", method: Zstd, data: bytes.Repeat([]byte{7}, 5000)},
	}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.SetComment("archive comment"))
	for _, f := range fixtures {
		e := NewEntry(f.name, f.method)
		e.Modified = testTime
		e.Comment = "about " + f.name
		if f.declare {
			e.UncompressedSize = uint64(len(f.data))
			e.CRC32 = crc32.ChecksumIEEE(f.data)
		}
		require.NoError(t, w.CreateEntry(e))
		_, err := w.Write(f.data)
		require.NoError(t, err)
		require.NoError(t, w.CloseEntry())
	}
	require.NoError(t, w.Close())
	data := buf.Bytes()

	dir, err := ReadDirectory(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, "archive comment", dir.Comment)
	assert.False(t, dir.Zip64())
	require.Len(t, dir.Entries, len(fixtures))

	for i, f := range fixtures {
		e := dir.Entries[i]
		assert.Equal(t, f.name, e.Name)
		assert.Equal(t, "about "+f.name, e.Comment)
		assert.Equal(t, f.method, e.Method)
		assert.Equal(t, uint64(len(f.data)), e.UncompressedSize)
		assert.Equal(t, crc32.ChecksumIEEE(f.data), e.CRC32)
		assert.Equal(t, testTime, e.Modified)
		assert.Same(t, e, dir.Lookup(f.name))

		r, err := dir.Open(e)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, f.data, got)
	}
	assert.True(t, dir.Entries[1].IsDir())
	assert.Nil(t, dir.Lookup("missing"))
}

func TestReadDirectoryMalformed(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, []fixture{{name: "x", method: Store, data: []byte("x"), declare: true}})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"too short", data[:10], ErrMalformed},
		{"no end record", bytes.Repeat([]byte{0}, 100), ErrMalformed},
		{"bad central signature", corrupt(data, bytes.LastIndex(data, []byte{0x50, 0x4b, 0x01, 0x02})), ErrMalformed},
		{"directory past end", corrupt(data, len(data)-directoryEndLen+19), ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ReadDirectory(bytes.NewReader(tt.data), int64(len(tt.data)))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// corrupt returns a copy of data with the byte at i inverted.
func corrupt(data []byte, i int) []byte {
	out := append([]byte{}, data...)
	out[i] ^= 0xff
	return out
}

func TestDirectoryOpenDetectsCorruption(t *testing.T) {
	t.Parallel()

	payload := []byte("directory payload")
	data := buildArchive(t, []fixture{{name: "p", method: Store, data: payload, declare: true}})
	data[bytes.Index(data, payload)] ^= 0x20

	dir, err := ReadDirectory(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	r, err := dir.Open(dir.Entries[0])
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestDirectoryOpenRejectsDisagreeingRecords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fixture fixture
		field   int // offset within the central header
	}{
		{"stored crc", fixture{name: "s", method: Store, data: []byte("stored"), declare: true}, 16},
		{"stored size", fixture{name: "s", method: Store, data: []byte("stored"), declare: true}, 24},
		{"streamed crc", fixture{name: "d", method: Deflate, data: bytes.Repeat([]byte("streamed"), 50)}, 16},
		{"streamed compressed size", fixture{name: "d", method: Deflate, data: bytes.Repeat([]byte("streamed"), 50)}, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := buildArchive(t, []fixture{tt.fixture})
			at := bytes.LastIndex(data, []byte{0x50, 0x4b, 0x01, 0x02})
			data[at+tt.field]++

			dir, err := ReadDirectory(bytes.NewReader(data), int64(len(data)))
			require.NoError(t, err)
			r, err := dir.Open(dir.Entries[0])
			if err == nil {
				_, err = io.ReadAll(r)
			}
			require.ErrorIs(t, err, ErrIntegrity)
		})
	}
}

func TestZip64EntryCount(t *testing.T) {
	if testing.Short() {
		t.Skip("writes 65535 entries")
	}
	t.Parallel()

	const n = 65535
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := range n {
		require.NoError(t, w.CreateEntry(&Entry{Name: fmt.Sprintf("%05d", i), Method: Store, Modified: testTime}))
		require.NoError(t, w.CloseEntry())
	}
	require.NoError(t, w.Close())
	data := buf.Bytes()

	dir, err := ReadDirectory(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.True(t, dir.Zip64())
	require.Len(t, dir.Entries, n)
	assert.Equal(t, "65534", dir.Entries[n-1].Name)

	r := NewReader(bytes.NewReader(data))
	count := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, n, count)
}

// zeroReader yields n zero bytes.
type zeroReader struct{ n uint64 }

func (z *zeroReader) Read(p []byte) (int, error) {
	if z.n == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > z.n {
		p = p[:z.n]
	}
	clear(p)
	z.n -= uint64(len(p))
	return len(p), nil
}

func TestZip64LargeStreamedEntry(t *testing.T) {
	if testing.Short() {
		t.Skip("streams more than 4 GiB")
	}
	t.Parallel()

	const size = uint64(1)<<32 + 1
	pr, pw := io.Pipe()
	g, _ := errgroup.WithContext(context.Background())

	g.Go(func() error {
		w := NewWriter(pw, WithCompressionLevel(1))
		if err := w.CreateEntry(NewEntry("zeros", Deflate)); err != nil {
			return pw.CloseWithError(err)
		}
		if _, err := io.Copy(w, &zeroReader{n: size}); err != nil {
			return pw.CloseWithError(err)
		}
		if err := w.CloseEntry(); err != nil {
			return pw.CloseWithError(err)
		}
		if err := w.CreateEntry(&Entry{Name: "tail", Method: Store, UncompressedSize: 4, CRC32: crc32.ChecksumIEEE([]byte("tail"))}); err != nil {
			return pw.CloseWithError(err)
		}
		if _, err := w.Write([]byte("tail")); err != nil {
			return pw.CloseWithError(err)
		}
		if err := w.CloseEntry(); err != nil {
			return pw.CloseWithError(err)
		}
		if err := w.Close(); err != nil {
			return pw.CloseWithError(err)
		}
		return pw.Close()
	})

	r := NewReader(pr)
	e, err := r.Next()
	require.NoError(t, err)
	n, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, size, uint64(n))
	assert.Equal(t, size, e.UncompressedSize)

	e, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "tail", e.Name)
	assert.Greater(t, e.Offset, size/2000, "offset of the second entry reflects the compressed first entry")
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(got))

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
	_, _ = io.Copy(io.Discard, pr)
	require.NoError(t, g.Wait())
}
