package archive

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterDuplicateName(t *testing.T) {
	t.Parallel()

	w := NewWriter(io.Discard)
	require.NoError(t, w.CreateEntry(NewEntry("same", Deflate)))
	require.NoError(t, w.CloseEntry())

	err := w.CreateEntry(NewEntry("same", Store))
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestWriterClosed(t *testing.T) {
	t.Parallel()

	w := NewWriter(io.Discard)
	require.NoError(t, w.Close())

	require.ErrorIs(t, w.CreateEntry(NewEntry("late", Store)), ErrClosed)
	_, err := w.Write([]byte("x"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, w.CloseEntry(), ErrClosed)
	require.ErrorIs(t, w.SetComment("c"), ErrClosed)
	require.ErrorIs(t, w.Close(), ErrClosed)
}

func TestWriterCloseWithOpenEntry(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.CreateEntry(NewEntry("open", Deflate)))
	require.ErrorIs(t, w.Close(), ErrEntryOpen)

	require.NoError(t, w.CloseEntry())
	require.NoError(t, w.Close())
	assert.Len(t, readArchive(t, buf.Bytes()), 1)
}

func TestWriterWithoutEntry(t *testing.T) {
	t.Parallel()

	w := NewWriter(io.Discard)
	_, err := w.Write([]byte("x"))
	require.ErrorIs(t, err, ErrNoEntry)
	require.ErrorIs(t, w.CloseEntry(), ErrNoEntry)
}

func TestWriterDeclaredMismatch(t *testing.T) {
	t.Parallel()

	data := []byte("hello")
	tests := []struct {
		name   string
		method Method
		size   uint64
		crc    uint32
		write  []byte
		want   error
	}{
		{"short stored", Store, 5, crc32.ChecksumIEEE(data), data[:3], ErrSizeMismatch},
		{"long stored", Store, 3, crc32.ChecksumIEEE(data[:3]), data, ErrSizeMismatch},
		{"wrong crc stored", Store, 5, 0xdeadbeef, data, ErrCRCMismatch},
		{"short deflate", Deflate, 6, crc32.ChecksumIEEE(data), data, ErrSizeMismatch},
		{"wrong crc deflate", Deflate, 5, 1, data, ErrCRCMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := NewWriter(io.Discard)
			e := &Entry{Name: "f", Method: tt.method, UncompressedSize: tt.size, CRC32: tt.crc, CompressedSize: SizeUnknown}
			require.NoError(t, w.CreateEntry(e))
			_, werr := w.Write(tt.write)
			cerr := w.CloseEntry()
			require.ErrorIs(t, errors.Join(werr, cerr), tt.want)

			// The archive cannot be continued.
			require.Error(t, w.CreateEntry(NewEntry("next", Store)))
		})
	}
}

func TestWriterLimits(t *testing.T) {
	t.Parallel()

	w := NewWriter(io.Discard)
	require.ErrorIs(t, w.CreateEntry(NewEntry(strings.Repeat("n", 65536), Store)), ErrNameTooLong)

	e := NewEntry("comment", Store)
	e.Comment = strings.Repeat("c", 65536)
	require.ErrorIs(t, w.CreateEntry(e), ErrCommentTooLong)

	e = NewEntry("extra", Store)
	e.Extra = make([]byte, 65535)
	require.ErrorIs(t, w.CreateEntry(e), ErrExtraTooLong)

	e = NewEntry("locked", Store)
	e.Flags = FlagEncrypted
	require.ErrorIs(t, w.CreateEntry(e), ErrUnsupported)

	require.ErrorIs(t, w.CreateEntry(NewEntry("m", Method(77))), ErrUnsupported)
	require.ErrorIs(t, w.SetComment(strings.Repeat("c", 65536)), ErrCommentTooLong)

	// None of the rejected entries poisoned the writer.
	require.NoError(t, w.CreateEntry(NewEntry(strings.Repeat("n", 65535), Store)))
	require.NoError(t, w.CloseEntry())
	require.NoError(t, w.Close())
}

func TestWriterModes(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("compressible "), 100)
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	tests := []struct {
		name           string
		entry          *Entry
		wantDescriptor bool
	}{
		{
			name:  "stored declared",
			entry: &Entry{Name: "a", Method: Store, UncompressedSize: uint64(len(payload)), CRC32: crc32.ChecksumIEEE(payload)},
		},
		{
			name:  "stored unknown is buffered",
			entry: NewEntry("b", Store),
		},
		{
			name: "deflate fully declared",
			entry: &Entry{
				Name:             "c",
				Method:           Deflate,
				UncompressedSize: uint64(len(payload)),
				CompressedSize:   uint64(compressed.Len()),
				CRC32:            crc32.ChecksumIEEE(payload),
			},
		},
		{
			name:           "deflate unknown uses descriptor",
			entry:          NewEntry("d", Deflate),
			wantDescriptor: true,
		},
		{
			name:  "zstd unknown is buffered",
			entry: NewEntry("e", Zstd),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			w := NewWriter(&buf)
			require.NoError(t, w.CreateEntry(tt.entry))
			_, err := w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.CloseEntry())
			require.NoError(t, w.Close())

			got := readArchive(t, buf.Bytes())
			require.Len(t, got, 1)
			assert.Equal(t, payload, got[0].data)
			assert.Equal(t, tt.wantDescriptor, got[0].entry.HasDataDescriptor())
			assert.Equal(t, tt.entry.Method, got[0].entry.Method)
		})
	}
}

func TestWriterMaxBufferedEntry(t *testing.T) {
	t.Parallel()

	w := NewWriter(io.Discard, WithMaxBufferedEntry(8))
	require.NoError(t, w.CreateEntry(NewEntry("buffered", Store)))
	_, err := w.Write([]byte("12345678"))
	require.NoError(t, err)
	_, err = w.Write([]byte("9"))
	require.ErrorIs(t, err, ErrSizeOverflow)

	// The entry is incomplete and must not be written out.
	require.ErrorIs(t, w.CloseEntry(), ErrSizeOverflow)
	require.ErrorIs(t, w.Close(), ErrSizeOverflow)
	require.Error(t, w.CreateEntry(NewEntry("next", Store)))
}

func TestWriterMaxBufferedEntryZstd(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf, WithMaxBufferedEntry(4))
	require.NoError(t, w.CreateEntry(NewEntry("z", Zstd)))
	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = w.Write([]byte("defgh"))
	require.ErrorIs(t, err, ErrSizeOverflow)

	require.ErrorIs(t, w.CloseEntry(), ErrSizeOverflow)
	require.ErrorIs(t, w.Close(), ErrSizeOverflow)
	_, err = ReadDirectory(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.ErrorIs(t, err, ErrMalformed, "no central directory was written")
}

func TestWriterCompressionOptions(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("abcdefgh"), 1000)
	fixtures := []fixture{{name: "p", method: Deflate, data: payload}}

	stored := buildArchive(t, fixtures, WithCompressionLevel(flate.NoCompression))
	best := buildArchive(t, fixtures, WithCompressionLevel(flate.BestCompression))
	assert.Greater(t, len(stored), len(payload))
	assert.Less(t, len(best), len(payload)/10)

	for _, data := range [][]byte{stored, best} {
		got := readArchive(t, data)
		require.Len(t, got, 1)
		assert.Equal(t, payload, got[0].data)
	}

	var calls int
	custom := func(w io.Writer) (io.WriteCloser, error) {
		calls++
		return flate.NewWriter(w, flate.HuffmanOnly)
	}
	data := buildArchive(t, fixtures, WithCompressor(Deflate, custom))
	assert.Equal(t, 1, calls)
	got := readArchive(t, data)
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0].data)
}

func TestWriterTimestamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		modified time.Time
		accessed time.Time
		wantTag  uint16
	}{
		{"dos range", testTime, time.Time{}, 0},
		{"accessed time", testTime, time.Date(2024, time.May, 6, 7, 9, 11, 0, time.UTC), extTimeExtraID},
		{"before dos epoch", time.Date(1975, time.March, 1, 12, 0, 1, 0, time.UTC), time.Time{}, extTimeExtraID},
		{"before unix32", time.Date(1850, time.March, 1, 12, 0, 1, 0, time.UTC), time.Time{}, ntfsExtraID},
		{"after unix32", time.Date(2200, time.March, 1, 12, 0, 1, 0, time.UTC), time.Time{}, ntfsExtraID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			w := NewWriter(&buf)
			e := &Entry{Name: "t", Method: Store, Modified: tt.modified, Accessed: tt.accessed}
			require.NoError(t, w.CreateEntry(e))
			require.NoError(t, w.CloseEntry())
			require.NoError(t, w.Close())
			data := buf.Bytes()

			got := readArchive(t, data)
			require.Len(t, got, 1)
			assert.True(t, tt.modified.Equal(got[0].entry.Modified), "local modified %v", got[0].entry.Modified)
			if !tt.accessed.IsZero() {
				assert.True(t, tt.accessed.Equal(got[0].entry.Accessed), "accessed %v", got[0].entry.Accessed)
			}
			if tt.wantTag == 0 {
				assert.Empty(t, got[0].entry.Extra)
			} else {
				assert.True(t, hasExtraTag(got[0].entry.Extra, tt.wantTag))
			}

			dir, err := ReadDirectory(bytes.NewReader(data), int64(len(data)))
			require.NoError(t, err)
			require.Len(t, dir.Entries, 1)
			assert.True(t, tt.modified.Equal(dir.Entries[0].Modified), "central modified %v", dir.Entries[0].Modified)
		})
	}
}

func TestWriterUTF8Flag(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, []fixture{
		{name: "plain.txt", method: Store, declare: true},
		{name: "naïve.txt", method: Store, declare: true},
	})
	got := readArchive(t, data)
	require.Len(t, got, 2)
	assert.Zero(t, got[0].entry.Flags&FlagUTF8)
	assert.NotZero(t, got[1].entry.Flags&FlagUTF8)
	assert.Equal(t, "naïve.txt", got[1].entry.Name)
}

func TestWriterRegeneratesReservedExtra(t *testing.T) {
	t.Parallel()

	custom := []byte{0x34, 0x12, 2, 0, 'h', 'i'}
	stale := append(zip64Extra(sizeField(1<<40)), custom...)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	e := &Entry{Name: "x", Method: Store, Modified: testTime, Extra: stale}
	require.NoError(t, w.CreateEntry(e))
	require.NoError(t, w.CloseEntry())
	require.NoError(t, w.Close())

	got := readArchive(t, buf.Bytes())
	require.Len(t, got, 1)
	assert.Equal(t, custom, got[0].entry.Extra)
}
