package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufRoundTrip(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 1+2+4+8+3)
	w := WriteBuf(raw)
	w.Uint8(0x7f)
	w.Uint16(0xbeef)
	w.Uint32(0x04034b50)
	w.Uint64(1 << 40)
	w.Bytes([]byte("abc"))
	assert.Empty(t, w)

	// Little-endian on the wire.
	assert.Equal(t, []byte{0x50, 0x4b, 0x03, 0x04}, raw[3:7])

	r := ReadBuf(raw)
	assert.Equal(t, uint8(0x7f), r.Uint8())
	assert.Equal(t, uint16(0xbeef), r.Uint16())
	assert.Equal(t, uint32(0x04034b50), r.Uint32())
	assert.Equal(t, uint64(1<<40), r.Uint64())
	sub := r.Sub(3)
	assert.Equal(t, "abc", string(sub))
	assert.Equal(t, 0, r.Len())
}

func TestDOSTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     time.Time
		want   time.Time
		wantOK bool
	}{
		{
			name:   "in range",
			in:     time.Date(2024, time.March, 9, 13, 45, 31, 0, time.UTC),
			want:   time.Date(2024, time.March, 9, 13, 45, 30, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "before 1980 clamps",
			in:     time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC),
			want:   time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC),
			wantOK: false,
		},
		{
			name:   "after 2107 clamps",
			in:     time.Date(2200, time.June, 1, 0, 0, 0, 0, time.UTC),
			want:   time.Date(2107, time.December, 31, 23, 59, 58, 0, time.UTC),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			date, tm, ok := TimeToDOS(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, tt.want.Equal(DOSToTime(date, tm)), "got %s", DOSToTime(date, tm))
		})
	}
}

func TestNTFSTime(t *testing.T) {
	t.Parallel()

	in := time.Date(2301, time.July, 4, 1, 2, 3, 456_700_000, time.UTC)
	require.False(t, FitsUnix32(in))
	assert.True(t, in.Equal(NTFSToTime(TimeToNTFS(in))))

	epoch := time.Unix(0, 0)
	assert.Equal(t, uint64(116_444_736_000_000_000), TimeToNTFS(epoch))
	assert.True(t, FitsUnix32(epoch))
}
