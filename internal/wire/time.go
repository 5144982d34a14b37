package wire

import (
	"math"
	"time"
)

const (
	// ntfsTicksPerSecond is the resolution of Windows FILETIME values.
	ntfsTicksPerSecond = 10_000_000

	// ntfsEpochOffset is the number of seconds between 1601-01-01 and 1970-01-01.
	ntfsEpochOffset = 11_644_473_600
)

// DOS timestamps cover 1980-01-01 through 2107-12-31 with 2s resolution.
var (
	dosMin = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	dosMax = time.Date(2107, time.December, 31, 23, 59, 58, 0, time.UTC)
)

// DOSToTime converts an MS-DOS date and time pair into a UTC time.
func DOSToTime(date, tm uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(date>>9+1980),
		time.Month(date>>5&0xf),
		int(date&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(tm>>11),
		int(tm>>5&0x3f),
		int(tm&0x1f*2),
		0,

		time.UTC,
	)
}

// TimeToDOS converts t to an MS-DOS date and time pair in UTC.
// ok is false when t lies outside the DOS range; the result is then clamped
// to the nearest representable value and callers should also record t in an
// extended timestamp field.
func TimeToDOS(t time.Time) (date, tm uint16, ok bool) {
	t = t.UTC()
	ok = true
	switch {
	case t.Before(dosMin):
		t, ok = dosMin, false
	case t.After(dosMax):
		t, ok = dosMax, false
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9) //nolint:gosec // range clamped above
	tm = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)        //nolint:gosec // range clamped above
	return date, tm, ok
}

// InDOSRange reports whether t survives a DOS round trip without clamping.
func InDOSRange(t time.Time) bool {
	_, _, ok := TimeToDOS(t)
	return ok
}

// FitsUnix32 reports whether t can be stored as a signed 32-bit Unix time.
func FitsUnix32(t time.Time) bool {
	s := t.Unix()
	return s >= math.MinInt32 && s <= math.MaxInt32
}

// NTFSToTime converts a Windows FILETIME (100ns ticks since 1601) to UTC.
func NTFSToTime(ticks uint64) time.Time {
	secs := int64(ticks/ntfsTicksPerSecond) - ntfsEpochOffset //nolint:gosec // FILETIME fits int64 seconds
	nsecs := int64(ticks%ntfsTicksPerSecond) * 100           //nolint:gosec // bounded by ticks per second
	return time.Unix(secs, nsecs).UTC()
}

// TimeToNTFS converts t to a Windows FILETIME.
func TimeToNTFS(t time.Time) uint64 {
	secs := t.Unix() + ntfsEpochOffset
	if secs < 0 {
		return 0
	}
	return uint64(secs)*ntfsTicksPerSecond + uint64(t.Nanosecond()/100) //nolint:gosec // secs checked non-negative
}
