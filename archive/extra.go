package archive

import (
	"fmt"
	"time"

	"github.com/meigma/jarstream/internal/wire"
)

// Extended timestamp presence flags (tag 0x5455).
const (
	extTimeModified = 1 << iota
	extTimeAccessed
	extTimeCreated
)

// zip64Need lists which fixed-width fields held the ZIP64 sentinel and must
// be taken from the ZIP64 extra record, in record order.
type zip64Need struct {
	usize, csize, offset bool
}

// parseExtra applies the extra block of e to its sizes and timestamps and
// returns the ZIP64 fields that were needed but not found.
//
// Parsing is opportunistic: unknown tags are skipped and a record whose
// declared size overruns the block ends parsing. A ZIP64 record too short
// for a field that needs it is malformed.
func parseExtra(e *Entry, need zip64Need) (zip64Need, error) {
	var modified, accessed, created time.Time
	var haveNTFS bool

	for extra := wire.ReadBuf(e.Extra); extra.Len() >= 4; {
		tag := extra.Uint16()
		size := int(extra.Uint16())
		if extra.Len() < size {
			break
		}
		field := extra.Sub(size)

		switch tag {
		case zip64ExtraID:
			if need.usize {
				if field.Len() < 8 {
					return need, fmt.Errorf("%w: short zip64 record for %q", ErrMalformed, e.Name)
				}
				need.usize = false
				e.UncompressedSize = field.Uint64()
			}
			if need.csize {
				if field.Len() < 8 {
					return need, fmt.Errorf("%w: short zip64 record for %q", ErrMalformed, e.Name)
				}
				need.csize = false
				e.CompressedSize = field.Uint64()
			}
			if need.offset {
				if field.Len() < 8 {
					return need, fmt.Errorf("%w: short zip64 record for %q", ErrMalformed, e.Name)
				}
				need.offset = false
				e.Offset = field.Uint64()
			}
		case ntfsExtraID:
			if field.Len() < 4 {
				continue
			}
			field.Uint32() // reserved
			for field.Len() >= 4 {
				attrTag := field.Uint16()
				attrSize := int(field.Uint16())
				if field.Len() < attrSize {
					break
				}
				attr := field.Sub(attrSize)
				if attrTag != 1 || attrSize != 24 {
					continue
				}
				modified = wire.NTFSToTime(attr.Uint64())
				accessed = wire.NTFSToTime(attr.Uint64())
				created = wire.NTFSToTime(attr.Uint64())
				haveNTFS = true
			}
		case extTimeExtraID:
			if haveNTFS || field.Len() < 1 {
				continue
			}
			flags := field.Uint8()
			if flags&extTimeModified != 0 && field.Len() >= 4 {
				modified = time.Unix(int64(int32(field.Uint32())), 0).UTC()
			}
			if flags&extTimeAccessed != 0 && field.Len() >= 4 {
				accessed = time.Unix(int64(int32(field.Uint32())), 0).UTC()
			}
			if flags&extTimeCreated != 0 && field.Len() >= 4 {
				created = time.Unix(int64(int32(field.Uint32())), 0).UTC()
			}
		}
	}

	if !modified.IsZero() {
		e.Modified = modified
	}
	if !accessed.IsZero() {
		e.Accessed = accessed
	}
	if !created.IsZero() {
		e.Created = created
	}
	return need, nil
}

// hasExtraTag reports whether extra holds a well-formed record with tag.
func hasExtraTag(extra []byte, tag uint16) bool {
	for b := wire.ReadBuf(extra); b.Len() >= 4; {
		t := b.Uint16()
		size := int(b.Uint16())
		if b.Len() < size {
			return false
		}
		if t == tag {
			return true
		}
		b.Sub(size)
	}
	return false
}

// stripExtra returns extra without records carrying any of the given tags.
func stripExtra(extra []byte, tags ...uint16) []byte {
	if len(extra) == 0 {
		return nil
	}
	out := make([]byte, 0, len(extra))
	for b := wire.ReadBuf(extra); b.Len() >= 4; {
		rec := []byte(b)
		tag := b.Uint16()
		size := int(b.Uint16())
		if b.Len() < size {
			// Keep the malformed tail verbatim; readers stop at it.
			return append(out, rec...)
		}
		b.Sub(size)
		drop := false
		for _, t := range tags {
			if tag == t {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, rec[:4+size]...)
		}
	}
	return out
}

// needsTimeExtra reports whether e carries times a DOS field cannot hold.
func needsTimeExtra(e *Entry) bool {
	return !e.Accessed.IsZero() || !e.Created.IsZero() || !wire.InDOSRange(e.Modified)
}

// timeExtra builds the timestamp record for e. Times outside the signed
// 32-bit Unix range use the NTFS record; otherwise the extended timestamp
// record is used. In the central directory the extended record carries only
// the modification time, with the flags still announcing every time present
// in the local header.
func timeExtra(e *Entry, central bool) []byte {
	if !needsTimeExtra(e) {
		return nil
	}
	times := []time.Time{e.Modified, e.Accessed, e.Created}
	useNTFS := false
	for _, t := range times {
		if !t.IsZero() && !wire.FitsUnix32(t) {
			useNTFS = true
		}
	}

	if useNTFS {
		buf := make([]byte, 36)
		b := wire.WriteBuf(buf)
		b.Uint16(ntfsExtraID)
		b.Uint16(32)
		b.Uint32(0) // reserved
		b.Uint16(1) // attribute tag
		b.Uint16(24)
		for _, t := range times {
			if t.IsZero() {
				t = e.Modified
			}
			b.Uint64(wire.TimeToNTFS(t))
		}
		return buf
	}

	var flags uint8
	var values []uint32
	for i, t := range times {
		if t.IsZero() {
			continue
		}
		flags |= 1 << i
		if central && i > 0 {
			continue
		}
		values = append(values, uint32(int32(t.Unix()))) //nolint:gosec // range checked by FitsUnix32
	}
	buf := make([]byte, 4+1+4*len(values))
	b := wire.WriteBuf(buf)
	b.Uint16(extTimeExtraID)
	b.Uint16(uint16(1 + 4*len(values))) //nolint:gosec // at most 13
	b.Uint8(flags)
	for _, v := range values {
		b.Uint32(v)
	}
	return buf
}
