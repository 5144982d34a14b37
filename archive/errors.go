package archive

import "errors"

// Sentinel errors. Failures are wrapped with context; test with errors.Is.
var (
	// ErrMalformed is returned when a record signature does not match or a
	// header is truncated. Enumeration cannot continue.
	ErrMalformed = errors.New("archive: malformed container")

	// ErrIntegrity is returned when an entry's CRC-32 or sizes disagree with
	// the bytes actually delivered. The entry must not be trusted.
	ErrIntegrity = errors.New("archive: integrity check failed")

	// ErrUnsupported is returned for encrypted entries, unknown compression
	// methods, and layouts that cannot be streamed.
	ErrUnsupported = errors.New("archive: unsupported feature")

	// ErrNameTooLong is returned when an entry name exceeds 65535 bytes.
	ErrNameTooLong = errors.New("archive: name too long")

	// ErrExtraTooLong is returned when an extra field block exceeds 65535 bytes.
	ErrExtraTooLong = errors.New("archive: extra field too long")

	// ErrCommentTooLong is returned when a comment exceeds 65535 bytes.
	ErrCommentTooLong = errors.New("archive: comment too long")

	// ErrDuplicateName is returned when a writer sees the same entry name twice.
	ErrDuplicateName = errors.New("archive: duplicate entry name")

	// ErrClosed is returned by write operations after Close.
	ErrClosed = errors.New("archive: write to closed archive")

	// ErrSizeMismatch is returned when bytes written disagree with a declared size.
	ErrSizeMismatch = errors.New("archive: size mismatch")

	// ErrCRCMismatch is returned when bytes written disagree with a declared CRC-32.
	ErrCRCMismatch = errors.New("archive: crc-32 mismatch")

	// ErrEntryOpen is returned by Close while an entry is still being written.
	ErrEntryOpen = errors.New("archive: entry still open")

	// ErrNoEntry is returned by Write or Read when no entry is open.
	ErrNoEntry = errors.New("archive: no open entry")

	// ErrSizeOverflow is returned when an entry exceeds a configured limit.
	ErrSizeOverflow = errors.New("archive: size overflow")
)
