package jarstream

import (
	"errors"

	"github.com/meigma/jarstream/archive"
	"github.com/meigma/jarstream/verify"
)

// Errors re-exported from archive.
var (
	// ErrMalformed is returned when the container structure is invalid.
	ErrMalformed = archive.ErrMalformed

	// ErrIntegrity is returned when an entry's CRC-32 or sizes do not match its bytes.
	ErrIntegrity = archive.ErrIntegrity

	// ErrUnsupported is returned for encrypted entries and unknown compression methods.
	ErrUnsupported = archive.ErrUnsupported

	// ErrDuplicateName is returned when an archive names the same entry twice.
	ErrDuplicateName = archive.ErrDuplicateName

	// ErrSizeOverflow is returned when an entry exceeds the configured size limit.
	ErrSizeOverflow = archive.ErrSizeOverflow
)

// Errors re-exported from verify.
var (
	// ErrBadSignature is returned when a signature block cannot be verified.
	ErrBadSignature = verify.ErrBadSignature

	// ErrUnsupportedKey is returned when a signing key has no block format.
	ErrUnsupportedKey = verify.ErrUnsupportedKey
)

// Sentinel errors.
var (
	// ErrInvalidSignerName is returned when a signature base name is empty or
	// contains characters other than A-Z, 0-9, '-' and '_'.
	ErrInvalidSignerName = errors.New("jarstream: invalid signer name")

	// ErrDirectoryMismatch is returned when the central directory does not
	// list the entries found by streaming.
	ErrDirectoryMismatch = errors.New("jarstream: central directory does not match entries")
)
