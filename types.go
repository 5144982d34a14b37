package jarstream

import (
	"github.com/meigma/jarstream/archive"
	"github.com/meigma/jarstream/verify"
)

// Re-export archive types.
type (
	// Entry is the metadata of one archive entry.
	Entry = archive.Entry

	// Method is an entry compression method.
	Method = archive.Method
)

// Compression methods.
const (
	Store   = archive.Store
	Deflate = archive.Deflate
	Zstd    = archive.Zstd
)

// Re-export verification types.
type (
	// SignerSet is an interned set of signer certificate chains.
	SignerSet = verify.SignerSet

	// Signer is a single certificate chain, leaf first.
	Signer = verify.Signer

	// CodeSource is a trust-domain token for an origin and signer set.
	CodeSource = verify.CodeSource

	// Status is the signature state of an entry.
	Status = verify.Status

	// BlockSigner produces signature blocks.
	BlockSigner = verify.BlockSigner

	// DigestAlgorithm is a manifest digest algorithm.
	DigestAlgorithm = verify.DigestAlgorithm
)

// Entry signature states.
const (
	StatusUnsigned = verify.StatusUnsigned
	StatusPending  = verify.StatusPending
	StatusVerified = verify.StatusVerified
	StatusTampered = verify.StatusTampered
)
