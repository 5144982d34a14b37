package verify

import "errors"

// Sentinel errors for signature verification.
//
// None of these escape the read path: the Verifier logs them and treats the
// affected entries as unsigned. They are returned by the parsing and signing
// helpers that callers use directly.
var (
	// ErrNoManifest indicates a signature block was processed without a manifest.
	ErrNoManifest = errors.New("verify: no manifest")

	// ErrMalformedManifest indicates a manifest or signature file could not be parsed.
	ErrMalformedManifest = errors.New("verify: malformed manifest")

	// ErrBadSignature indicates a signature block failed to parse or verify.
	ErrBadSignature = errors.New("verify: bad signature block")

	// ErrUnsupportedAlgorithm indicates no supported digest algorithm was found.
	ErrUnsupportedAlgorithm = errors.New("verify: unsupported digest algorithm")

	// ErrUnsupportedKey indicates a signing key type with no block extension.
	ErrUnsupportedKey = errors.New("verify: unsupported signing key")

	// ErrDigestMismatch indicates a computed digest differs from the recorded one.
	ErrDigestMismatch = errors.New("verify: digest mismatch")
)
