package verify

import "log/slog"

// Option configures a Verifier.
type Option func(*Verifier)

// WithBlockVerifier replaces the PKCS#7 signature block verifier.
func WithBlockVerifier(bv BlockVerifier) Option {
	return func(v *Verifier) {
		if bv != nil {
			v.blocks = bv
		}
	}
}

// WithDigestAlgorithms sets the accepted digest algorithms.
// The default is DefaultAlgorithms.
func WithDigestAlgorithms(algs *Algorithms) Option {
	return func(v *Verifier) {
		if algs != nil {
			v.algs = algs
		}
	}
}

// WithLogger sets the logger for verification events.
// Rejected signatures are reported here at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithSignerCache shares a signer cache between verifiers, so that archives
// signed by the same chain yield the same *SignerSet.
func WithSignerCache(c *SignerCache) Option {
	return func(v *Verifier) {
		if c != nil {
			v.cache = c
		}
	}
}

// WithMaxMetadataSize limits how many bytes of the manifest and of each
// signature file or block are buffered. Larger entries are ignored, leaving
// the content they would sign unsigned. The default is
// DefaultMaxMetadataSize; zero or less keeps the default.
func WithMaxMetadataSize(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.maxMeta = n
		}
	}
}
