package jarstream

import (
	"log/slog"

	"github.com/meigma/jarstream/verify"
)

// SignOption configures a Sign operation.
type SignOption func(*signConfig)

// signConfig holds configuration for the Sign operation.
type signConfig struct {
	name     string
	alg      verify.DigestAlgorithm
	tempDir  string
	level    int
	hasLevel bool
	logger   *slog.Logger
	progress ProgressFunc
}

// SignWithName sets the base name of the signature entries,
// META-INF/<NAME>.SF and META-INF/<NAME>.<EXT>. It is upper-cased.
// The default is "SIGNER".
func SignWithName(name string) SignOption {
	return func(c *signConfig) {
		c.name = name
	}
}

// SignWithDigest sets the digest algorithm used in the manifest and the
// signature file. The default is SHA-256.
func SignWithDigest(alg verify.DigestAlgorithm) SignOption {
	return func(c *signConfig) {
		if alg != nil {
			c.alg = alg
		}
	}
}

// SignWithTempDir sets the directory for the spool file holding entry
// contents between the digest and write passes. The default is os.TempDir.
func SignWithTempDir(dir string) SignOption {
	return func(c *signConfig) {
		c.tempDir = dir
	}
}

// SignWithCompressionLevel sets the Deflate level of the output archive.
func SignWithCompressionLevel(level int) SignOption {
	return func(c *signConfig) {
		c.level = level
		c.hasLevel = true
	}
}

// SignWithLogger sets the logger for signing events.
func SignWithLogger(logger *slog.Logger) SignOption {
	return func(c *signConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// SignWithProgress sets a callback for signing progress.
func SignWithProgress(fn ProgressFunc) SignOption {
	return func(c *signConfig) {
		c.progress = fn
	}
}
