package jarstream

import (
	"log/slog"

	"github.com/meigma/jarstream/verify"
)

// Option configures an Archive.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	maxEntrySize uint64
	domains      *verify.Domains
	verifyOpts   []verify.Option
	progress     ProgressFunc
}

// WithLogger sets the logger for container and verification events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxEntrySize limits the decompressed size of any entry, including the
// signature metadata buffered for verification. Set limit to 0 to disable
// the limit.
func WithMaxEntrySize(limit uint64) Option {
	return func(c *config) {
		c.maxEntrySize = limit
	}
}

// WithDomains sets the registry that mints CodeSource tokens. Share one
// registry, together with WithSignerCache, across archives so that equal
// origins and signers yield the same token.
func WithDomains(d *verify.Domains) Option {
	return func(c *config) {
		if d != nil {
			c.domains = d
		}
	}
}

// WithSignerCache shares signer interning across archives.
func WithSignerCache(sc *verify.SignerCache) Option {
	return func(c *config) {
		c.verifyOpts = append(c.verifyOpts, verify.WithSignerCache(sc))
	}
}

// WithBlockVerifier replaces the PKCS#7 signature block verifier.
func WithBlockVerifier(bv verify.BlockVerifier) Option {
	return func(c *config) {
		c.verifyOpts = append(c.verifyOpts, verify.WithBlockVerifier(bv))
	}
}

// WithDigestAlgorithms sets the accepted manifest digest algorithms.
func WithDigestAlgorithms(algs *verify.Algorithms) Option {
	return func(c *config) {
		c.verifyOpts = append(c.verifyOpts, verify.WithDigestAlgorithms(algs))
	}
}

// WithMaxMetadataSize limits how many bytes of each signature metadata
// entry are buffered. See verify.WithMaxMetadataSize.
func WithMaxMetadataSize(n int) Option {
	return func(c *config) {
		c.verifyOpts = append(c.verifyOpts, verify.WithMaxMetadataSize(n))
	}
}

// WithProgress sets a callback invoked as Verify completes each entry.
func WithProgress(fn ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}

func newConfig(opts []Option) config {
	cfg := config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.domains == nil {
		cfg.domains = verify.NewDomains()
	}
	return cfg
}
