// Command jarverify verifies signed archives.
//
// Each argument is a local path or an http(s) URL. Archives are streamed
// once: entries are checked against their CRC-32 and against the signed
// manifest as they are read. For every entry a line is printed:
//
//	archive  name  status  signer
//
// The exit status is 1 if any archive is malformed or corrupt, and with
// -strict also if any archive is not fully signed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/felixge/fgprof"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/jarstream"
	"github.com/meigma/jarstream/verify"
)

type config struct {
	origin       string
	verbose      bool
	workers      int
	strict       bool
	directory    bool
	maxEntrySize uint64
	fgProfile    string
}

func main() {
	os.Exit(mainCode())
}

func mainCode() int {
	cfg := parseFlags()
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if cfg.fgProfile != "" {
		fgFile, err := os.Create(cfg.fgProfile)
		if err != nil {
			logger.Error("create profile", slog.Any("error", err))
			return 1
		}
		stop := fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stop(); err != nil {
				logger.Error("fgprof stop", slog.Any("error", err))
			}
			_ = fgFile.Close()
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	return run(ctx, cfg, flag.Args(), os.Stdout, logger)
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.origin, "origin", "", "origin used for code sources (default: the archive location)")
	flag.BoolVar(&cfg.verbose, "v", false, "log verification details to stderr")
	flag.IntVar(&cfg.workers, "workers", runtime.GOMAXPROCS(0), "archives verified concurrently")
	flag.BoolVar(&cfg.strict, "strict", false, "fail unless every entry is signed and verified")
	flag.BoolVar(&cfg.directory, "directory", true, "check local files against their central directory")
	flag.Uint64Var(&cfg.maxEntrySize, "max-entry-size", 1<<30, "largest entry in bytes (0 disables the limit)")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: jarverify [flags] archive...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	return cfg
}

// result is the outcome of verifying one archive.
type result struct {
	location    string
	report      *jarstream.Report
	codeSources int
	err         error
}

// run verifies every archive and writes the results to out in argument
// order. It returns the process exit status.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func run(ctx context.Context, cfg config, locations []string, out io.Writer, logger *slog.Logger) int {
	cache, domains := verify.NewSignerCache(), verify.NewDomains()
	results := make([]result, len(locations))

	g, ctx := errgroup.WithContext(ctx)
	if cfg.workers > 0 {
		g.SetLimit(cfg.workers)
	}
	for i, loc := range locations {
		g.Go(func() error {
			opts := []jarstream.Option{
				jarstream.WithLogger(logger.With(slog.String("archive", loc))),
				jarstream.WithSignerCache(cache),
				jarstream.WithDomains(domains),
				jarstream.WithMaxEntrySize(cfg.maxEntrySize),
			}
			results[i] = verifyLocation(ctx, cfg, loc, opts)
			if results[i].err != nil && errors.Is(results[i].err, context.Canceled) {
				return results[i].err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("verification interrupted", slog.Any("error", err))
		return 1
	}

	code := 0
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, res := range results {
		if res.err != nil {
			fmt.Fprintf(tw, "%s\t-\terror\t%v\n", res.location, res.err)
			code = 1
			continue
		}
		for _, e := range res.report.Entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.location, e.Name, e.Status, subject(e.Signers))
		}
		if cfg.strict && !res.report.Signed() {
			code = 1
		}
		logger.Info("archive verified",
			slog.String("archive", res.location),
			slog.Int("entries", len(res.report.Entries)),
			slog.Int("code_sources", res.codeSources),
			slog.Bool("signed", res.report.Signed()))
	}
	if err := tw.Flush(); err != nil {
		logger.Error("write results", slog.Any("error", err))
		return 1
	}
	return code
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func verifyLocation(ctx context.Context, cfg config, loc string, opts []jarstream.Option) result {
	res := result{location: loc}
	origin := cfg.origin

	var a *jarstream.Archive
	var file *jarstream.File
	if isURL(loc) {
		body, err := fetch(ctx, loc)
		if err != nil {
			res.err = err
			return res
		}
		defer body.Close()
		a = jarstream.Open(body, opts...)
		if origin == "" {
			origin = loc
		}
	} else {
		f, err := jarstream.OpenFile(loc, opts...)
		if err != nil {
			res.err = err
			return res
		}
		defer f.Close()
		a, file = f.Archive, f
		if origin == "" {
			abs, _ := filepath.Abs(loc)
			origin = "file:" + filepath.ToSlash(abs)
		}
	}

	report, err := a.Verify(ctx)
	if err != nil {
		res.err = err
		return res
	}
	if file != nil && cfg.directory {
		if err := file.CheckDirectory(report); err != nil {
			res.err = err
			return res
		}
	}
	res.report = report

	seen := make(map[*jarstream.CodeSource]struct{})
	for _, e := range report.Entries {
		seen[a.CodeSource(origin, e.Name)] = struct{}{}
	}
	res.codeSources = len(seen)
	return res
}

// subject returns the common names of the leaf certificates in set.
func subject(set *jarstream.SignerSet) string {
	if set.Len() == 0 {
		return "-"
	}
	names := make([]string, 0, set.Len())
	for _, s := range set.Signers() {
		names = append(names, s.Certificate().Subject.CommonName)
	}
	return strings.Join(names, ",")
}
