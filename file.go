package jarstream

import (
	"fmt"
	"os"

	"github.com/meigma/jarstream/archive"
)

// File is an Archive read from a local file. Close must be called to
// release the file handle.
type File struct {
	*Archive
	file *os.File
	size int64
	opts []Option
}

// OpenFile opens the archive at path for streaming verification.
func OpenFile(path string, opts ...Option) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close() //nolint:errcheck // the Stat error is returned
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return &File{
		Archive: Open(f, opts...),
		file:    f,
		size:    info.Size(),
		opts:    opts,
	}, nil
}

// Directory reads the archive's central directory. It does not disturb the
// streaming position of the Archive.
func (f *File) Directory() (*archive.Directory, error) {
	cfg := newConfig(f.opts)
	return archive.ReadDirectory(f.file, f.size,
		archive.WithLogger(cfg.logger),
		archive.WithMaxEntrySize(cfg.maxEntrySize))
}

// CheckDirectory compares the entries in report, as found by streaming,
// with the central directory. Archives whose central directory lists other
// entries, lists them in another order, or points a name at a record with
// another offset, CRC-32 or sizes are rejected with ErrDirectoryMismatch:
// readers that use the directory would see different content than was
// verified.
func (f *File) CheckDirectory(report *Report) error {
	dir, err := f.Directory()
	if err != nil {
		return err
	}
	if len(dir.Entries) != len(report.Entries) {
		return fmt.Errorf("%w: central directory has %d entries, stream has %d",
			ErrDirectoryMismatch, len(dir.Entries), len(report.Entries))
	}
	for i, e := range dir.Entries {
		got := report.Entries[i]
		if e.Name != got.Name {
			return fmt.Errorf("%w: entry %d is %q in the central directory, %q in the stream",
				ErrDirectoryMismatch, i, e.Name, got.Name)
		}
		if err := matchReport(e, got); err != nil {
			return err
		}
	}
	return nil
}

func matchReport(e *Entry, got EntryReport) error {
	switch {
	case e.Offset != got.Offset:
		return fmt.Errorf("%w: %q is at offset %d in the central directory, %d in the stream",
			ErrDirectoryMismatch, e.Name, e.Offset, got.Offset)
	case e.CRC32 != got.CRC32:
		return fmt.Errorf("%w: %q has crc-32 %#08x in the central directory, %#08x in the stream",
			ErrDirectoryMismatch, e.Name, e.CRC32, got.CRC32)
	case e.CompressedSize != got.CompressedSize || e.UncompressedSize != got.Size:
		return fmt.Errorf("%w: %q has sizes %d/%d in the central directory, %d/%d in the stream",
			ErrDirectoryMismatch, e.Name, e.CompressedSize, e.UncompressedSize, got.CompressedSize, got.Size)
	}
	return nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
