// Package archive encodes and decodes ZIP-family containers as forward-only
// byte streams.
//
// [Reader] walks local headers in stored order and never seeks: an entry's
// bytes are checked against its CRC-32 and sizes as they are read, including
// entries whose sizes follow the payload in a data descriptor. An
// [EntryObserver] attached with [WithObserver] sees every decompressed byte,
// which is how the verify package checks digests without a second pass.
//
// [Writer] emits entries in append order and picks the header layout per
// entry:
//   - sizes declared up front: the local header carries them
//   - Deflate with unknown sizes: a data descriptor follows the payload
//   - other methods with unknown sizes: the payload is buffered in memory
//
// Sizes and offsets that do not fit 32 bits are promoted to the ZIP64 extra
// record field by field, and the ZIP64 end record is written only when the
// entry count or directory position requires it.
//
// [ReadDirectory] reads the central directory of an archive held in an
// io.ReaderAt for random access.
//
// Stored (0), Deflate (8) and Zstandard (93) are built in. Other methods can
// be added with [RegisterCompressor] and [RegisterDecompressor]. Encrypted
// entries and multi-disk archives are not supported.
package archive
