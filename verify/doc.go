// Package verify checks archive entries against a signed manifest while the
// archive is streamed.
//
// A [Verifier] is an archive.EntryObserver. While the archive's signature
// metadata is being read it buffers META-INF/MANIFEST.MF, signature files
// (META-INF/*.SF) and signature blocks (META-INF/*.RSA, *.DSA, *.EC). Each
// block is checked by a [BlockVerifier] over its signature file, and the
// signature file is checked against the manifest: first as a whole, then
// section by section. Every entry the signature file covers is then
// expected to match its manifest digest when its bytes go by.
//
// The first entry that is not signature metadata seals the Verifier. From
// then on no signature metadata is accepted and entries listed as signed
// are digested as they are read.
//
// # Failures
//
// Cryptographic failures never abort reading. A block that fails to verify
// leaves its entries unsigned; an entry whose bytes do not match the
// manifest is reported as [StatusTampered] and has no signers. Details are
// logged at debug level.
//
// # Identity
//
// Signer chains are interned by a [SignerCache], so equal chains in
// different blocks or archives yield the same *[SignerSet]. [Domains] maps an
// origin and a signer set to a [CodeSource] token that can be compared with
// ==.
package verify
