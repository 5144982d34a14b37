// Package jarstream reads, verifies and signs ZIP-family archives as
// forward-only streams.
//
// Entries are checked against their CRC-32 and sizes as they are read, and
// against a signed manifest in the same pass: no seeking, no second read.
// Signature metadata (META-INF/MANIFEST.MF, META-INF/*.SF and the PKCS#7
// blocks next to them) must come before the entries it covers, as signing
// tools write it.
//
// For the container codec alone, use the [archive] subpackage. The
// verification state machine, manifest codec and signer interning live in
// the [verify] subpackage.
//
// # Quick Start
//
// Verify an archive read from any stream:
//
//	f, err := os.Open("app.jar")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	a := jarstream.Open(f)
//	report, err := a.Verify(ctx)
//	if err != nil {
//	    return err // malformed or corrupt container
//	}
//	if !report.Signed() {
//	    return errors.New("archive is not fully signed")
//	}
//
// Read entries while they are verified:
//
//	for {
//	    e, err := a.Next()
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    data, err := a.ReadEntry()
//	    if err != nil {
//	        return err
//	    }
//	    signers := a.Signers(e.Name) // final once the entry is read
//	    ...
//	}
//
// # Signing
//
// Sign copies an archive, placing a manifest, signature file and PKCS#7
// block in front of the entries:
//
//	signer, err := verify.NewPKCS7Signer(cert, key, intermediates...)
//	if err != nil {
//	    return err
//	}
//	err = jarstream.Sign(ctx, out, in, signer, jarstream.SignWithName("RELEASE"))
//
// # Trust Domains
//
// [Archive.CodeSource] maps an origin and an entry's signers to a token that
// is pointer-identical for equal inputs. Share a [verify.Domains] and a
// [verify.SignerCache] across archives with [WithDomains] and
// [WithSignerCache] to compare tokens between archives.
//
// Certificate chains are reported but not validated against any trust
// store; deciding which signers to trust is left to the caller.
package jarstream
