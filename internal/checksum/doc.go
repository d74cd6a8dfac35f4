// Package checksum implements the incremental digest verification used by the
// fetch pipeline. A Verifier is fed chunks as they arrive from the network and
// reports at end-of-stream whether the content matches the expected digest.
// Mismatches are results, not errors: callers decide whether to retry.
//
// The algorithm is fixed per process (config DigestAlgorithm). sha256/sha512
// are delegated to github.com/opencontainers/go-digest; sha1, which most game
// distribution manifests still publish, uses crypto/sha1 because go-digest
// does not register it.
package checksum
