// Package fetch downloads a single content-addressed descriptor to a
// destination path.
//
// A fetch first consults the download cache. On a hit the cached file is
// linked (or copied) to the destination without any network access. On a miss
// the body is streamed into a temporary file next to the destination while it
// is hashed; the temporary file replaces the destination only after the digest
// matches, and the destination is then recorded in the cache.
//
// Digest mismatches, network faults, retryable HTTP statuses and per-attempt
// timeouts all restart the transfer from scratch after an exponential backoff.
// The number of attempts is bounded; running out yields *ExhaustedError, which
// callers can tell apart from the transient *MismatchError and *StatusError
// values carried inside it.
package fetch
