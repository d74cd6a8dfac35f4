// Package cache implements the persistent, content-addressed download cache:
// a table mapping a content digest to the absolute path of a file that was
// verified against that digest.
//
// The table is trusted opportunistically. Lookup only checks that the recorded
// path still exists on disk; callers that need stronger guarantees re-hash
// the file themselves (fetch.Options.VerifyCacheHits). Two backends exist:
//
//	json  a single JSON object rewritten in full (temp file + rename) on every
//	      mutation, guarded by a mutex and a sidecar .lock file
//	bolt  a bbolt database with one bucket, for very large tables
//
// A table that cannot be parsed is deleted and replaced by an empty one;
// opening the cache never fails because of corrupt local state.
package cache
