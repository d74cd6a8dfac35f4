// Package pipeline runs one manifest end to end: resolve jobs for the current
// platform, fetch every file through the batch scheduler, then extract the
// archives that declare extraction steps, in manifest order.
//
// Extraction starts only after the whole batch has been fetched. A failing
// archive does not stop the others and nothing already written is rolled
// back; every failure is collected into the returned error.
package pipeline
