// Package progress renders advisory, line-oriented progress for fetch and
// extraction work.
//
// Output is only produced when the sink is interactive (a terminal, or the
// "always" mode). A non-interactive sink receives nothing, so the file-system
// results of a run never depend on whether progress is displayed. Counters are
// kept regardless of the sink and can be read through Snapshot, which the
// diagnostics server exposes at /-/status.
package progress
