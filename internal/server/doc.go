// Package server holds the network-facing glue of a fetch run: the shared
// upstream HTTP client used by every download, and the optional Fiber
// diagnostics app that exposes run progress, cache contents and prometheus
// metrics under /-/ while a run is in flight. The diagnostics app is only
// started when StatusListenPort is set; fetch correctness never depends on it.
package server
