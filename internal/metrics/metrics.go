// Package metrics holds the prometheus collectors for fetch, cache and
// extraction activity. Collectors live in a private registry so several
// pipelines (and tests) can coexist in one process. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "any_fetch"

// Attempt results.
const (
	ResultOK       = "ok"
	ResultMismatch = "mismatch"
	ResultError    = "error"
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultStale    = "stale"
	ResultWritten  = "written"
	ResultSkipped  = "skipped"
	ResultExisting = "existing"
)

type Metrics struct {
	registry *prometheus.Registry

	fetchAttempts    *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	downloadedBytes  prometheus.Counter
	extractedEntries *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "Download attempts by result.",
			},
			[]string{"result"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Download cache lookups by result.",
			},
			[]string{"result"},
		),
		downloadedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloaded_bytes_total",
				Help:      "Bytes received from upstreams, including discarded attempts.",
			},
		),
		extractedEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extracted_entries_total",
				Help:      "Archive entries by extraction result.",
			},
			[]string{"result"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time to produce a verified file, including retries.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
	}
	m.registry.MustRegister(m.fetchAttempts, m.cacheLookups, m.downloadedBytes, m.extractedEntries, m.fetchDuration)
	return m
}

// Gatherer exposes the private registry, e.g. to promhttp.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) FetchAttempt(result string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Downloaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.downloadedBytes.Add(float64(n))
}

func (m *Metrics) Extracted(result string) {
	if m == nil {
		return
	}
	m.extractedEntries.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFetch(started time.Time) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(time.Since(started).Seconds())
}
