package server

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-fetch/internal/config"
)

func TestNewUpstreamClientRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	cfg := &config.Config{Global: config.GlobalConfig{TransportRetries: 3}}
	client := NewUpstreamClient(cfg, logrus.New())

	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after retries, got %d", resp.StatusCode)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 upstream hits, got %d", hits.Load())
	}
}

func TestNewUpstreamClientPassesThroughFinalStatus(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	cfg := &config.Config{Global: config.GlobalConfig{TransportRetries: 1}}
	client := NewUpstreamClient(cfg, nil)

	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("expected response instead of error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 to be passed through, got %d", resp.StatusCode)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 upstream hits, got %d", hits.Load())
	}
}

func TestNewUpstreamClientDoesNotRetryNotFound(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	client := NewUpstreamClient(&config.Config{Global: config.GlobalConfig{TransportRetries: 5}}, nil)
	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if hits.Load() != 1 {
		t.Fatalf("404 should not be retried, got %d hits", hits.Load())
	}
}

func TestJitterBackoffBounds(t *testing.T) {
	for attempt := 0; attempt < 5; attempt++ {
		got := jitterBackoff(100*time.Millisecond, time.Second, attempt, nil)
		base := 100 * time.Millisecond << attempt
		if base > time.Second {
			base = time.Second
		}
		if got < base || got > base+base/8 {
			t.Fatalf("attempt %d: backoff %s outside [%s, %s]", attempt, got, base, base+base/8)
		}
	}
}
