package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var backends = []Backend{BackendJSON, BackendBolt}

func TestIndexRecordAndLookup(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			idx := newTestIndex(t, backend)
			file := writeTestFile(t, t.TempDir(), "payload.bin", "payload")

			if err := idx.Record(context.Background(), "ABCDEF", file); err != nil {
				t.Fatalf("record error: %v", err)
			}
			entry, err := idx.Lookup(context.Background(), "abcdef")
			if err != nil {
				t.Fatalf("lookup error: %v", err)
			}
			if entry.FilePath != file {
				t.Fatalf("unexpected path: %s", entry.FilePath)
			}
			if entry.SizeBytes != int64(len("payload")) {
				t.Fatalf("size mismatch: %d", entry.SizeBytes)
			}
		})
	}
}

func TestIndexLookupMissing(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			idx := newTestIndex(t, backend)
			if _, err := idx.Lookup(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestIndexLookupStaleEntry(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			idx := newTestIndex(t, backend)
			file := writeTestFile(t, t.TempDir(), "gone.bin", "data")
			if err := idx.Record(context.Background(), "d1", file); err != nil {
				t.Fatalf("record error: %v", err)
			}
			if err := os.Remove(file); err != nil {
				t.Fatalf("remove error: %v", err)
			}
			if _, err := idx.Lookup(context.Background(), "d1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected stale entry to miss, got %v", err)
			}
		})
	}
}

func TestIndexIgnoresDirectories(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			idx := newTestIndex(t, backend)
			dir := filepath.Join(t.TempDir(), "dir")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatalf("mkdir error: %v", err)
			}
			if err := idx.Record(context.Background(), "d2", dir); err != nil {
				t.Fatalf("record error: %v", err)
			}
			if _, err := idx.Lookup(context.Background(), "d2"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected directory entry to miss, got %v", err)
			}
		})
	}
}

func TestIndexRecordKeepsLiveEntry(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			idx := newTestIndex(t, backend)
			dir := t.TempDir()
			first := writeTestFile(t, dir, "first", "x")
			second := writeTestFile(t, dir, "second", "x")

			if err := idx.Record(context.Background(), "d3", first); err != nil {
				t.Fatalf("record error: %v", err)
			}
			if err := idx.Record(context.Background(), "d3", second); err != nil {
				t.Fatalf("record error: %v", err)
			}
			entry, err := idx.Lookup(context.Background(), "d3")
			if err != nil {
				t.Fatalf("lookup error: %v", err)
			}
			if entry.FilePath != first {
				t.Fatalf("expected first path to be kept, got %s", entry.FilePath)
			}

			if err := os.Remove(first); err != nil {
				t.Fatalf("remove error: %v", err)
			}
			if err := idx.Record(context.Background(), "d3", second); err != nil {
				t.Fatalf("record error: %v", err)
			}
			entry, err = idx.Lookup(context.Background(), "d3")
			if err != nil {
				t.Fatalf("lookup error: %v", err)
			}
			if entry.FilePath != second {
				t.Fatalf("expected stale entry to be replaced, got %s", entry.FilePath)
			}
		})
	}
}

func TestIndexRemove(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			idx := newTestIndex(t, backend)
			file := writeTestFile(t, t.TempDir(), "f", "x")
			if err := idx.Record(context.Background(), "d4", file); err != nil {
				t.Fatalf("record error: %v", err)
			}
			if err := idx.Remove(context.Background(), "d4"); err != nil {
				t.Fatalf("remove error: %v", err)
			}
			if _, err := idx.Lookup(context.Background(), "d4"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found after remove, got %v", err)
			}
		})
	}
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "setup_cache."+string(backend))
			file := writeTestFile(t, t.TempDir(), "f", "x")

			idx, err := Open(Options{Backend: backend, Path: path})
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			if err := idx.Record(context.Background(), "d5", file); err != nil {
				t.Fatalf("record error: %v", err)
			}
			if err := idx.Close(); err != nil {
				t.Fatalf("close error: %v", err)
			}

			reopened, err := Open(Options{Backend: backend, Path: path})
			if err != nil {
				t.Fatalf("reopen error: %v", err)
			}
			defer reopened.Close()
			if _, err := reopened.Lookup(context.Background(), "d5"); err != nil {
				t.Fatalf("expected persisted entry, got %v", err)
			}
		})
	}
}

func TestIndexEntriesSorted(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			idx := newTestIndex(t, backend)
			dir := t.TempDir()
			for _, digest := range []string{"cc", "aa", "bb"} {
				file := writeTestFile(t, dir, digest, digest)
				if err := idx.Record(context.Background(), digest, file); err != nil {
					t.Fatalf("record error: %v", err)
				}
			}
			entries, err := idx.Entries(context.Background())
			if err != nil {
				t.Fatalf("entries error: %v", err)
			}
			var got []string
			for _, entry := range entries {
				got = append(got, entry.Digest)
			}
			if strings.Join(got, ",") != "aa,bb,cc" {
				t.Fatalf("unexpected order: %v", got)
			}
		})
	}
}

func TestIndexConcurrentRecords(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			idx := newTestIndex(t, backend)
			dir := t.TempDir()

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				file := writeTestFile(t, dir, fmt.Sprintf("f%02d", i), "x")
				wg.Add(1)
				go func(i int, file string) {
					defer wg.Done()
					if err := idx.Record(context.Background(), fmt.Sprintf("d%02d", i), file); err != nil {
						t.Errorf("record error: %v", err)
					}
				}(i, file)
			}
			wg.Wait()

			entries, err := idx.Entries(context.Background())
			if err != nil {
				t.Fatalf("entries error: %v", err)
			}
			if len(entries) != 20 {
				t.Fatalf("expected 20 entries, got %d", len(entries))
			}
		})
	}
}

func TestJSONIndexFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup_cache.json")
	file := writeTestFile(t, t.TempDir(), "f", "x")

	idx, err := Open(Options{Backend: BackendJSON, Path: path})
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer idx.Close()
	if err := idx.Record(context.Background(), "d6", file); err != nil {
		t.Fatalf("record error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read table error: %v", err)
	}
	if !strings.Contains(string(data), "\n    \"d6\": ") {
		t.Fatalf("expected 4-space indented table, got %s", string(data))
	}
	var table map[string]string
	if err := json.Unmarshal(data, &table); err != nil {
		t.Fatalf("table is not json: %v", err)
	}
	if table["d6"] != file {
		t.Fatalf("unexpected table content: %v", table)
	}
}

func TestJSONIndexCorruptTableIsReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup_cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	logger, hook := test.NewNullLogger()
	idx, err := Open(Options{Backend: BackendJSON, Path: path, Logger: logger})
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer idx.Close()

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected corrupt table to be deleted, got %v", err)
	}
	entries, err := idx.Entries(context.Background())
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty table, got %v %v", entries, err)
	}
	if last := hook.LastEntry(); last == nil || last.Level != logrus.WarnLevel || last.Message != "cache_table_corrupt" {
		t.Fatalf("expected corrupt warning, got %+v", last)
	}
}

func TestJSONIndexMergesConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup_cache.json")
	dir := t.TempDir()

	a, err := Open(Options{Backend: BackendJSON, Path: path})
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	b, err := Open(Options{Backend: BackendJSON, Path: path})
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := a.Record(context.Background(), "aa", writeTestFile(t, dir, "a", "x")); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if err := b.Record(context.Background(), "bb", writeTestFile(t, dir, "b", "x")); err != nil {
		t.Fatalf("record error: %v", err)
	}

	reopened, err := Open(Options{Backend: BackendJSON, Path: path})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	for _, digest := range []string{"aa", "bb"} {
		if _, err := reopened.Lookup(context.Background(), digest); err != nil {
			t.Fatalf("expected %s to survive, got %v", digest, err)
		}
	}
}

func TestBoltIndexCorruptDatabaseIsReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup_cache.db")
	if err := os.WriteFile(path, []byte(strings.Repeat("garbage!", 1024)), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	idx, err := Open(Options{Backend: BackendBolt, Path: path})
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer idx.Close()
	entries, err := idx.Entries(context.Background())
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty table, got %v %v", entries, err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open(Options{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "x")}); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}

func newTestIndex(t *testing.T, backend Backend) Index {
	t.Helper()
	name := "setup_cache.json"
	if backend == BackendBolt {
		name = "setup_cache.db"
	}
	idx, err := Open(Options{Backend: backend, Path: filepath.Join(t.TempDir(), name)})
	if err != nil {
		t.Fatalf("open index error: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file error: %v", err)
	}
	return path
}
