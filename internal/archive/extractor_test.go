package archive

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/any-fetch/internal/metrics"
)

func TestExtractIncludePrefixStripsPrefix(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a/x.txt":     "x",
		"a/sub/y.txt": "y",
		"b/z.txt":     "z",
	})
	dest := t.TempDir()

	stats, err := newTestExtractor(false).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), dest, Filter{IncludePrefixes: []string{"a/"}})
	require.NoError(t, err)
	require.Equal(t, 2, stats.Written)
	require.Equal(t, []string{"sub/y.txt", "x.txt"}, listTree(t, dest))
}

func TestExtractAssetsPolicy(t *testing.T) {
	data := buildZip(t, map[string]string{
		"META-INF/MANIFEST.MF":          "m",
		"net/minecraft/Main.class":      "c",
		"Top.class":                     "c",
		"assets/minecraft/lang/en.json": "{}",
		"pack.png":                      "p",
	})
	policy, ok := ResolvePolicy("assets")
	require.True(t, ok)
	dest := t.TempDir()

	_, err := newTestExtractor(false).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), dest, policy.Filter)
	require.NoError(t, err)
	require.Equal(t, []string{"assets/minecraft/lang/en.json", "pack.png"}, listTree(t, dest))
}

func TestExtractNativesPolicyFlattens(t *testing.T) {
	data := buildZip(t, map[string]string{
		"META-INF/MANIFEST.MF":  "m",
		"linux/x64/liblwjgl.so": "so",
		"libopenal.so":          "so",
	})
	policy, ok := ResolvePolicy("NATIVES")
	require.True(t, ok)
	dest := t.TempDir()

	_, err := newTestExtractor(false).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), dest, policy.Filter)
	require.NoError(t, err)
	require.Equal(t, []string{"liblwjgl.so", "libopenal.so"}, listTree(t, dest))
}

func TestExtractPrefixAndExtension(t *testing.T) {
	data := buildZip(t, map[string]string{
		"optifine/Config.java":  "java",
		"optifine/Config.class": "class",
		"optifine/sub/A.JAVA":   "java",
		"other/B.java":          "java",
	})
	dest := t.TempDir()

	_, err := newTestExtractor(false).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), dest, Filter{
		IncludePrefixes: []string{"optifine/"},
		Extensions:      []string{"java"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Config.java", "sub/A.JAVA"}, listTree(t, dest))
}

func TestExtractSkipsExistingUnlessOverwrite(t *testing.T) {
	data := buildZip(t, map[string]string{"f.txt": "new"})
	dest := t.TempDir()
	target := filepath.Join(dest, "f.txt")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	stats, err := newTestExtractor(false).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), dest, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Existing)
	content, _ := os.ReadFile(target)
	require.Equal(t, "old", string(content))

	stats, err = newTestExtractor(true).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), dest, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Written)
	content, _ = os.ReadFile(target)
	require.Equal(t, "new", string(content))
}

func TestExtractSkipsDirectories(t *testing.T) {
	data := buildZip(t, map[string]string{"empty/": "", "full/f.txt": "f"})
	dest := t.TempDir()

	stats, err := newTestExtractor(false).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), dest, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, stats.Entries)
	require.Equal(t, 1, stats.Skipped)
	_, statErr := os.Stat(filepath.Join(dest, "empty"))
	require.ErrorIs(t, statErr, fs.ErrNotExist)
}

func TestExtractRejectsUnsafePaths(t *testing.T) {
	for _, name := range []string{"../evil.txt", "a/../../evil.txt", "/etc/evil", "c:evil"} {
		t.Run(name, func(t *testing.T) {
			data := buildZip(t, map[string]string{name: "x"})
			dest := t.TempDir()

			_, err := newTestExtractor(false).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), dest, Filter{})
			require.Error(t, err)
			require.True(t, IsUnsafePath(err), "unexpected error %v", err)
		})
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	data := []byte("definitely not a zip")
	_, err := newTestExtractor(false).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), t.TempDir(), Filter{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "open archive")
}

func TestExtractInvalidGlob(t *testing.T) {
	data := buildZip(t, map[string]string{"f": "f"})
	_, err := newTestExtractor(false).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), t.TempDir(), Filter{ExcludeGlobs: []string{"[unclosed"}})
	require.Error(t, err)
}

func TestExtractFileRecordsMetrics(t *testing.T) {
	data := buildZip(t, map[string]string{"a.txt": "a", "META-INF/x": "x"})
	archivePath := filepath.Join(t.TempDir(), "bundle.jar")
	require.NoError(t, os.WriteFile(archivePath, data, 0o644))

	m := metrics.New()
	x := NewExtractor(Options{Logger: quietLogger(), Metrics: m})
	stats, err := x.ExtractFile(context.Background(), archivePath, t.TempDir(), Filter{ExcludePrefixes: []string{"META-INF/"}})
	require.NoError(t, err)
	require.Equal(t, Stats{Entries: 2, Written: 1, Skipped: 1}, stats)
}

func TestEntriesStopsEarly(t *testing.T) {
	data := buildZip(t, map[string]string{"a": "a", "b": "b", "c": "c"})
	seen := 0
	for _, err := range Entries(context.Background(), bytes.NewReader(data), int64(len(data))) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	require.Equal(t, 2, seen)
}

func TestEntriesCanceled(t *testing.T) {
	data := buildZip(t, map[string]string{"a": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range Entries(ctx, bytes.NewReader(data), int64(len(data))) {
		require.ErrorIs(t, err, context.Canceled)
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		f, err := w.Create(name)
		require.NoError(t, err)
		if !strings.HasSuffix(name, "/") {
			_, err = f.Write([]byte(files[name]))
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func newTestExtractor(overwrite bool) *Extractor {
	return NewExtractor(Options{Overwrite: overwrite, Logger: quietLogger()})
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
