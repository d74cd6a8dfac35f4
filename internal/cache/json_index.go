package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

const lockRetryDelay = 20 * time.Millisecond

// jsonIndex 在内存中保存完整映射，每次变更都整表重写到磁盘。
type jsonIndex struct {
	path   string
	lock   *flock.Flock
	logger *logrus.Logger

	mu      sync.Mutex
	entries map[string]string
}

func openJSONIndex(path string, logger *logrus.Logger) (*jsonIndex, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	idx := &jsonIndex{
		path:   abs,
		lock:   flock.New(lockPath(abs)),
		logger: logger,
	}
	entries, err := idx.readTable()
	if err != nil {
		return nil, err
	}
	idx.entries = entries
	return idx, nil
}

// lockPath 将 setup_cache.json 映射为 setup_cache.lock。
func lockPath(path string) string {
	ext := filepath.Ext(path)
	if len(ext) > 0 && len(ext) < len(path) {
		return strings.TrimSuffix(path, ext) + ".lock"
	}
	return path + ".lock"
}

// readTable 读取磁盘上的映射；文件损坏时删除并返回空表。
func (i *jsonIndex) readTable() (map[string]string, error) {
	data, err := os.ReadFile(i.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache table: %w", err)
	}

	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		i.logger.WithFields(logrus.Fields{
			"action": "cache_load",
			"path":   i.path,
		}).Warn("cache_table_corrupt")
		if rmErr := os.Remove(i.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove corrupt cache table: %w", rmErr)
		}
		return map[string]string{}, nil
	}

	normalized := make(map[string]string, len(entries))
	for digest, path := range entries {
		normalized[normalizeDigest(digest)] = path
	}
	return normalized, nil
}

func (i *jsonIndex) Lookup(ctx context.Context, digest string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := normalizeDigest(digest)

	i.mu.Lock()
	path, ok := i.entries[key]
	i.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return statEntry(key, path)
}

func (i *jsonIndex) Record(ctx context.Context, digest, path string) error {
	key := normalizeDigest(digest)
	if key == "" {
		return errors.New("digest required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve cached path: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if existing, ok := i.entries[key]; ok && fileExists(existing) {
		return nil
	}
	previous, hadPrevious := i.entries[key]
	i.entries[key] = abs
	if err := i.save(ctx); err != nil {
		if hadPrevious {
			i.entries[key] = previous
		} else {
			delete(i.entries, key)
		}
		return err
	}
	return nil
}

func (i *jsonIndex) Remove(ctx context.Context, digest string) error {
	key := normalizeDigest(digest)

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.entries[key]; !ok {
		return nil
	}
	delete(i.entries, key)
	return i.save(ctx, key)
}

func (i *jsonIndex) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.mu.Lock()
	result := make([]Entry, 0, len(i.entries))
	for digest, path := range i.entries {
		result = append(result, Entry{Digest: digest, FilePath: path})
	}
	i.mu.Unlock()

	sort.Slice(result, func(a, b int) bool { return result[a].Digest < result[b].Digest })
	return result, nil
}

func (i *jsonIndex) Close() error {
	return nil
}

// save 在文件锁内合并其他进程写入的条目后整表重写。调用方必须持有 i.mu。
// removed 中的 digest 不会从磁盘表合并回来。
func (i *jsonIndex) save(ctx context.Context, removed ...string) error {
	locked, err := i.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock cache table: %w", err)
	}
	if locked {
		defer i.lock.Unlock()
	}

	onDisk, err := i.readTable()
	if err != nil {
		return err
	}
	skip := make(map[string]struct{}, len(removed))
	for _, digest := range removed {
		skip[digest] = struct{}{}
	}
	for digest, path := range onDisk {
		if _, drop := skip[digest]; drop {
			continue
		}
		if _, ok := i.entries[digest]; !ok {
			i.entries[digest] = path
		}
	}

	data, err := json.MarshalIndent(i.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encode cache table: %w", err)
	}
	if err := writeFileAtomic(i.path, data, 0o644); err != nil {
		return fmt.Errorf("write cache table: %w", err)
	}
	return nil
}
