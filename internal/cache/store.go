package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Index 负责 digest → 本地路径 的持久映射。实现必须允许并发调用。
type Index interface {
	// Lookup 仅当表中存在 digest 且对应路径仍在磁盘上时返回 Entry，否则返回 ErrNotFound。
	Lookup(ctx context.Context, digest string) (*Entry, error)

	// Record 写入映射并在返回前完成持久化；已有可用条目时为 no-op。
	Record(ctx context.Context, digest, path string) error

	// Remove 删除映射，常用于严格模式下发现内容已损坏。
	Remove(ctx context.Context, digest string) error

	// Entries 返回按 digest 排序的全部条目快照（不检查文件是否存在）。
	Entries(ctx context.Context) ([]Entry, error)

	Close() error
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Digest    string    `json:"digest"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	ModTime   time.Time `json:"mod_time,omitempty"`
}

// Backend 标识缓存表的存储格式。
type Backend string

const (
	BackendJSON Backend = "json"
	BackendBolt Backend = "bolt"
)

// Options 控制 Open 的行为。
type Options struct {
	Backend Backend
	Path    string
	Logger  *logrus.Logger
}

// ErrNotFound 表示缓存不存在或已失效。
var ErrNotFound = errors.New("cache entry not found")

// Open 根据 Backend 打开缓存表，整个进程复用一份实例。
func Open(opts Options) (Index, error) {
	if opts.Path == "" {
		return nil, errors.New("cache path required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	switch Backend(strings.ToLower(string(opts.Backend))) {
	case "", BackendJSON:
		return openJSONIndex(opts.Path, logger)
	case BackendBolt:
		return openBoltIndex(opts.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", opts.Backend)
	}
}

// statEntry 校验路径仍是普通文件并填充 Entry。
func statEntry(digest, path string) (*Entry, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, ErrNotFound
	}
	return &Entry{
		Digest:    digest,
		FilePath:  path,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func normalizeDigest(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}
