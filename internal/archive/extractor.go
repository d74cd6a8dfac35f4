package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-fetch/internal/logging"
	"github.com/any-hub/any-fetch/internal/metrics"
)

// UnsafePathError 表示成员路径试图逃离目标目录。
type UnsafePathError struct {
	Name   string
	Reason string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("unsafe archive entry %q: %s", e.Name, e.Reason)
}

// Stats 统计一次解压。Entries 为遍历的成员数，Skipped 包含目录与被过滤的成员，
// Existing 为目标已存在而未重写的文件数。
type Stats struct {
	Entries  int `json:"entries"`
	Written  int `json:"written"`
	Skipped  int `json:"skipped"`
	Existing int `json:"existing"`
}

// Options 配置 Extractor。
type Options struct {
	// Overwrite 为 true 时覆盖已存在的目标文件，默认跳过。
	Overwrite bool
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics
}

type Extractor struct {
	overwrite bool
	logger    *logrus.Logger
	metrics   *metrics.Metrics
}

func NewExtractor(opts Options) *Extractor {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Extractor{
		overwrite: opts.Overwrite,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// ExtractFile 打开磁盘上的归档并调用 Extract。
func (x *Extractor) ExtractFile(ctx context.Context, archivePath, dest string, filter Filter) (Stats, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return Stats{}, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Stats{}, fmt.Errorf("stat archive: %w", err)
	}
	stats, err := x.Extract(ctx, file, info.Size(), dest, filter)
	fields := logging.ArchiveFields(archivePath, dest)
	fields["written"] = stats.Written
	fields["existing"] = stats.Existing
	if err != nil {
		x.logger.WithFields(fields).WithError(err).Error("extract_failed")
		return stats, err
	}
	x.logger.WithFields(fields).Debug("extract_completed")
	return stats, nil
}

// Extract 将 filter 选中的成员写入 dest。遇到错误时立即返回，已写入的文件保留。
func (x *Extractor) Extract(ctx context.Context, r io.ReaderAt, size int64, dest string, filter Filter) (Stats, error) {
	var stats Stats
	m, err := filter.compile()
	if err != nil {
		return stats, err
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return stats, fmt.Errorf("resolve destination: %w", err)
	}

	for entry, err := range Entries(ctx, r, size) {
		if err != nil {
			return stats, err
		}
		stats.Entries++
		if entry.Dir {
			stats.Skipped++
			x.metrics.Extracted(metrics.ResultSkipped)
			continue
		}
		rel, ok := m.target(entry.Name)
		if !ok {
			stats.Skipped++
			x.metrics.Extracted(metrics.ResultSkipped)
			continue
		}

		target, err := cleanJoin(root, rel)
		if err != nil {
			return stats, err
		}
		if !x.overwrite {
			if _, err := os.Lstat(target); err == nil {
				stats.Existing++
				x.metrics.Extracted(metrics.ResultExisting)
				continue
			}
		}
		if err := writeEntry(entry, target); err != nil {
			return stats, fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		stats.Written++
		x.metrics.Extracted(metrics.ResultWritten)
	}
	return stats, nil
}

func writeEntry(entry Entry, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	mode := entry.Mode.Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode|0o200)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, src)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(target)
	}
	return err
}

// cleanJoin 拒绝包含 ':'、'..' 或绝对路径的成员，再用 SecureJoin 处理符号链接。
func cleanJoin(root, name string) (string, error) {
	if strings.Contains(name, ":") {
		return "", &UnsafePathError{Name: name, Reason: "path contains ':'"}
	}
	name = strings.ReplaceAll(name, "\\", "/")
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", &UnsafePathError{Name: name, Reason: "path contains '..'"}
		}
	}
	if path.IsAbs(name) {
		return "", &UnsafePathError{Name: name, Reason: "path is absolute"}
	}

	joined, err := securejoin.SecureJoin(root, name)
	if err != nil {
		return "", &UnsafePathError{Name: name, Reason: err.Error()}
	}
	return joined, nil
}

// IsUnsafePath 判断 err 链中是否包含 *UnsafePathError。
func IsUnsafePath(err error) bool {
	var unsafe *UnsafePathError
	return errors.As(err, &unsafe)
}
