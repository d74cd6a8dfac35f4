package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-fetch/internal/cache"
	"github.com/any-hub/any-fetch/internal/checksum"
	"github.com/any-hub/any-fetch/internal/logging"
	"github.com/any-hub/any-fetch/internal/metrics"
	"github.com/any-hub/any-fetch/internal/progress"
)

const (
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// Options 配置 Fetcher；零值字段使用默认值。
type Options struct {
	Client    *http.Client
	Index     cache.Index
	Algorithm checksum.Algorithm

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AttemptTimeout 为单次尝试设置超时，0 表示不限制。
	AttemptTimeout time.Duration
	// VerifyCacheHits 命中缓存时重新计算摘要，不一致则删除条目并重新下载。
	VerifyCacheHits bool

	Logger   *logrus.Logger
	Reporter *progress.Reporter
	Metrics  *metrics.Metrics
}

// Result 描述一次成功的拉取。
type Result struct {
	Path     string
	Bytes    int64
	CacheHit bool
	Attempts int
}

// Fetcher 可被多个 goroutine 共享。
type Fetcher struct {
	opts  Options
	locks *keyedLocks
	sleep func(ctx context.Context, d time.Duration) error
}

// New 构建 Fetcher，Index 为必填项。
func New(opts Options) (*Fetcher, error) {
	if opts.Index == nil {
		return nil, errors.New("cache index required")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Algorithm == "" {
		opts.Algorithm = checksum.SHA1
	}
	if !opts.Algorithm.Available() {
		return nil, fmt.Errorf("%w: %s", checksum.ErrUnsupportedAlgorithm, opts.Algorithm)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.Discard()
	}
	return &Fetcher{opts: opts, locks: newKeyedLocks(), sleep: sleepContext}, nil
}

// Algorithm 返回 Fetcher 使用的摘要算法。
func (f *Fetcher) Algorithm() checksum.Algorithm {
	return f.opts.Algorithm
}

// Fetch 保证返回 nil error 时 dest 的摘要等于 desc.Digest。
func (f *Fetcher) Fetch(ctx context.Context, desc Descriptor, dest string) (*Result, error) {
	desc, err := desc.Normalize(f.opts.Algorithm)
	if err != nil {
		return nil, err
	}
	if dest == "" {
		return nil, fmt.Errorf("%w: destination required", ErrInvalidDescriptor)
	}
	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	unlock := f.locks.lock(desc.Digest)
	defer unlock()

	started := time.Now()
	defer f.opts.Metrics.ObserveFetch(started)

	if result, ok := f.fromCache(ctx, desc, dest); ok {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.download(ctx, desc, dest)
}

// fromCache 尝试用缓存满足请求；任何问题都视为未命中。
func (f *Fetcher) fromCache(ctx context.Context, desc Descriptor, dest string) (*Result, bool) {
	logger := f.opts.Logger.WithFields(logging.FetchFields(desc.URL, desc.Digest, 0))

	entry, err := f.opts.Index.Lookup(ctx, desc.Digest)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logger.WithError(err).Warn("cache_lookup_failed")
		}
		f.opts.Metrics.CacheLookup(metrics.ResultMiss)
		return nil, false
	}

	if f.opts.VerifyCacheHits {
		if ok := f.verifyFile(entry.FilePath, desc.Digest); !ok {
			logger.WithField("cached", entry.FilePath).Warn("cache_entry_stale")
			f.opts.Metrics.CacheLookup(metrics.ResultStale)
			if err := f.opts.Index.Remove(ctx, desc.Digest); err != nil {
				logger.WithError(err).Warn("cache_remove_failed")
			}
			return nil, false
		}
	}

	size, err := cache.Materialize(ctx, entry.FilePath, dest)
	if err != nil {
		logger.WithError(err).WithField("cached", entry.FilePath).Warn("cache_materialize_failed")
		f.opts.Metrics.CacheLookup(metrics.ResultMiss)
		return nil, false
	}
	f.opts.Metrics.CacheLookup(metrics.ResultHit)
	logger.WithField("dest", dest).Debug("cache_hit")
	return &Result{Path: dest, Bytes: size, CacheHit: true}, true
}

func (f *Fetcher) verifyFile(path, expected string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()
	actual, err := checksum.Sum(f.opts.Algorithm, file)
	return err == nil && actual == expected
}

func (f *Fetcher) download(ctx context.Context, desc Descriptor, dest string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create destination dir: %w", err)
	}

	var lastErr error
	attempt := 0
	for attempt < f.opts.MaxAttempts {
		attempt++
		logger := f.opts.Logger.WithFields(logging.FetchFields(desc.URL, desc.Digest, attempt))

		written, err := f.attempt(ctx, desc, dest)
		f.opts.Metrics.Downloaded(written)
		if err == nil {
			f.opts.Metrics.FetchAttempt(metrics.ResultOK)
			// dest 已校验通过，取消信号不应阻止入表。
			if recErr := f.opts.Index.Record(context.WithoutCancel(ctx), desc.Digest, dest); recErr != nil {
				logger.WithError(recErr).Warn("cache_record_failed")
			}
			logger.WithFields(logrus.Fields{"dest": dest, "bytes": written}).Debug("fetch_completed")
			return &Result{Path: dest, Bytes: written, Attempts: attempt}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		var mismatch *MismatchError
		if errors.As(err, &mismatch) {
			f.opts.Metrics.FetchAttempt(metrics.ResultMismatch)
			logger.WithField("actual", mismatch.Actual).Info("digest_mismatch_retrying")
		} else {
			f.opts.Metrics.FetchAttempt(metrics.ResultError)
			logger.WithError(err).Info("fetch_attempt_failed")
		}
		if isPermanent(err) || attempt >= f.opts.MaxAttempts {
			break
		}
		if err := f.sleep(ctx, f.backoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	if err := cache.RemoveFile(dest); err != nil {
		f.opts.Logger.WithFields(logging.FetchFields(desc.URL, desc.Digest, attempt)).WithError(err).Warn("partial_cleanup_failed")
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	exhausted := &ExhaustedError{URL: desc.URL, Digest: desc.Digest, Attempts: attempt, Last: lastErr}
	f.opts.Logger.WithFields(logging.FetchFields(desc.URL, desc.Digest, attempt)).WithError(lastErr).Error("fetch_exhausted")
	return nil, exhausted
}

// attempt 执行一次完整传输：写入同目录临时文件，校验通过后 rename 到 dest。
func (f *Fetcher) attempt(ctx context.Context, desc Descriptor, dest string) (int64, error) {
	if f.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.AttemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &StatusError{URL: desc.URL, Code: resp.StatusCode}
	}

	verifier, err := checksum.NewVerifier(f.opts.Algorithm, desc.Digest)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	total := desc.Size
	if total <= 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	sink := io.MultiWriter(tempFile, verifier, &progressWriter{
		reporter: f.opts.Reporter,
		name:     filepath.Base(dest),
		total:    total,
	})
	written, err := cache.CopyWithContext(ctx, sink, resp.Body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return written, err
	}

	if !verifier.Verified() {
		os.Remove(tempName)
		return written, &MismatchError{Expected: desc.Digest, Actual: verifier.Digest()}
	}
	if err := os.Rename(tempName, dest); err != nil {
		os.Remove(tempName)
		return written, err
	}
	return written, nil
}

// backoff 返回第 attempt 次失败后的等待时间：InitialBackoff * 2^(attempt-1)，不超过 MaxBackoff。
func (f *Fetcher) backoff(attempt int) time.Duration {
	return retryablehttp.DefaultBackoff(f.opts.InitialBackoff, f.opts.MaxBackoff, attempt-1, nil)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type progressWriter struct {
	reporter *progress.Reporter
	name     string
	total    int64
	received int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.received += int64(len(p))
	w.reporter.ItemProgress(w.name, w.received, w.total)
	return len(p), nil
}
