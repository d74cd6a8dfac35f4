package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-fetch/internal/archive"
	"github.com/any-hub/any-fetch/internal/batch"
	"github.com/any-hub/any-fetch/internal/manifest"
	"github.com/any-hub/any-fetch/internal/platform"
	"github.com/any-hub/any-fetch/internal/progress"
)

// 运行阶段，写入 progress.Reporter 供诊断接口读取。
const (
	PhaseResolve = "resolve"
	PhaseFetch   = "fetch"
	PhaseExtract = "extract"
	PhaseDone    = "done"
	PhaseFailed  = "failed"
)

// Options 汇总 Runner 的依赖。
type Options struct {
	OutputPath  string
	Fetcher     batch.Fetcher
	Concurrency int
	Extractor   *archive.Extractor
	Target      platform.Target
	Mapping     platform.Mapping
	Logger      *logrus.Logger
	Reporter    *progress.Reporter
	// RunID 为空时自动生成。
	RunID string
}

// Report 汇总一次运行。
type Report struct {
	RunID     string          `json:"run_id"`
	Jobs      int             `json:"jobs"`
	Skipped   []string        `json:"skipped,omitempty"`
	Fetch     batch.Summary   `json:"fetch"`
	Extracted []ExtractReport `json:"extracted,omitempty"`
	Duration  time.Duration   `json:"duration"`
}

// ExtractReport 描述某个任务的一次解压。
type ExtractReport struct {
	Job    string        `json:"job"`
	Dest   string        `json:"dest"`
	Policy string        `json:"policy,omitempty"`
	Stats  archive.Stats `json:"stats"`
	Err    string        `json:"error,omitempty"`
}

type Runner struct {
	root      string
	scheduler *batch.Scheduler
	extractor *archive.Extractor
	target    platform.Target
	mapping   platform.Mapping
	logger    *logrus.Logger
	reporter  *progress.Reporter
	runID     string
}

// New 校验依赖并构建 Runner。
func New(opts Options) (*Runner, error) {
	if opts.OutputPath == "" {
		return nil, errors.New("output path required")
	}
	root, err := filepath.Abs(opts.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.Discard()
	}
	if opts.Extractor == nil {
		opts.Extractor = archive.NewExtractor(archive.Options{Logger: opts.Logger})
	}
	if opts.Target == (platform.Target{}) {
		opts.Target = platform.Current()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	scheduler, err := batch.New(batch.Options{
		Fetcher:     opts.Fetcher,
		Concurrency: opts.Concurrency,
		Logger:      opts.Logger,
		Reporter:    opts.Reporter,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		root:      root,
		scheduler: scheduler,
		extractor: opts.Extractor,
		target:    opts.Target,
		mapping:   opts.Mapping,
		logger:    opts.Logger,
		reporter:  opts.Reporter,
		runID:     opts.RunID,
	}, nil
}

// RunID 返回本次运行的标识。
func (r *Runner) RunID() string {
	return r.runID
}

// Run 执行 m 中的全部任务。拉取失败时不进行解压；解压失败会被收集，其它归档照常处理。
func (r *Runner) Run(ctx context.Context, m *manifest.Manifest) (Report, error) {
	started := time.Now()
	report := Report{RunID: r.runID}
	logger := r.logger.WithField("run_id", r.runID)

	r.reporter.SetPhase(PhaseResolve)
	jobs, skipped, err := m.Resolve(r.target, r.mapping)
	if err != nil {
		r.reporter.SetPhase(PhaseFailed)
		return report, fmt.Errorf("resolve manifest: %w", err)
	}
	report.Jobs = len(jobs)
	report.Skipped = skipped
	for _, name := range skipped {
		logger.WithFields(logrus.Fields{
			"action":   "resolve",
			"native":   name,
			"platform": r.target.String(),
		}).Info("native_skipped")
	}

	items := make([]batch.Item, len(jobs))
	for i, job := range jobs {
		dest, err := r.join(job.Path)
		if err != nil {
			r.reporter.SetPhase(PhaseFailed)
			return report, fmt.Errorf("%s: %w", job.Name, err)
		}
		items[i] = batch.Item{Name: job.Name, Descriptor: job.Descriptor, Dest: dest}
	}

	r.reporter.SetPhase(PhaseFetch)
	summary, err := r.scheduler.Run(ctx, items)
	report.Fetch = summary
	if err != nil {
		r.reporter.SetPhase(PhaseFailed)
		report.Duration = time.Since(started)
		return report, err
	}
	logger.WithFields(logrus.Fields{
		"action":      "fetch",
		"items":       summary.Items,
		"cache_hits":  summary.CacheHits,
		"bytes":       summary.Bytes,
		"transferred": summary.TransferredBytes,
	}).Info("fetch_completed")

	r.reporter.SetPhase(PhaseExtract)
	var extractErr *multierror.Error
	for i, job := range jobs {
		for _, step := range job.Extract {
			if err := ctx.Err(); err != nil {
				r.reporter.SetPhase(PhaseFailed)
				report.Duration = time.Since(started)
				return report, err
			}
			entry := ExtractReport{Job: job.Name, Dest: step.Dest, Policy: step.Policy}
			dest, err := r.join(step.Dest)
			if err == nil {
				entry.Stats, err = r.extractor.ExtractFile(ctx, items[i].Dest, dest, step.Filter)
			}
			if err != nil {
				entry.Err = err.Error()
				extractErr = multierror.Append(extractErr, fmt.Errorf("extract %s into %s: %w", job.Name, step.Dest, err))
			}
			report.Extracted = append(report.Extracted, entry)
		}
	}

	report.Duration = time.Since(started)
	if err := extractErr.ErrorOrNil(); err != nil {
		r.reporter.SetPhase(PhaseFailed)
		return report, err
	}
	r.reporter.SetPhase(PhaseDone)
	return report, nil
}

// join 将相对路径拼接到输出根目录下，拒绝逃逸。
func (r *Runner) join(rel string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("path %q escapes the output root", rel)
	}
	return securejoin.SecureJoin(r.root, filepath.FromSlash(rel))
}
