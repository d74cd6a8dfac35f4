// Package batch drives many fetches with a bounded concurrency window.
//
// Items are partitioned into consecutive waves of at most Concurrency
// entries. Every item of a wave runs concurrently and the scheduler waits for
// the whole wave before reporting progress and starting the next one, so no
// more than Concurrency fetches are ever in flight.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/any-fetch/internal/fetch"
	"github.com/any-hub/any-fetch/internal/progress"
)

const defaultConcurrency = 10

// Fetcher 是 Scheduler 依赖的单文件拉取能力，*fetch.Fetcher 满足该接口。
type Fetcher interface {
	Fetch(ctx context.Context, desc fetch.Descriptor, dest string) (*fetch.Result, error)
}

// Item 是批量中的一个条目，Dest 在批次内应唯一。
type Item struct {
	Name       string
	Descriptor fetch.Descriptor
	Dest       string
}

// Options 配置 Scheduler。
type Options struct {
	Fetcher     Fetcher
	Concurrency int
	Logger      *logrus.Logger
	Reporter    *progress.Reporter
}

// Summary 汇总一次 Run 的结果。Bytes 为全部完成条目的文件大小，TransferredBytes 仅统计网络下载部分。
type Summary struct {
	Items            int           `json:"items"`
	Completed        int           `json:"completed"`
	CacheHits        int           `json:"cache_hits"`
	Bytes            int64         `json:"bytes"`
	TransferredBytes int64         `json:"transferred_bytes"`
	Waves            int           `json:"waves"`
	Duration         time.Duration `json:"duration"`
}

type Scheduler struct {
	fetcher     Fetcher
	concurrency int
	logger      *logrus.Logger
	reporter    *progress.Reporter
}

// New 校验 Options 并构建 Scheduler。
func New(opts Options) (*Scheduler, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	if opts.Concurrency < 0 {
		return nil, fmt.Errorf("invalid concurrency %d", opts.Concurrency)
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.Discard()
	}
	return &Scheduler{
		fetcher:     opts.Fetcher,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		reporter:    opts.Reporter,
	}, nil
}

type outcome struct {
	result *fetch.Result
	err    error
}

// Run 按波次拉取全部条目。某一波出现失败时，该波其余条目仍会完成，
// 随后停止并返回聚合后的错误；已完成条目计入 Summary。
func (s *Scheduler) Run(ctx context.Context, items []Item) (Summary, error) {
	started := time.Now()
	summary := Summary{Items: len(items)}

	var plannedBytes int64
	for _, item := range items {
		plannedBytes += item.Descriptor.Size
	}
	s.reporter.AddPlanned(len(items), plannedBytes)

	var doneBytes int64
	for start := 0; start < len(items); start += s.concurrency {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(started)
			return summary, err
		}
		end := min(start+s.concurrency, len(items))
		wave := items[start:end]
		summary.Waves++

		outcomes := s.runWave(ctx, wave)

		var waveErr *multierror.Error
		for i, out := range outcomes {
			item := wave[i]
			if out.err != nil {
				s.reporter.ItemFailed()
				waveErr = multierror.Append(waveErr, fmt.Errorf("%s: %w", itemName(item), out.err))
				continue
			}
			summary.Completed++
			summary.Bytes += out.result.Bytes
			if out.result.CacheHit {
				summary.CacheHits++
			} else {
				summary.TransferredBytes += out.result.Bytes
			}
			planned := item.Descriptor.Size
			if planned <= 0 {
				planned = out.result.Bytes
			}
			doneBytes += planned
			s.reporter.ItemCompleted(planned, out.result.CacheHit)
		}

		s.reporter.BatchProgress(doneBytes, plannedBytes)
		s.logger.WithFields(logrus.Fields{
			"action":    "batch",
			"wave":      summary.Waves,
			"completed": summary.Completed,
			"items":     summary.Items,
			"bytes":     doneBytes,
		}).Debug("wave_completed")

		if err := waveErr.ErrorOrNil(); err != nil {
			s.reporter.Clear()
			summary.Duration = time.Since(started)
			return summary, err
		}
	}

	s.reporter.Clear()
	summary.Duration = time.Since(started)
	return summary, nil
}

// runWave 并发执行一波条目并等待全部结束，结果按输入顺序返回。
func (s *Scheduler) runWave(ctx context.Context, wave []Item) []outcome {
	outcomes := make([]outcome, len(wave))
	var g errgroup.Group
	for i, item := range wave {
		g.Go(func() error {
			result, err := s.fetcher.Fetch(ctx, item.Descriptor, item.Dest)
			outcomes[i] = outcome{result: result, err: err}
			return err
		})
	}
	_ = g.Wait()
	return outcomes
}

func itemName(item Item) string {
	if item.Name != "" {
		return item.Name
	}
	return item.Dest
}
