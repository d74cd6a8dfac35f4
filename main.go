package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-fetch/internal/archive"
	"github.com/any-hub/any-fetch/internal/cache"
	"github.com/any-hub/any-fetch/internal/config"
	"github.com/any-hub/any-fetch/internal/fetch"
	"github.com/any-hub/any-fetch/internal/logging"
	"github.com/any-hub/any-fetch/internal/manifest"
	"github.com/any-hub/any-fetch/internal/metrics"
	"github.com/any-hub/any-fetch/internal/pipeline"
	"github.com/any-hub/any-fetch/internal/platform"
	"github.com/any-hub/any-fetch/internal/progress"
	"github.com/any-hub/any-fetch/internal/server"
	"github.com/any-hub/any-fetch/internal/server/routes"
	"github.com/any-hub/any-fetch/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath   string
	manifestPath string
	checkOnly    bool
	showVersion  bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts)
	stop()
	os.Exit(code)
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global, stdOut)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	var m *manifest.Manifest
	if opts.manifestPath != "" {
		m, err = manifest.Load(opts.manifestPath)
		if err != nil {
			fmt.Fprintf(stdErr, "加载清单失败: %v\n", err)
			return 1
		}
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache_backend"] = cfg.Global.CacheBackend
		fields["digest_algorithm"] = cfg.Global.DigestAlgorithm
		fields["concurrency"] = cfg.Global.Concurrency
		if m != nil {
			fields["manifest"] = opts.manifestPath
			fields["files"] = len(m.Files)
			fields["natives"] = len(m.Natives)
		}
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if m == nil {
		fmt.Fprintln(stdErr, "缺少 -manifest 参数")
		return 2
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["manifest"] = opts.manifestPath
	fields["output"] = cfg.Global.OutputPath
	fields["cache"] = cfg.Global.CachePath
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := execute(ctx, cfg, m, opts.manifestPath, logger); err != nil {
		fmt.Fprintf(stdErr, "拉取失败: %v\n", err)
		return 1
	}
	return 0
}

// execute 遵循“缓存表 → 上游客户端 → Fetcher → Runner”的顺序组装组件并运行一次清单，
// 同一进程内所有下载共享同一份缓存表与连接池。
func execute(ctx context.Context, cfg *config.Config, m *manifest.Manifest, manifestPath string, logger *logrus.Logger) error {
	index, err := cache.Open(cache.Options{
		Backend: cache.Backend(cfg.Global.CacheBackend),
		Path:    cfg.Global.CachePath,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("打开缓存表失败: %w", err)
	}
	defer index.Close()

	collectors := metrics.New()
	reporter := progress.NewReporter(progress.Options{
		Output: stdOut,
		Mode:   progress.Mode(cfg.Global.Progress),
	})

	fetcher, err := fetch.New(fetch.Options{
		Client:          server.NewUpstreamClient(cfg, logger),
		Index:           index,
		Algorithm:       cfg.DigestAlgorithm(),
		MaxAttempts:     cfg.Global.MaxAttempts,
		InitialBackoff:  cfg.Global.InitialBackoff.DurationValue(),
		MaxBackoff:      cfg.Global.MaxBackoff.DurationValue(),
		AttemptTimeout:  cfg.Global.AttemptTimeout.DurationValue(),
		VerifyCacheHits: cfg.Global.VerifyCacheHits,
		Logger:          logger,
		Reporter:        reporter,
		Metrics:         collectors,
	})
	if err != nil {
		return err
	}

	runner, err := pipeline.New(pipeline.Options{
		OutputPath:  cfg.Global.OutputPath,
		Fetcher:     fetcher,
		Concurrency: cfg.Global.Concurrency,
		Extractor: archive.NewExtractor(archive.Options{
			Overwrite: cfg.Global.OverwriteExtracted,
			Logger:    logger,
			Metrics:   collectors,
		}),
		Target: platform.Current(),
		Mapping: platform.Mapping{
			OS:   cfg.Platform.OS,
			Arch: cfg.Platform.Arch,
		},
		Logger:   logger,
		Reporter: reporter,
	})
	if err != nil {
		return err
	}

	runLogger := logger.WithFields(logging.RunFields(runner.RunID(), manifestPath))

	if port := cfg.Global.StatusListenPort; port > 0 {
		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := startDiagnostics(serveCtx, port, server.AppOptions{
			Logger:   logger,
			Reporter: reporter,
			Index:    index,
			Metrics:  collectors,
			RunID:    runner.RunID(),
		}); err != nil {
			return err
		}
	}

	report, err := runner.Run(ctx, m)
	fields := logrus.Fields{
		"jobs":        report.Jobs,
		"skipped":     len(report.Skipped),
		"completed":   report.Fetch.Completed,
		"cache_hits":  report.Fetch.CacheHits,
		"bytes":       progress.FormatSize(report.Fetch.Bytes),
		"transferred": progress.FormatSize(report.Fetch.TransferredBytes),
		"extracted":   len(report.Extracted),
		"duration":    report.Duration.String(),
	}
	if err != nil {
		runLogger.WithFields(fields).WithError(err).Error("运行失败")
		return err
	}
	runLogger.WithFields(fields).Info("运行完成")
	return nil
}

// startDiagnostics 在后台启动诊断服务，ctx 结束时随之关闭。
func startDiagnostics(ctx context.Context, port int, opts server.AppOptions) error {
	app, err := server.NewApp(opts)
	if err != nil {
		return err
	}
	routes.RegisterPolicyRoutes(app)
	server.Finalize(app)

	go func() {
		if err := server.Serve(ctx, app, port, opts.Logger); err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action": "listen",
				"port":   port,
			}).WithError(err).Warn("diagnostics server stopped")
		}
	}()
	return nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("any-fetch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag   string
		manifestFlag string
		checkOnly    bool
		showVer      bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ANY_FETCH_CONFIG 覆盖）")
	fs.StringVar(&manifestFlag, "manifest", "", "资源清单路径（YAML 或 JSON）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置（以及指定的清单）后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("解析参数失败: 多余的参数 %v", fs.Args())
	}

	path := os.Getenv("ANY_FETCH_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:   path,
		manifestPath: manifestFlag,
		checkOnly:    checkOnly,
		showVersion:  showVer,
	}, nil
}
