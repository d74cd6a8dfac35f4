package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-fetch/internal/cache"
	"github.com/any-hub/any-fetch/internal/metrics"
	"github.com/any-hub/any-fetch/internal/progress"
	"github.com/any-hub/any-fetch/internal/version"
)

// AppOptions 汇总诊断服务依赖的组件，Index 与 Metrics 可为空。
type AppOptions struct {
	Logger   *logrus.Logger
	Reporter *progress.Reporter
	Index    cache.Index
	Metrics  *metrics.Metrics
	// RunID 会出现在 /-/status 中，便于与日志关联。
	RunID string
}

const contextKeyRequestID = "_anyfetch_request_id"

// NewApp builds the diagnostics Fiber application. Every route lives under /-/.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Reporter == nil {
		return nil, errors.New("progress reporter is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"run_id":   opts.RunID,
			"version":  version.Full(),
			"progress": opts.Reporter.Snapshot(),
		})
	})

	app.Get("/-/cache", func(c fiber.Ctx) error {
		if opts.Index == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache_unavailable"})
		}
		entries, err := opts.Index.Entries(c.Context())
		if err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "diagnostics",
				"request_id": RequestID(c),
			}).WithError(err).Warn("cache_listing_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_listing_failed"})
		}
		return c.JSON(fiber.Map{
			"count":   len(entries),
			"entries": entries,
		})
	})

	if opts.Metrics != nil {
		handler := promhttp.HandlerFor(opts.Metrics.Gatherer(), promhttp.HandlerOpts{})
		app.Get("/-/metrics", adaptor.HTTPHandler(handler))
	}

	return app, nil
}

// Finalize 注册兜底路由，必须在所有其它路由之后调用。
func Finalize(app *fiber.App) {
	app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not_found",
			"path":  c.Path(),
		})
	})
}

// requestIDMiddleware 为每个请求生成 ID 并写入 X-Request-ID 响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// Serve 在 port 上阻塞运行 app，ctx 结束后优雅关闭并返回。
func Serve(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	if port <= 0 {
		return fmt.Errorf("invalid listen port: %d", port)
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("diagnostics server started")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	})
}
