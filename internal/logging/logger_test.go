package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/any-hub/any-fetch/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"}, nil)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestConfigureUsesConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"}, &buf)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.WithFields(RunFields("run-1", "manifest.yaml")).Info("hello")
	if !strings.Contains(buf.String(), `"run_id":"run-1"`) {
		t.Fatalf("应输出 JSON 日志到 console writer，得到 %s", buf.String())
	}
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "loud"}, nil); err == nil {
		t.Fatalf("非法日志级别应返回错误")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	var buf bytes.Buffer
	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "any-fetch.log"),
	}
	logger, err := InitLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != &buf {
		t.Fatalf("fallback 时应退回 console writer")
	}
	if !strings.Contains(buf.String(), "logger_fallback") {
		t.Fatalf("应记录 logger_fallback 警告，得到 %s", buf.String())
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "any-fetch.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg, nil)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestFetchFieldsOmitsZeroAttempt(t *testing.T) {
	fields := FetchFields("https://example.com/a", "abc", 0)
	if _, ok := fields["attempt"]; ok {
		t.Fatalf("attempt 为 0 时不应输出")
	}
	if fields["action"] != "fetch" {
		t.Fatalf("action 字段应为 fetch")
	}
	if FetchFields("u", "d", 2)["attempt"] != 2 {
		t.Fatalf("attempt 字段应被保留")
	}
}
