package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述一次拉取运行的全局参数。
type GlobalConfig struct {
	LogLevel              string   `mapstructure:"LogLevel"`
	LogFilePath           string   `mapstructure:"LogFilePath"`
	LogMaxSize            int      `mapstructure:"LogMaxSize"`
	LogMaxBackups         int      `mapstructure:"LogMaxBackups"`
	LogCompress           bool     `mapstructure:"LogCompress"`
	OutputPath            string   `mapstructure:"OutputPath"`
	CachePath             string   `mapstructure:"CachePath"`
	CacheBackend          string   `mapstructure:"CacheBackend"`
	VerifyCacheHits       bool     `mapstructure:"VerifyCacheHits"`
	DigestAlgorithm       string   `mapstructure:"DigestAlgorithm"`
	Concurrency           int      `mapstructure:"Concurrency"`
	MaxAttempts           int      `mapstructure:"MaxAttempts"`
	InitialBackoff        Duration `mapstructure:"InitialBackoff"`
	MaxBackoff            Duration `mapstructure:"MaxBackoff"`
	AttemptTimeout        Duration `mapstructure:"AttemptTimeout"`
	DialTimeout           Duration `mapstructure:"DialTimeout"`
	ResponseHeaderTimeout Duration `mapstructure:"ResponseHeaderTimeout"`
	TransportRetries      int      `mapstructure:"TransportRetries"`
	Progress              string   `mapstructure:"Progress"`
	StatusListenPort      int      `mapstructure:"StatusListenPort"`
	OverwriteExtracted    bool     `mapstructure:"OverwriteExtracted"`
}

// PlatformConfig 将 Go 的 GOOS/GOARCH 映射为清单使用的平台词汇。
type PlatformConfig struct {
	OS   map[string]string `mapstructure:"OS"`
	Arch map[string]string `mapstructure:"Arch"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Platform PlatformConfig `mapstructure:"Platform"`
}

// DefaultPlatformOS 返回内置的操作系统映射。
func DefaultPlatformOS() map[string]string {
	return map[string]string{
		"linux":   "linux",
		"darwin":  "osx",
		"windows": "windows",
	}
}

// DefaultPlatformArch 返回内置的架构映射。
func DefaultPlatformArch() map[string]string {
	return map[string]string{
		"amd64": "64",
		"386":   "32",
	}
}
