package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyPlatformDefaults(&cfg.Platform)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("OutputPath", "./run")
	v.SetDefault("CachePath", "./setup_cache.json")
	v.SetDefault("CacheBackend", "json")
	v.SetDefault("VerifyCacheHits", false)
	v.SetDefault("DigestAlgorithm", "sha1")
	v.SetDefault("Concurrency", 10)
	v.SetDefault("MaxAttempts", 5)
	v.SetDefault("InitialBackoff", "500ms")
	v.SetDefault("MaxBackoff", "30s")
	v.SetDefault("AttemptTimeout", "10m")
	v.SetDefault("DialTimeout", "30s")
	v.SetDefault("ResponseHeaderTimeout", "30s")
	v.SetDefault("TransportRetries", 2)
	v.SetDefault("Progress", "auto")
	v.SetDefault("StatusListenPort", 0)
	v.SetDefault("OverwriteExtracted", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.CacheBackend == "" {
		g.CacheBackend = "json"
	}
	g.CacheBackend = strings.ToLower(strings.TrimSpace(g.CacheBackend))
	if g.DigestAlgorithm == "" {
		g.DigestAlgorithm = "sha1"
	}
	g.DigestAlgorithm = strings.ToLower(strings.TrimSpace(g.DigestAlgorithm))
	if g.Progress == "" {
		g.Progress = "auto"
	}
	g.Progress = strings.ToLower(strings.TrimSpace(g.Progress))
	if g.Concurrency == 0 {
		g.Concurrency = 10
	}
	if g.MaxAttempts == 0 {
		g.MaxAttempts = 5
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if g.MaxBackoff.DurationValue() == 0 {
		g.MaxBackoff = Duration(30 * time.Second)
	}
	if g.AttemptTimeout.DurationValue() == 0 {
		g.AttemptTimeout = Duration(10 * time.Minute)
	}
	if g.DialTimeout.DurationValue() == 0 {
		g.DialTimeout = Duration(30 * time.Second)
	}
	if g.ResponseHeaderTimeout.DurationValue() == 0 {
		g.ResponseHeaderTimeout = Duration(30 * time.Second)
	}
}

// applyPlatformDefaults 以内置映射为底，配置中出现的键覆盖默认值。
func applyPlatformDefaults(p *PlatformConfig) {
	p.OS = mergeMapping(DefaultPlatformOS(), p.OS)
	p.Arch = mergeMapping(DefaultPlatformArch(), p.Arch)
}

func mergeMapping(base, overrides map[string]string) map[string]string {
	for key, value := range overrides {
		base[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return base
}

func (c *Config) resolvePaths() error {
	absOutput, err := filepath.Abs(c.Global.OutputPath)
	if err != nil {
		return fmt.Errorf("无法解析输出目录: %w", err)
	}
	c.Global.OutputPath = absOutput

	absCache, err := filepath.Abs(c.Global.CachePath)
	if err != nil {
		return fmt.Errorf("无法解析缓存文件路径: %w", err)
	}
	c.Global.CachePath = absCache
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
