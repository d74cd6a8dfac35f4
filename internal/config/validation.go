package config

import (
	"errors"
	"strings"

	"github.com/any-hub/any-fetch/internal/checksum"
)

var supportedCacheBackends = map[string]struct{}{
	"json": {},
	"bolt": {},
}

var supportedProgressModes = map[string]struct{}{
	"auto":   {},
	"always": {},
	"never":  {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动拉取。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.OutputPath == "" {
		return newFieldError("Global.OutputPath", "不能为空")
	}
	if g.CachePath == "" {
		return newFieldError("Global.CachePath", "不能为空")
	}
	if _, ok := supportedCacheBackends[g.CacheBackend]; !ok {
		return newFieldError("Global.CacheBackend", "仅支持 json|bolt")
	}
	if _, err := checksum.ParseAlgorithm(g.DigestAlgorithm); err != nil {
		return newFieldError("Global.DigestAlgorithm", "仅支持 sha1|sha256|sha512")
	}
	if g.Concurrency <= 0 {
		return newFieldError("Global.Concurrency", "必须大于 0")
	}
	if g.MaxAttempts <= 0 {
		return newFieldError("Global.MaxAttempts", "必须大于 0")
	}
	if g.InitialBackoff.DurationValue() < 0 {
		return newFieldError("Global.InitialBackoff", "不能为负数")
	}
	if g.MaxBackoff.DurationValue() < g.InitialBackoff.DurationValue() {
		return newFieldError("Global.MaxBackoff", "不能小于 InitialBackoff")
	}
	if g.AttemptTimeout.DurationValue() <= 0 {
		return newFieldError("Global.AttemptTimeout", "必须大于 0")
	}
	if g.DialTimeout.DurationValue() <= 0 {
		return newFieldError("Global.DialTimeout", "必须大于 0")
	}
	if g.ResponseHeaderTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ResponseHeaderTimeout", "必须大于 0")
	}
	if g.TransportRetries < 0 {
		return newFieldError("Global.TransportRetries", "不能为负数")
	}
	if _, ok := supportedProgressModes[g.Progress]; !ok {
		return newFieldError("Global.Progress", "仅支持 auto|always|never")
	}
	if g.StatusListenPort < 0 || g.StatusListenPort > 65535 {
		return newFieldError("Global.StatusListenPort", "必须在 0-65535")
	}

	for key, value := range c.Platform.OS {
		if strings.TrimSpace(value) == "" {
			return newFieldError(platformField("OS", key), "不能为空")
		}
	}
	for key, value := range c.Platform.Arch {
		if strings.TrimSpace(value) == "" {
			return newFieldError(platformField("Arch", key), "不能为空")
		}
	}

	return nil
}

// DigestAlgorithm 返回校验通过后的摘要算法。
func (c *Config) DigestAlgorithm() checksum.Algorithm {
	alg, err := checksum.ParseAlgorithm(c.Global.DigestAlgorithm)
	if err != nil {
		return checksum.SHA1
	}
	return alg
}
