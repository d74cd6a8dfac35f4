package server

import (
	"context"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-fetch/internal/config"
)

const (
	defaultDialTimeout           = 10 * time.Second
	defaultResponseHeaderTimeout = 30 * time.Second
	transportRetryWaitMin        = 100 * time.Millisecond
	transportRetryWaitMax        = 5 * time.Second
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
func newTransport(dialTimeout, headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewUpstreamClient 返回所有下载共享的 http.Client。连接级失败与 429/5xx 在单次尝试内由
// retryablehttp 重试 TransportRetries 次；整体不设超时，单次尝试的时限由 fetch 的 ctx 控制。
func NewUpstreamClient(cfg *config.Config, logger *logrus.Logger) *http.Client {
	dialTimeout := defaultDialTimeout
	headerTimeout := defaultResponseHeaderTimeout
	retries := 0
	if cfg != nil {
		if d := cfg.Global.DialTimeout.DurationValue(); d > 0 {
			dialTimeout = d
		}
		if d := cfg.Global.ResponseHeaderTimeout.DurationValue(); d > 0 {
			headerTimeout = d
		}
		retries = cfg.Global.TransportRetries
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: newTransport(dialTimeout, headerTimeout)}
	// 逐请求日志由 CheckRetry 按需输出。
	client.Logger = nil
	client.RetryMax = retries
	client.RetryWaitMin = transportRetryWaitMin
	client.RetryWaitMax = transportRetryWaitMax
	client.Backoff = jitterBackoff
	client.CheckRetry = retryPolicy(logger)
	// 重试用尽后把最后一个响应交还给调用方，保留状态码。
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return client.StandardClient()
}

// jitterBackoff 在 retryablehttp 默认指数退避的基础上增加至多 1/8 的随机抖动。
func jitterBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	delay := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	if spread := int64(delay) / 8; spread > 0 {
		delay += time.Duration(rand.Int64N(spread))
	}
	return delay
}

func retryPolicy(logger *logrus.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		retry, policyErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		if retry && logger != nil {
			fields := logrus.Fields{"action": "transport_retry"}
			if resp != nil {
				fields["status"] = resp.StatusCode
				if resp.Request != nil {
					fields["url"] = resp.Request.URL.String()
				}
			}
			if err != nil {
				fields["error"] = err.Error()
			}
			logger.WithFields(fields).Debug("retrying request")
		}
		return retry, policyErr
	}
}
