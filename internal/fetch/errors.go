package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidDescriptor 表示描述符本身不合法，不会重试。
var ErrInvalidDescriptor = errors.New("invalid descriptor")

// MismatchError 表示一次传输完成但摘要不符，是重试信号而非故障。
type MismatchError struct {
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Permanent 判断该状态码是否不值得重试：除 408/429 以外的 4xx。
func (e *StatusError) Permanent() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

// ExhaustedError 是终态失败：所有尝试都已用完或遇到了永久性错误。
type ExhaustedError struct {
	URL      string
	Digest   string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s (%s) failed after %d attempt(s): %v", e.URL, e.Digest, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

func isPermanent(err error) bool {
	if errors.Is(err, ErrInvalidDescriptor) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Permanent()
}
