package checksum

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Algorithm 标识系统使用的摘要算法。
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = Algorithm(digest.SHA256)
	SHA512 Algorithm = Algorithm(digest.SHA512)
)

// ErrUnsupportedAlgorithm 表示配置了未知的摘要算法。
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// ParseAlgorithm 规范化配置中的算法名，空值回退 sha1。
func ParseAlgorithm(raw string) (Algorithm, error) {
	normalized := Algorithm(strings.ToLower(strings.TrimSpace(raw)))
	if normalized == "" {
		return SHA1, nil
	}
	if !normalized.Available() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, raw)
	}
	return normalized, nil
}

// Available 返回算法是否可用。
func (a Algorithm) Available() bool {
	if a == SHA1 {
		return true
	}
	switch digest.Algorithm(a) {
	case digest.SHA256, digest.SHA512:
		return digest.Algorithm(a).Available()
	}
	return false
}

// Size 返回十六进制摘要的长度。
func (a Algorithm) Size() int {
	if a == SHA1 {
		return sha1.Size * 2
	}
	return digest.Algorithm(a).Size() * 2
}

func (a Algorithm) String() string {
	return string(a)
}

func (a Algorithm) newHash() hash.Hash {
	if a == SHA1 {
		return sha1.New()
	}
	return digest.Algorithm(a).Hash()
}

// Normalize 去掉可选的 "alg:" 前缀并转换为小写，前缀必须与系统算法一致。
func Normalize(a Algorithm, expected string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(expected))
	if prefix, encoded, ok := strings.Cut(value, ":"); ok {
		if Algorithm(prefix) != a {
			return "", fmt.Errorf("digest %q does not use algorithm %s", expected, a)
		}
		value = encoded
	}
	if err := ValidateHex(a, value); err != nil {
		return "", err
	}
	return value, nil
}

// ValidateHex 校验十六进制摘要的长度与字符集。
func ValidateHex(a Algorithm, encoded string) error {
	if !a.Available() {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, a)
	}
	if a != SHA1 {
		return digest.Algorithm(a).Validate(encoded)
	}
	if len(encoded) != a.Size() {
		return fmt.Errorf("invalid %s digest length %d", a, len(encoded))
	}
	if _, err := hex.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid %s digest: %w", a, err)
	}
	return nil
}

// Verifier 在数据流经时增量计算摘要，流结束后比较结果。
type Verifier interface {
	io.Writer
	// Verified 返回已写入内容的摘要是否等于期望值。
	Verified() bool
	// Digest 返回已写入内容的十六进制摘要。
	Digest() string
}

type hashVerifier struct {
	hash     hash.Hash
	expected string
}

// NewVerifier 构造一个针对 expected 的 Verifier，expected 可以带 "alg:" 前缀。
func NewVerifier(a Algorithm, expected string) (Verifier, error) {
	normalized, err := Normalize(a, expected)
	if err != nil {
		return nil, err
	}
	return &hashVerifier{hash: a.newHash(), expected: normalized}, nil
}

func (v *hashVerifier) Write(p []byte) (int, error) {
	return v.hash.Write(p)
}

func (v *hashVerifier) Digest() string {
	return hex.EncodeToString(v.hash.Sum(nil))
}

func (v *hashVerifier) Verified() bool {
	return v.Digest() == v.expected
}

// Sum 读取 r 的全部内容并返回十六进制摘要。
func Sum(a Algorithm, r io.Reader) (string, error) {
	if !a.Available() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, a)
	}
	h := a.newHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Empty 返回空内容的摘要。
func Empty(a Algorithm) string {
	return hex.EncodeToString(a.newHash().Sum(nil))
}
