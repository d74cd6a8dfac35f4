package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/any-fetch/internal/checksum"
)

// Descriptor 标识一个可拉取的单元。Size 仅用于进度展示，不参与校验。
type Descriptor struct {
	URL    string `json:"url" yaml:"url"`
	Digest string `json:"digest" yaml:"digest"`
	Size   int64  `json:"size" yaml:"size"`
}

// Normalize 校验字段并返回 digest 已规范化（去前缀、小写）的副本。
func (d Descriptor) Normalize(alg checksum.Algorithm) (Descriptor, error) {
	raw := strings.TrimSpace(d.URL)
	if raw == "" {
		return d, fmt.Errorf("%w: url required", ErrInvalidDescriptor)
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return d, fmt.Errorf("%w: invalid url %q", ErrInvalidDescriptor, d.URL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return d, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDescriptor, parsed.Scheme)
	}
	if d.Size < 0 {
		return d, fmt.Errorf("%w: negative size %d", ErrInvalidDescriptor, d.Size)
	}
	digest, err := checksum.Normalize(alg, d.Digest)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	d.URL = raw
	d.Digest = digest
	return d, nil
}
