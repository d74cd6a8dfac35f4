package archive

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// Filter 描述需要解压的成员以及输出路径的计算方式。
type Filter struct {
	// IncludePrefixes 为空时包含全部成员；否则成员必须以其中之一开头。
	IncludePrefixes []string `json:"include,omitempty" yaml:"include,omitempty"`
	// ExcludePrefixes 命中任意前缀即跳过。
	ExcludePrefixes []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	// Extensions 为扩展名白名单，可写作 "java" 或 ".java"。
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	// ExcludeGlobs 使用 '/' 作为分隔符匹配完整成员路径，例如 "**.class"。
	ExcludeGlobs []string `json:"exclude_globs,omitempty" yaml:"exclude_globs,omitempty"`
	// KeepPrefix 为 true 时输出路径保留命中的 include 前缀。
	KeepPrefix bool `json:"keep_prefix,omitempty" yaml:"keep_prefix,omitempty"`
	// Flatten 为 true 时只保留成员的文件名。
	Flatten bool `json:"flatten,omitempty" yaml:"flatten,omitempty"`
}

// IsZero 判断 Filter 是否未设置任何条件。
func (f Filter) IsZero() bool {
	return len(f.IncludePrefixes) == 0 && len(f.ExcludePrefixes) == 0 &&
		len(f.Extensions) == 0 && len(f.ExcludeGlobs) == 0 && !f.KeepPrefix && !f.Flatten
}

type matcher struct {
	filter     Filter
	globs      []glob.Glob
	extensions map[string]struct{}
}

func (f Filter) compile() (*matcher, error) {
	m := &matcher{filter: f}
	for _, pattern := range f.ExcludeGlobs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude glob %q: %w", pattern, err)
		}
		m.globs = append(m.globs, g)
	}
	if len(f.Extensions) > 0 {
		m.extensions = make(map[string]struct{}, len(f.Extensions))
		for _, ext := range f.Extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			m.extensions[ext] = struct{}{}
		}
	}
	return m, nil
}

// Validate 检查 glob 能否编译。
func (f Filter) Validate() error {
	_, err := f.compile()
	return err
}

// target 返回成员在目标目录下的相对路径（使用 '/'），ok 为 false 表示跳过。
func (m *matcher) target(name string) (string, bool) {
	for _, prefix := range m.filter.ExcludePrefixes {
		if strings.HasPrefix(name, prefix) {
			return "", false
		}
	}
	for _, g := range m.globs {
		if g.Match(name) {
			return "", false
		}
	}

	rel := name
	if len(m.filter.IncludePrefixes) > 0 {
		matched := false
		for _, prefix := range m.filter.IncludePrefixes {
			if strings.HasPrefix(name, prefix) {
				if !m.filter.KeepPrefix {
					rel = strings.TrimLeft(strings.TrimPrefix(name, prefix), "/")
				}
				matched = true
				break
			}
		}
		if !matched {
			return "", false
		}
	}

	if m.extensions != nil {
		if _, ok := m.extensions[strings.ToLower(path.Ext(name))]; !ok {
			return "", false
		}
	}

	if m.filter.Flatten {
		rel = path.Base(rel)
	}
	if rel == "" || rel == "." {
		return "", false
	}
	return rel, true
}
