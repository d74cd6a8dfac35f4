// Package platform selects the native-library variant for a host.
//
// Selection is a pure function: a Target in Go vocabulary (GOOS/GOARCH) is
// translated through a Mapping into the manifest vocabulary, and the matching
// classifier template has its ${arch} placeholder replaced.
package platform

import (
	"runtime"
	"strings"
)

const archPlaceholder = "${arch}"

// Target 使用 Go 的 GOOS/GOARCH 词汇描述一个平台。
type Target struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

// Current 返回当前进程所在的平台。
func Current() Target {
	return Target{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (t Target) String() string {
	return t.OS + "/" + t.Arch
}

// Mapping 将 Go 词汇翻译为清单词汇，通常来自配置文件的 [Platform] 表。
type Mapping struct {
	OS   map[string]string
	Arch map[string]string
}

// Translate 返回 target 在清单词汇中的 os 与 arch；未映射的值原样返回。
func (m Mapping) Translate(target Target) (osName, arch string) {
	osName = target.OS
	if mapped, ok := m.OS[target.OS]; ok && mapped != "" {
		osName = mapped
	}
	arch = target.Arch
	if mapped, ok := m.Arch[target.Arch]; ok && mapped != "" {
		arch = mapped
	}
	return osName, arch
}

// Resolve 在 natives（清单 os → classifier 模板）中查找 target 对应的 classifier。
func Resolve(natives map[string]string, target Target, mapping Mapping) (string, bool) {
	osName, arch := mapping.Translate(target)
	template, ok := natives[osName]
	if !ok || strings.TrimSpace(template) == "" {
		return "", false
	}
	return strings.ReplaceAll(template, archPlaceholder, arch), true
}
