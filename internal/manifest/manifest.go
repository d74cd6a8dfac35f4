package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/any-hub/any-fetch/internal/archive"
	"github.com/any-hub/any-fetch/internal/fetch"
	"github.com/any-hub/any-fetch/internal/platform"
)

const classifierPlaceholder = "${classifier}"

// Manifest 是一次运行需要拉取的全部资源。
type Manifest struct {
	Files   []File   `yaml:"files"`
	Natives []Native `yaml:"natives"`
}

// File 描述一个与平台无关的资源。
type File struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Digest  string        `yaml:"digest"`
	Size    int64         `yaml:"size"`
	Path    string        `yaml:"path"`
	Extract []ExtractSpec `yaml:"extract"`
}

// Native 描述按平台选择 classifier 的本地库。
type Native struct {
	Name string `yaml:"name"`
	// Natives 为清单 os → classifier 模板，模板可包含 ${arch}。
	Natives     map[string]string           `yaml:"natives"`
	Classifiers map[string]fetch.Descriptor `yaml:"classifiers"`
	// Path 可包含 ${classifier}。
	Path    string        `yaml:"path"`
	Extract []ExtractSpec `yaml:"extract"`
}

// ExtractSpec 指定解压目标目录，以及具名策略或内联过滤条件（二选一）。
type ExtractSpec struct {
	Dest           string `yaml:"dest"`
	Policy         string `yaml:"policy"`
	archive.Filter `yaml:",inline"`
}

// Job 是解析后的单个拉取任务，Path 与 Extract 中的 Dest 都相对于输出根目录。
type Job struct {
	Name       string
	Descriptor fetch.Descriptor
	Path       string
	Extract    []Extraction
}

// Extraction 是已解析出 Filter 的解压步骤。
type Extraction struct {
	Dest   string
	Policy string
	Filter archive.Filter
}

// Load 读取并校验清单文件。
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse 解码并校验清单内容，未知字段视为错误。
func Parse(data []byte) (*Manifest, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var m Manifest
	if err := decoder.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate 检查必填字段、路径安全性以及解压策略。
func (m *Manifest) Validate() error {
	names := make(map[string]struct{})
	checkName := func(kind, name string) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s: name required", kind)
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("%s %s: duplicate name", kind, name)
		}
		names[name] = struct{}{}
		return nil
	}

	for i, file := range m.Files {
		if err := checkName(fmt.Sprintf("files[%d]", i), file.Name); err != nil {
			return err
		}
		if file.URL == "" || file.Digest == "" {
			return fmt.Errorf("file %s: url and digest required", file.Name)
		}
		if err := checkRelative(file.Path); err != nil {
			return fmt.Errorf("file %s: %w", file.Name, err)
		}
		if err := validateExtract(file.Extract); err != nil {
			return fmt.Errorf("file %s: %w", file.Name, err)
		}
	}

	for i, native := range m.Natives {
		if err := checkName(fmt.Sprintf("natives[%d]", i), native.Name); err != nil {
			return err
		}
		if len(native.Natives) == 0 {
			return fmt.Errorf("native %s: natives table required", native.Name)
		}
		for classifier, desc := range native.Classifiers {
			if desc.URL == "" || desc.Digest == "" {
				return fmt.Errorf("native %s classifier %s: url and digest required", native.Name, classifier)
			}
		}
		if err := checkRelative(strings.ReplaceAll(native.Path, classifierPlaceholder, "x")); err != nil {
			return fmt.Errorf("native %s: %w", native.Name, err)
		}
		if err := validateExtract(native.Extract); err != nil {
			return fmt.Errorf("native %s: %w", native.Name, err)
		}
	}
	return nil
}

func validateExtract(specs []ExtractSpec) error {
	for i, spec := range specs {
		if _, err := spec.resolve(); err != nil {
			return fmt.Errorf("extract[%d]: %w", i, err)
		}
	}
	return nil
}

func (s ExtractSpec) resolve() (Extraction, error) {
	if strings.TrimSpace(s.Dest) == "" {
		return Extraction{}, errors.New("dest required")
	}
	if err := checkRelative(s.Dest); err != nil {
		return Extraction{}, err
	}
	if s.Policy != "" {
		if !s.Filter.IsZero() {
			return Extraction{}, errors.New("policy and inline filter are mutually exclusive")
		}
		policy, ok := archive.ResolvePolicy(s.Policy)
		if !ok {
			return Extraction{}, fmt.Errorf("unknown extraction policy %q", s.Policy)
		}
		return Extraction{Dest: s.Dest, Policy: policy.Key, Filter: policy.Filter}, nil
	}
	if err := s.Filter.Validate(); err != nil {
		return Extraction{}, err
	}
	return Extraction{Dest: s.Dest, Filter: s.Filter}, nil
}

// checkRelative 要求路径为空或是不逃离根目录的相对路径。
func checkRelative(p string) error {
	if p == "" {
		return nil
	}
	if !filepath.IsLocal(filepath.FromSlash(p)) {
		return fmt.Errorf("path %q must be relative to the output root", p)
	}
	return nil
}

// Resolve 为 target 展开全部任务。没有匹配 classifier 的本地库会被跳过，
// 其名称出现在 skipped 中；classifier 已选中却没有对应制品时返回错误。
func (m *Manifest) Resolve(target platform.Target, mapping platform.Mapping) (jobs []Job, skipped []string, err error) {
	for _, file := range m.Files {
		desc := fetch.Descriptor{URL: file.URL, Digest: file.Digest, Size: file.Size}
		job, err := newJob(file.Name, desc, file.Path, file.Extract)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, job)
	}

	for _, native := range m.Natives {
		classifier, ok := platform.Resolve(native.Natives, target, mapping)
		if !ok {
			skipped = append(skipped, native.Name)
			continue
		}
		desc, ok := native.Classifiers[classifier]
		if !ok {
			return nil, nil, fmt.Errorf("native %s: classifier %s not listed", native.Name, classifier)
		}
		p := strings.ReplaceAll(native.Path, classifierPlaceholder, classifier)
		job, err := newJob(native.Name+":"+classifier, desc, p, native.Extract)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, job)
	}
	if err := checkDestinations(jobs); err != nil {
		return nil, nil, err
	}
	return jobs, skipped, nil
}

// checkDestinations 拒绝摘要不同却落到同一路径的任务；同一摘要共享路径是允许的去重。
func checkDestinations(jobs []Job) error {
	type owner struct{ name, digest string }
	owners := make(map[string]owner, len(jobs))
	for _, job := range jobs {
		key := path.Clean(filepath.ToSlash(job.Path))
		digest := digestKey(job.Descriptor.Digest)
		if prev, ok := owners[key]; ok {
			if prev.digest != digest {
				return fmt.Errorf("%s: path %q already used by %s with a different digest", job.Name, job.Path, prev.name)
			}
			continue
		}
		owners[key] = owner{name: job.Name, digest: digest}
	}
	return nil
}

// digestKey 去掉算法前缀并转为小写，便于比较。
func digestKey(digest string) string {
	d := strings.ToLower(strings.TrimSpace(digest))
	if _, encoded, ok := strings.Cut(d, ":"); ok {
		d = encoded
	}
	return d
}

func newJob(name string, desc fetch.Descriptor, p string, specs []ExtractSpec) (Job, error) {
	if p == "" {
		p = ObjectPath(desc.Digest)
	}
	if err := checkRelative(p); err != nil {
		return Job{}, fmt.Errorf("%s: %w", name, err)
	}
	job := Job{Name: name, Descriptor: desc, Path: p}
	for _, spec := range specs {
		extraction, err := spec.resolve()
		if err != nil {
			return Job{}, fmt.Errorf("%s: %w", name, err)
		}
		job.Extract = append(job.Extract, extraction)
	}
	return job, nil
}

// ObjectPath 返回内容寻址布局下的相对路径 objects/<d[0:2]>/<d>。
func ObjectPath(digest string) string {
	d := digestKey(digest)
	if len(d) < 2 {
		return path.Join("objects", d)
	}
	return path.Join("objects", d[:2], d)
}
