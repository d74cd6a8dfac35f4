package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Entry 是归档中一个成员的只读视图，仅在一次遍历内有效。
type Entry struct {
	Name string
	Dir  bool
	Size int64
	Mode fs.FileMode

	file *zip.File
}

// Open 返回成员的原始内容。
func (e Entry) Open() (io.ReadCloser, error) {
	if e.file == nil {
		return nil, fmt.Errorf("entry %s has no content", e.Name)
	}
	return e.file.Open()
}

// Entries 按归档顺序惰性产出成员；归档无法解析时只产出一次错误。
// ctx 取消后遍历以 ctx.Err() 结束。
func Entries(ctx context.Context, r io.ReaderAt, size int64) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		// 含不安全路径的归档仍会返回 reader，逐个成员交给 cleanJoin 处理。
		reader, err := zip.NewReader(r, size)
		if err != nil && reader == nil {
			yield(Entry{}, fmt.Errorf("open archive: %w", err))
			return
		}
		for _, file := range reader.File {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			name := strings.ReplaceAll(file.Name, "\\", "/")
			entry := Entry{
				Name: name,
				Dir:  file.FileInfo().IsDir() || strings.HasSuffix(name, "/"),
				Size: int64(file.UncompressedSize64),
				Mode: file.Mode(),
				file: file,
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}
