package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// writeFileAtomic 先写入同目录临时文件再 rename，保证读者不会看到半截内容。
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tempName, perm)
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

// Materialize 将缓存中的 src 放到 dst：优先硬链接，跨设备等失败时退化为复制。
// dst 已存在时被替换；src 与 dst 相同则直接返回。
func Materialize(ctx context.Context, src, dst string) (int64, error) {
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return 0, err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(srcAbs)
	if err != nil {
		return 0, err
	}
	if srcAbs == dstAbs {
		return info.Size(), nil
	}

	dir := filepath.Dir(dstAbs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create destination dir: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".link-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()
	tempFile.Close()
	os.Remove(tempName)

	if err := os.Link(srcAbs, tempName); err == nil {
		if err := os.Rename(tempName, dstAbs); err != nil {
			os.Remove(tempName)
			return 0, err
		}
		return info.Size(), nil
	}

	return copyFile(ctx, srcAbs, dstAbs)
}

func copyFile(ctx context.Context, src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tempFile, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := CopyWithContext(ctx, tempFile, in)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}
	if err := os.Rename(tempName, dst); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

// RemoveFile 删除文件，不存在时视为成功。
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// CopyWithContext 以 32KB 为单位复制，并在每个分块之间检查 ctx。
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
