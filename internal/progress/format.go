package progress

import "fmt"

// FormatSize 使用十进制单位格式化字节数，例如 1.50MB。
func FormatSize(size int64) string {
	const (
		KB = 1000
		MB = KB * 1000
		GB = MB * 1000
	)

	switch {
	case size < KB:
		return fmt.Sprintf("%dB", size)
	case size < MB:
		return fmt.Sprintf("%.2fKB", float64(size)/KB)
	case size < GB:
		return fmt.Sprintf("%.2fMB", float64(size)/MB)
	default:
		return fmt.Sprintf("%.2fGB", float64(size)/GB)
	}
}

// FormatProgress 输出 "已完成/总量"。
func FormatProgress(done, total int64) string {
	return FormatSize(done) + "/" + FormatSize(total)
}
