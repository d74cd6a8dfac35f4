package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// Mode 控制进度输出是否启用。
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeAlways Mode = "always"
	ModeNever  Mode = "never"
)

// Options 配置 Reporter。
type Options struct {
	// Output 默认 os.Stdout。
	Output io.Writer
	// Mode 默认 auto：仅当 Output 是终端时输出。
	Mode Mode
}

// Reporter 输出单行刷新的进度信息，并维护可供诊断接口读取的计数器。
type Reporter struct {
	out         io.Writer
	interactive bool

	mu      sync.Mutex
	lastLen int

	itemsTotal     atomic.Int64
	itemsCompleted atomic.Int64
	itemsFailed    atomic.Int64
	cacheHits      atomic.Int64
	bytesTotal     atomic.Int64
	bytesCompleted atomic.Int64
	started        atomic.Int64
	phase          atomic.Value
}

// Snapshot 是某一时刻的进度计数。
type Snapshot struct {
	Phase          string    `json:"phase"`
	ItemsTotal     int64     `json:"items_total"`
	ItemsCompleted int64     `json:"items_completed"`
	ItemsFailed    int64     `json:"items_failed"`
	CacheHits      int64     `json:"cache_hits"`
	BytesTotal     int64     `json:"bytes_total"`
	BytesCompleted int64     `json:"bytes_completed"`
	StartedAt      time.Time `json:"started_at"`
}

// NewReporter 根据 Options 创建 Reporter。
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}

	r := &Reporter{
		out:         opts.Output,
		interactive: isInteractive(opts.Output, opts.Mode),
	}
	r.started.Store(time.Now().UnixNano())
	r.phase.Store("idle")
	return r
}

// Discard 返回一个不输出任何内容的 Reporter，计数器仍然有效。
func Discard() *Reporter {
	return NewReporter(Options{Output: io.Discard, Mode: ModeNever})
}

func isInteractive(out io.Writer, mode Mode) bool {
	switch mode {
	case ModeAlways:
		return true
	case ModeNever:
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Interactive 返回当前 sink 是否会显示进度。
func (r *Reporter) Interactive() bool {
	return r != nil && r.interactive
}

// Raw 覆盖当前行输出一条进度信息，非交互 sink 下不做任何事。
func (r *Reporter) Raw(format string, args ...interface{}) {
	if !r.Interactive() {
		return
	}
	line := "-- " + fmt.Sprintf(format, args...)

	r.mu.Lock()
	defer r.mu.Unlock()
	pad := ""
	if r.lastLen > len(line) {
		pad = strings.Repeat(" ", r.lastLen-len(line))
	}
	fmt.Fprintf(r.out, "\r%s%s\033[K", line, pad)
	r.lastLen = len(line)
}

// Clear 清除当前进度行。
func (r *Reporter) Clear() {
	if !r.Interactive() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastLen == 0 {
		return
	}
	fmt.Fprint(r.out, "\r\033[K")
	r.lastLen = 0
}

// ItemProgress 显示单个文件的下载进度。
func (r *Reporter) ItemProgress(name string, received, total int64) {
	r.Raw("Downloading %s -- Progress: %s", name, FormatProgress(received, total))
}

// BatchProgress 显示批量下载的累计进度。
func (r *Reporter) BatchProgress(done, total int64) {
	r.Raw("Progress: %s", FormatProgress(done, total))
}

// SetPhase 记录当前阶段，例如 fetch / extract / done。
func (r *Reporter) SetPhase(phase string) {
	if r == nil {
		return
	}
	r.phase.Store(phase)
}

// AddPlanned 登记即将处理的条目数量与预期字节数。
func (r *Reporter) AddPlanned(items int, bytes int64) {
	if r == nil {
		return
	}
	r.itemsTotal.Add(int64(items))
	r.bytesTotal.Add(bytes)
}

// ItemCompleted 记录一个条目完成。
func (r *Reporter) ItemCompleted(bytes int64, cacheHit bool) {
	if r == nil {
		return
	}
	r.itemsCompleted.Add(1)
	r.bytesCompleted.Add(bytes)
	if cacheHit {
		r.cacheHits.Add(1)
	}
}

// ItemFailed 记录一个条目最终失败。
func (r *Reporter) ItemFailed() {
	if r == nil {
		return
	}
	r.itemsFailed.Add(1)
}

// Snapshot 返回当前计数。
func (r *Reporter) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	phase, _ := r.phase.Load().(string)
	return Snapshot{
		Phase:          phase,
		ItemsTotal:     r.itemsTotal.Load(),
		ItemsCompleted: r.itemsCompleted.Load(),
		ItemsFailed:    r.itemsFailed.Load(),
		CacheHits:      r.cacheHits.Load(),
		BytesTotal:     r.bytesTotal.Load(),
		BytesCompleted: r.bytesCompleted.Load(),
		StartedAt:      time.Unix(0, r.started.Load()).UTC(),
	}
}
