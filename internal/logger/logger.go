package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	LevelFatal slog.Level = 12

	retention = 30 * 24 * time.Hour
)

// asyncWriter 由同一个 handler 派生出来的所有 handler 共享
type asyncWriter struct {
	ch          chan []byte
	writer      io.Writer
	currentDay  int      // 当前日志日期（day of year）
	currentFile *os.File // 当前日志文件
	basePath    string   // 日志文件基础路径，为空时只输出到 stdout
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
}

type AsyncHandler struct {
	out      *asyncWriter
	attrs    []slog.Attr
	group    string
	logLevel slog.Level
}

func NewAsyncHandler(basePath string, logLevel slog.Level) *AsyncHandler {
	out := &asyncWriter{
		ch:       make(chan []byte, 1024),
		writer:   os.Stdout,
		basePath: basePath,
	}
	if err := out.rotateIfNeeded(); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
	}
	out.wg.Add(1)
	go out.startWorker()
	return &AsyncHandler{out: out, logLevel: logLevel}
}

func (w *asyncWriter) cleanOldLogs() {
	files, _ := filepath.Glob(filepath.Join(w.basePath, "*.log"))
	now := time.Now()

	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) > retention {
			_ = os.Remove(f)
		}
	}
}

// rotateIfNeeded 跨天时切换到新的日志文件，只在 worker 协程中调用
func (w *asyncWriter) rotateIfNeeded() error {
	if w.basePath == "" {
		return nil
	}
	now := time.Now()
	currentDay := now.YearDay()

	if currentDay == w.currentDay && w.currentFile != nil {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		w.currentFile = nil
	}

	logPath := filepath.Join(w.basePath, now.Format("2006-01-02")+".log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		w.writer = os.Stdout
		return fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		w.writer = os.Stdout
		return fmt.Errorf("create log file: %w", err)
	}

	w.currentFile = f
	w.currentDay = currentDay
	w.writer = io.MultiWriter(os.Stdout, w.currentFile)
	w.cleanOldLogs()
	return nil
}

func (w *asyncWriter) startWorker() {
	defer w.wg.Done()
	for data := range w.ch {
		_ = w.rotateIfNeeded()
		_, _ = w.writer.Write(data)
	}
}

func (w *asyncWriter) write(p []byte) {
	pb := make([]byte, len(p))
	copy(pb, p)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		_, _ = os.Stdout.Write(pb)
		return
	}
	w.ch <- pb
}

func (w *asyncWriter) close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()

	w.wg.Wait()
	if w.currentFile != nil {
		_ = w.currentFile.Sync()
		return w.currentFile.Close()
	}
	return nil
}

func (h *AsyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.logLevel
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	case LevelFatal:
		level = color.HiRedString("FATAL")
	}

	var line strings.Builder
	// 时间 | 级别 | 消息
	fmt.Fprintf(&line, "%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		color.CyanString("%s", r.Message),
	)

	for _, attr := range h.attrs {
		line.WriteString(color.CyanString(" %s=%v", attr.Key, attr.Value))
	}

	r.Attrs(func(attr slog.Attr) bool {
		key := attr.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		line.WriteString(color.CyanString(" %s=%v", key, attr.Value))
		return true
	})

	line.WriteString("\n")

	h.out.write([]byte(line.String()))
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	for _, attr := range attrs {
		if h.group != "" {
			attr.Key = h.group + "." + attr.Key
		}
		newAttrs = append(newAttrs, attr)
	}

	return &AsyncHandler{
		out:      h.out,
		attrs:    newAttrs,
		group:    h.group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &AsyncHandler{
		out:      h.out,
		attrs:    h.attrs,
		group:    group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) Close() error {
	return h.out.close()
}

type ShutdownCallback struct {
	handler *AsyncHandler
}

func (lc *ShutdownCallback) Invoke(_ context.Context) error {
	return lc.handler.Close()
}

// Init 安装全局 slog handler，返回的回调需要在进程退出前调用以刷出缓冲
func Init(logDir string, debug bool) *ShutdownCallback {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := NewAsyncHandler(logDir, level)
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logger initialized")
	return &ShutdownCallback{handler: handler}
}

func Debug(msg string, v ...interface{}) {
	slog.Debug(msg, v...)
}

func DebugF(msg string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(msg, v...))
}

func Info(msg string, v ...interface{}) {
	slog.Info(msg, v...)
}

func InfoF(msg string, v ...interface{}) {
	slog.Info(fmt.Sprintf(msg, v...))
}

func Warn(msg string, v ...interface{}) {
	slog.Warn(msg, v...)
}

func WarnF(msg string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(msg, v...))
}

func Error(msg string, v ...interface{}) {
	slog.Error(msg, v...)
}

func ErrorF(msg string, v ...interface{}) {
	slog.Error(fmt.Sprintf(msg, v...))
}

func Fatal(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, msg, v...)
}

func FatalF(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, fmt.Sprintf(msg, v...))
}
