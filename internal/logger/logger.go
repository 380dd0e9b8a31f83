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
	c "github.com/life-stream-dev/life-stream-whiteboard-sync/internal/config"
)

const (
	LevelFatal slog.Level = 12
)

// asyncCore 由同一个 handler 派生出的所有 handler 共享
type asyncCore struct {
	ch          chan []byte
	writer      io.Writer
	console     io.Writer
	currentDay  int      // 当前日志日期（day of year）
	currentFile *os.File // 当前日志文件
	basePath    string   // 日志文件基础路径
	retention   time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once
	mu          sync.RWMutex
	closed      bool
}

type AsyncHandler struct {
	core     *asyncCore
	attrs    []slog.Attr
	group    string
	logLevel slog.Level
}

func NewAsyncHandler(basePath string, logLevel slog.Level) *AsyncHandler {
	return newAsyncHandler(basePath, logLevel, 30*24*time.Hour, os.Stdout)
}

func newAsyncHandler(basePath string, logLevel slog.Level, retention time.Duration, console io.Writer) *AsyncHandler {
	core := &asyncCore{
		ch:        make(chan []byte, 1024),
		basePath:  basePath,
		retention: retention,
		console:   console,
		writer:    console,
	}
	if err := core.rotateIfNeeded(time.Now()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "logger: %v\n", err)
	}
	core.cleanOldLogs(time.Now())
	core.wg.Add(1)
	go core.startWorker()
	return &AsyncHandler{core: core, logLevel: logLevel}
}

func (core *asyncCore) cleanOldLogs(now time.Time) {
	if core.basePath == "" || core.retention <= 0 {
		return
	}
	files, _ := filepath.Glob(filepath.Join(core.basePath, "*.log"))
	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) > core.retention {
			_ = os.Remove(f)
		}
	}
}

// 初始化或轮转日志文件
func (core *asyncCore) rotateIfNeeded(now time.Time) error {
	if core.basePath == "" {
		return nil
	}
	currentDay := now.YearDay()

	if currentDay == core.currentDay && core.currentFile != nil {
		return nil
	}

	if core.currentFile != nil {
		if err := core.currentFile.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		core.currentFile = nil
	}

	logPath := filepath.Join(core.basePath, now.Format("2006-01-02")+".log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}

	core.currentFile = f
	core.currentDay = currentDay
	core.writer = io.MultiWriter(core.console, f)
	return nil
}

func (core *asyncCore) startWorker() {
	defer core.wg.Done()
	for data := range core.ch {
		now := time.Now()
		if now.YearDay() != core.currentDay && core.currentFile != nil {
			if err := core.rotateIfNeeded(now); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			} else {
				core.cleanOldLogs(now)
			}
		}
		_, _ = core.writer.Write(data)
	}
}

func (core *asyncCore) write(p []byte) {
	core.mu.RLock()
	defer core.mu.RUnlock()
	if core.closed {
		_, _ = core.console.Write(p)
		return
	}
	// 拷贝数据避免竞态
	pb := make([]byte, len(p))
	copy(pb, p)
	core.ch <- pb
}

func (core *asyncCore) close() error {
	core.closeOnce.Do(func() {
		core.mu.Lock()
		core.closed = true
		close(core.ch)
		core.mu.Unlock()
		core.wg.Wait()
		if core.currentFile != nil {
			_ = core.currentFile.Sync()
			_ = core.currentFile.Close()
		}
	})
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

	// 基础格式：时间 | 级别 | 消息
	var line strings.Builder
	line.WriteString(fmt.Sprintf(
		"%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		color.CyanString(r.Message),
	))

	for _, attr := range h.attrs {
		line.WriteString(color.CyanString(fmt.Sprintf(" %s=%v", attr.Key, attr.Value)))
	}

	r.Attrs(func(attr slog.Attr) bool {
		line.WriteString(color.CyanString(fmt.Sprintf(" %s=%v", h.qualify(attr.Key), attr.Value)))
		return true
	})

	line.WriteString("\n")

	h.core.write([]byte(line.String()))
	return nil
}

func (h *AsyncHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	for _, attr := range attrs {
		attr.Key = h.qualify(attr.Key)
		newAttrs = append(newAttrs, attr)
	}

	return &AsyncHandler{
		core:     h.core,
		attrs:    newAttrs,
		group:    h.group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &AsyncHandler{
		core:     h.core,
		attrs:    h.attrs,
		group:    h.qualify(name),
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) Close() error {
	return h.core.close()
}

type ShutdownCallback struct {
	handler *AsyncHandler
}

func (lc *ShutdownCallback) Invoke(_ context.Context) error {
	return lc.handler.Close()
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

func Init() *ShutdownCallback {
	config, _ := c.GetConfig()
	level := ParseLevel(config.Log.Level)
	if config.DebugMode {
		level = slog.LevelDebug
	}
	dir := config.Log.Dir
	if dir == "" {
		dir = "logs"
	}
	retention := time.Duration(config.Log.RetentionDays) * 24 * time.Hour
	handler := newAsyncHandler(dir, level, retention, os.Stdout)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logger initialized")
	return &ShutdownCallback{handler: handler}
}

// With 返回携带固定字段的 logger, 用于房间或连接范围的日志
func With(args ...any) *slog.Logger {
	return slog.Default().With(args...)
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
