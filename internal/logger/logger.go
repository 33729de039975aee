// Package logger 提供进程级日志入口：printf 风格的 Xxxf 与
// 结构化键值对风格的 Xxxw 共用同一个 slog 后端，
// 输出与级别可在运行期切换。
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"log/slog"
)

var (
	levelVar slog.LevelVar
	active   atomic.Pointer[slog.Logger]
)

func init() {
	levelVar.Set(slog.LevelInfo)
	active.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput 替换日志输出目标，已有级别设置保持不变。
func SetOutput(w io.Writer) {
	active.Store(build(w))
}

// SetLevel 按名称调整最低输出级别，未识别的名称回落到 info。
func SetLevel(name string) {
	levelVar.Set(parseLevel(name))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debugf(format string, v ...any) { active.Load().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { active.Load().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { active.Load().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { active.Load().Error(fmt.Sprintf(format, v...)) }

// Xxxw 变体接受 slog 风格的交替键值对。
func Debugw(msg string, kv ...any) { active.Load().Debug(msg, kv...) }
func Infow(msg string, kv ...any)  { active.Load().Info(msg, kv...) }
func Warnw(msg string, kv ...any)  { active.Load().Warn(msg, kv...) }
func Errorw(msg string, kv ...any) { active.Load().Error(msg, kv...) }
