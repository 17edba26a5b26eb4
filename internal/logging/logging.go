package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"portraitStudio/internal/config"
)

// New 根据配置构造 slog.Logger：console 使用 tint 彩色输出，json 使用标准 JSON Handler。
func New(cfg config.LogConfig) *slog.Logger {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewTo 与 New 相同，但写入 w；CLI 用它把日志留在 stderr。
func NewTo(cfg config.LogConfig, w io.Writer) *slog.Logger {
	return newWithWriter(cfg, w)
}
