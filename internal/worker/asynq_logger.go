package worker

import (
	"fmt"
	"log/slog"
	"os"
)

// AsynqLogger 把 asynq 内部日志转发到 slog。
type AsynqLogger struct {
	logger *slog.Logger
}

// NewAsynqLogger wraps logger for asynq.Config.Logger.
func NewAsynqLogger(logger *slog.Logger) *AsynqLogger {
	return &AsynqLogger{logger: logger.With(slog.String("component", "asynq"))}
}

func (l *AsynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *AsynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l *AsynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *AsynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }

func (l *AsynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
