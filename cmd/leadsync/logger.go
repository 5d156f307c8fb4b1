package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	glog "github.com/goliatone/go-logger/glog"
)

// slogLogger satisfies the go-logger contract on top of a slog handler.
type slogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func newLogger(w io.Writer, verbose bool) glog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &slogLogger{logger: slog.New(handler), ctx: context.Background()}
}

func (l *slogLogger) Trace(msg string, args ...any) {
	l.logger.Log(l.ctx, slog.LevelDebug-4, msg, args...)
}

func (l *slogLogger) Debug(msg string, args ...any) {
	l.logger.DebugContext(l.ctx, msg, args...)
}

func (l *slogLogger) Info(msg string, args ...any) {
	l.logger.InfoContext(l.ctx, msg, args...)
}

func (l *slogLogger) Warn(msg string, args ...any) {
	l.logger.WarnContext(l.ctx, msg, args...)
}

func (l *slogLogger) Error(msg string, args ...any) {
	l.logger.ErrorContext(l.ctx, msg, args...)
}

func (l *slogLogger) Fatal(msg string, args ...any) {
	l.logger.ErrorContext(l.ctx, msg, args...)
	os.Exit(1)
}

func (l *slogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return &slogLogger{logger: l.logger, ctx: ctx}
}
