// Package logging standardises structured JSON logging for the tracker and
// web API daemons.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Option tunes the log setup.
type Option func(*options)

type options struct {
	level    slog.Level
	filePath string
	maxSize  int
	backups  int
}

// WithLevel sets the minimum emitted level. Defaults to info.
func WithLevel(level slog.Level) Option {
	return func(o *options) { o.level = level }
}

// WithFile mirrors every log line into a size-rotated file next to stdout.
func WithFile(path string) Option {
	return func(o *options) { o.filePath = path }
}

// WithRotation overrides the rotation thresholds of the file sink.
func WithRotation(maxSizeMB, maxBackups int) Option {
	return func(o *options) {
		o.maxSize = maxSizeMB
		o.backups = maxBackups
	}
}

// Setup configures the default slog logger to emit structured JSON and
// returns it for richer logging within the service. All log lines include
// the service name and environment when provided.
func Setup(service, env string, opts ...Option) *slog.Logger {
	cfg := options{level: slog.LevelInfo, maxSize: 64, backups: 4}
	for _, opt := range opts {
		opt(&cfg)
	}

	var sink io.Writer = os.Stdout
	if cfg.filePath != "" {
		sink = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.filePath,
			MaxSize:    cfg.maxSize,
			MaxBackups: cfg.backups,
			Compress:   true,
		})
	}

	handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{
		Level: cfg.level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so dependencies keep emitting
	// through the same handler.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
