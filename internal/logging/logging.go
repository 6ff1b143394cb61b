// Package logging builds the process-wide slog logger from configuration.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rickgao/docrelay/internal/config"
)

// New returns a logger writing to stdout, or to a size-rotated file when
// cfg.File is set. The returned closer releases the file; it is a no-op for
// stdout.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer) {
	return NewTo(cfg, os.Stdout)
}

// NewTo is New with console output sent to out instead of stdout.
func NewTo(cfg config.LoggingConfig, out io.Writer) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = out
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w, closer = rotator, rotator
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler), closer
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
