// Package logging builds the root zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the root logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console

	// File, when set, sends output to a rotated file instead of Output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// Logger is a root logger together with the sink it writes to.
type Logger struct {
	zerolog.Logger
	closer io.Closer
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// New creates a logger from cfg and applies its level globally.
func New(cfg Config) (*Logger, error) {
	if err := SetLevel(cfg.Level); err != nil {
		return nil, err
	}

	var (
		w      io.Writer
		closer io.Closer
	)
	switch {
	case cfg.File != "":
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w, closer = lj, lj
	case cfg.Output != nil:
		w = cfg.Output
	default:
		w = os.Stdout
	}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: cfg.File != ""}
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return &Logger{
		Logger: zerolog.New(w).With().Timestamp().Logger(),
		closer: closer,
	}, nil
}

// SetLevel parses level and makes it the global minimum. Empty means info.
func SetLevel(level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
