// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the configured zerolog logger and any file it writes to.
type Logger struct {
	logger zerolog.Logger
	file   *os.File
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	File      string // optional log file, appended to
	Console   bool   // write to stderr
	Pretty    bool   // human-readable console output
	Redaction bool   // mask credentials before they reach any writer
}

// DefaultConfig returns the configuration used by the CLI when nothing is set.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
	}
}

// New builds a logger from cfg and installs it as the global log.Logger.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer

	if cfg.Console {
		var console io.Writer = os.Stderr
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		writers = append(writers, console)
	}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	if cfg.Redaction {
		writer = NewRedactor().Wrap(writer)
	}

	zl := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{logger: zl, file: file}, nil
}

// Zerolog returns the underlying zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
