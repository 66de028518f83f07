// Package logging builds the zerolog loggers used across dnp3ips.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wiretap/dnp3ips/internal/config"
)

const app = "dnp3ips"

// New builds a logger writing to stderr and, when configured, to a log
// file in JSON. The returned close function releases the file.
func New(cfg config.LoggingConfig) (zerolog.Logger, func() error, error) {
	closeFn := func() error { return nil }
	var out io.Writer = os.Stderr

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("failed to open log file: %w", err)
		}
		closeFn = f.Close
		out = zerolog.MultiLevelWriter(formatWriter(cfg.Format, os.Stderr), f)
		cfg.Format = "json"
	}

	logger, err := NewWithWriter(cfg, out)
	if err != nil {
		_ = closeFn()
		return zerolog.Nop(), func() error { return nil }, err
	}
	log.Logger = logger
	return logger, closeFn, nil
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return zerolog.New(formatWriter(cfg.Format, w)).
		Level(level).
		With().
		Timestamp().
		Str("app", app).
		Logger(), nil
}

// ParseLevel converts a configured level name. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func formatWriter(format string, w io.Writer) io.Writer {
	if format == "json" {
		return w
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    !isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
