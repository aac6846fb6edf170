// Package applog builds the process-wide zerolog.Logger, following
// the level/format configuration knobs the rest of the pack exposes
// for its own (logrus-based) loggers: a level string and a format
// switch between human-readable console output and JSON.
package applog

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config controls the root logger's level and output format.
type Config struct {
	Level  string // debug, info, warn, error; defaults to info on parse failure
	Format string // "json" or "console" (default)
}

// New builds the root logger. Component loggers should derive from it
// with .With().Str("component", name).Logger() rather than building
// their own from scratch, so every line shares the same timestamp and
// level encoding.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer = os.Stderr
	var logger zerolog.Logger
	if strings.ToLower(cfg.Format) == "json" {
		logger = zerolog.New(writer)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"})
	}

	return logger.Level(level).With().Timestamp().Logger()
}
