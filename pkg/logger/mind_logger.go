// Package logger configures the global zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config for logger initialization.
type Config struct {
	Level   string // debug, info, warn, error
	Service string
	Pretty  bool // console writer for local development
	Output  io.Writer
}

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the default logger. Safe to call more than once;
// only the first call wins.
func Init(cfg Config) {
	once.Do(func() {
		var out io.Writer = os.Stdout
		if cfg.Output != nil {
			out = cfg.Output
		}
		if cfg.Pretty {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}

		level := parseLevel(cfg.Level)
		service := cfg.Service
		if service == "" {
			service = "mailmind"
		}

		defaultLogger = zerolog.New(out).
			Level(level).
			With().
			Timestamp().
			Str("service", service).
			Logger()
	})
}

// Default returns the default logger.
func Default() zerolog.Logger {
	Init(Config{Level: "info"})
	return defaultLogger
}

// With returns a component-scoped logger.
func With(component string) zerolog.Logger {
	return Default().With().Str("component", component).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
