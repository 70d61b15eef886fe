package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var defaultLevel = ParseLogLevel(os.Getenv("SALE_LOG_LEVEL"))

// SetLevel sets the level for loggers created afterwards. Call it before
// starting any goroutine.
func SetLevel(level zerolog.Level) { defaultLevel = level }

// NewLogger creates a structured JSON logger for one component.
// Level comes from SetLevel, else SALE_LOG_LEVEL; default info.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, defaultLevel)
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return newLogger(os.Stdout, component, level)
}

// NewLoggerTo writes to w instead of stdout. Tests capture output with it.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return newLogger(w, component, level)
}

func newLogger(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func ParseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
