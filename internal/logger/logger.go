package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger

	output io.Writer = os.Stdout
)

func init() {
	// Info level, JSON to stdout until Init is called from the serve command
	Logger = newLogger(os.Stdout)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = Logger
}

// Levels accepted by Init and the --log-level flag
var Levels = []string{"debug", "info", "warn", "error"}

// ParseLevel maps a level name to a zerolog level.
// Unknown names fall back to info and report ok=false.
func ParseLevel(level string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, true
	case "info", "":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	default:
		return zerolog.InfoLevel, false
	}
}

// Init configures the global logger level and output format.
// pretty switches to a human-readable console writer.
func Init(level string, pretty bool) {
	zlLevel, _ := ParseLevel(level)
	zerolog.SetGlobalLevel(zlLevel)

	w := output
	if pretty {
		w = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = newLogger(w)
	log.Logger = Logger
}

// SetOutput redirects all subsequent log output. Tests use it to capture logs.
func SetOutput(w io.Writer) {
	output = w
	Logger = newLogger(w)
	log.Logger = Logger
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &Logger
}

// WithComponent returns a logger with a component field set
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}

// WithPass returns a component logger tagged with a playback pass ID
func WithPass(component, passID string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Str("pass", passID).Logger()
	return &l
}
