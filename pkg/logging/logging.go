// Package logging initializes the process-wide zerolog logger used by every
// other package in this module via the component-scoped loggers it returns.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. levelName is one of
// "debug"/"info"/"warn"/"error" (case-insensitive; invalid or empty falls
// back to "info"). When pretty is true, output goes through
// zerolog.ConsoleWriter instead of raw JSON. Useful for local runs, never
// for production deployments.
func Init(levelName string, pretty bool) {
	var out = os.Stderr
	var writer zerolog.LevelWriter = zerolog.MultiLevelWriter(out)
	if pretty {
		writer = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	}

	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(parseLevel(levelName))
}

func parseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info", "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child logger tagged with the given component name as
// a structured field.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
