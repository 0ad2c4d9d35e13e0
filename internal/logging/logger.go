// Package logging builds the zerolog.Logger every stage shares.
//
// Grounded on the teacher's internal/shared/monitoring/logger.go:
// level/format driven off config strings, JSON by default, console for
// local development.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger at the given level ("debug", "info",
// "warn", "error") and format ("json", "console").
func New(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
