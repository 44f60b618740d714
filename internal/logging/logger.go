// Package logging holds the process-wide structured logger. Grounded on
// BullionBear-sequex's pkg/logger/logger.go (a package-level zerolog.Logger,
// disabled until Init is called, console-writer in development), adopted
// here in place of the teacher's bare log.Printf call sites so every
// package can attach exchange/symbol/component fields that survive
// aggregation.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. It starts disabled so packages that log
// during init (or in tests that never call Init) do not panic or spam
// stdout; call Init once from main to activate it.
var Log zerolog.Logger = zerolog.New(nil).Level(zerolog.Disabled)

// Init configures the global logger. human selects a console writer
// (development) versus plain JSON lines (production/container logs).
func Init(level zerolog.Level, human bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	zerolog.SetGlobalLevel(level)

	var writer = os.Stderr
	if human {
		Log = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05.000"}).
			With().Timestamp().Logger()
		return
	}
	Log = zerolog.New(writer).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name, e.g.
// logging.Component("merger") for every merger-task log line.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}
