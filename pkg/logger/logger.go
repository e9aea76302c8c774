// Package logger provides the process-wide zerolog logger. Output is JSON
// by default; when MODE is not "production" a console writer is used
// instead so that local runs stay readable.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance.
var Log zerolog.Logger

func init() {
	Log = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()

	if os.Getenv("MODE") != "production" {
		Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// Component returns a child logger tagged with the named component, e.g.
// "consumer" or "requeuer".
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}
