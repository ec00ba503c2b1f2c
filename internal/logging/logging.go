// Package logging sets up structured logging via zerolog, the way
// cuemby-warren's pkg/log does: a package-level Logger plus scoped child
// loggers per component and per node.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Init must be called once at
// startup before any component derives a child logger from it.
var Logger zerolog.Logger

// Init configures the global logger. pretty switches between a
// human-readable console writer and newline-delimited JSON, matching the
// --pretty CLI flag from spec §6.
func Init(pretty bool) {
	var output = os.Stdout
	if pretty {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the owning component
// name (e.g. "storage", "coordinator", "actor.loan").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNode further scopes a component logger to a site/node id.
func WithNode(l zerolog.Logger, nodeID string) zerolog.Logger {
	return l.With().Str("node_id", nodeID).Logger()
}
