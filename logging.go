package crmclient

import (
	"os"

	"github.com/rs/zerolog"
)

// newDebugLogger builds a timestamped stdout logger for verbose request
// tracing.
func newDebugLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
