package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Components derive child loggers
// from it instead of logging through package helpers.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Setup configures the root logger. level is a zerolog level name
// ("debug", "info", "warn", "error"); unrecognized names fall back to
// info. JSON output is the raw zerolog stream; otherwise the console
// format is used.
func Setup(level string, json bool, out io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if out == nil {
		out = os.Stdout
	}
	if !json {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent derives a child logger tagged with the component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorkflowID derives a child logger tagged with the workflow.
func WithWorkflowID(workflowID string) zerolog.Logger {
	return Logger.With().Str("workflow_id", workflowID).Logger()
}

// WithImage derives a child logger tagged with the image reference.
func WithImage(image string) zerolog.Logger {
	return Logger.With().Str("image", image).Logger()
}
