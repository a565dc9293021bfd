package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New constructs the service logger. Development gets a console writer and
// debug level; everything else logs JSON at info.
func New(appEnv string) zerolog.Logger {
	return NewWithWriter(appEnv, os.Stdout)
}

func NewWithWriter(appEnv string, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "notesworker").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}

	return logger
}
