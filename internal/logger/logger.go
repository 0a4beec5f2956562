// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs a logger tagged with app as the global zerolog logger.
// Console output is used when pretty is set, JSON lines otherwise.
func Init(app, level string, pretty bool) zerolog.Logger {
	return InitWriter(os.Stdout, app, level, pretty)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, app, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(out).Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
