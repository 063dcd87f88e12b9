package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggerOptions describes how the process logger is built.
type LoggerOptions struct {
	Level  string
	Format string
	Writer io.Writer
}

// NewLogger builds a zerolog logger writing JSON lines or console output.
func NewLogger(opts LoggerOptions) (zerolog.Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var out io.Writer
	switch strings.ToLower(opts.Format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	case "json":
		out = writer
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (expected: console|json)", opts.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
