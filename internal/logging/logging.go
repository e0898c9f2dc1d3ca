// Package logging configures the process-wide zerolog logger.
//
// All output goes to stderr: the MCP stdio transport owns stdout, and
// anything printed there would corrupt the protocol stream.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a logger writing to w at the given level. Unknown level
// strings fall back to info.
func New(w io.Writer, level string) zerolog.Logger {
	lvl := parseLevel(level)
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// NewStderr builds the default service logger.
func NewStderr(level string) zerolog.Logger {
	return New(os.Stderr, level)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
