// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package telemetry

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultLevel is used when no level, or an unknown one, is configured.
const DefaultLevel = zerolog.InfoLevel

// NewLogger creates the plugin logger. Output goes to w, or stderr when w is
// nil: stdout is reserved for the plugin SDK.
func NewLogger(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("plugin", "cloudstack").
		Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown or empty names
// yield DefaultLevel.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return DefaultLevel
	}
}
