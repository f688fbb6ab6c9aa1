// Package logging builds the diagnostics logger shared by the catalog
// client, fetchers and orchestrators. User-facing progress goes through
// internal/output instead.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LevelEnv overrides the level chosen from the command-line flags.
const LevelEnv = "HLSSCALE_LOG_LEVEL"

type Options struct {
	Quiet   bool
	Verbose bool
	// JSON writes one JSON object per line instead of console text.
	JSON bool
	// Level is the raw HLSSCALE_LOG_LEVEL value, if any.
	Level string
}

// New returns a logger writing to w. Quiet disables diagnostics entirely;
// Verbose lowers the level to debug. An explicit level wins over both.
func New(w io.Writer, opts Options) (zerolog.Logger, error) {
	level := zerolog.WarnLevel
	switch {
	case opts.Quiet:
		level = zerolog.Disabled
	case opts.Verbose:
		level = zerolog.DebugLevel
	}
	if raw := strings.TrimSpace(opts.Level); raw != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(raw))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid %s value %q", LevelEnv, raw)
		}
		level = parsed
	}

	out := w
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", "hlsscale").Logger(), nil
}
