package logging

import (
	"io"
	"log/slog"
	"os"
)

const serviceName = "campsuite"

// New creates the process-wide JSON logger at the provided level, tagged with
// the service name so aggregated logs from sibling campground services stay
// distinguishable. An invalid level string falls back to info. Debug level
// additionally records source locations.
func New(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl.Level() <= slog.LevelDebug,
	})
	return slog.New(handler).With("service", serviceName)
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}
