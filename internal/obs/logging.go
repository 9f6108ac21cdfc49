// Package obs carries the ambient observability stack shared by all three
// subsystems: structured logging, Prometheus metrics, and a liveness
// endpoint. Logging follows the teacher's own structured-call convention
// (key/value pairs passed to Debug/Info/Warn/Error), made consistent here by
// typing every logger field as *slog.Logger rather than the teacher's
// occasional *log.Logger field typo.
package obs

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide structured logger. level is one of
// debug|info|warn|error, in all-lower or all-upper case ("warning" is also
// accepted for warn); anything else defaults to info.
func NewLogger(level, subsystem string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug", "DEBUG":
		lvl = slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		lvl = slog.LevelWarn
	case "error", "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With("subsystem", subsystem)
}
