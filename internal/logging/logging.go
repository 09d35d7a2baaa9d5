package logging

import (
	"io"
	"log/slog"
	"os"
)

// Level resolves LOG_LEVEL, falling back to def when it is unset or unknown.
func Level(def slog.Level) slog.Level {
	l, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		return def
	}
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return def
}

// Init installs a text logger writing to w as the default and returns it.
// A nil w means stderr.
func Init(w io.Writer, def slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: Level(def),
		}),
	)
	slog.SetDefault(logger)
	return logger
}

// Discard returns a logger that drops everything, for when the terminal is
// owned by the TUI and no log file was given.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenFile appends to path, creating it if needed.
func OpenFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}
