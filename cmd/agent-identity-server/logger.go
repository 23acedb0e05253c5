package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	LOG_LEVEL_ERROR   = "ERROR"
	LOG_LEVEL_WARNING = "WARNING"
	LOG_LEVEL_INFO    = "INFO"
	LOG_LEVEL_DEBUG   = "DEBUG"

	LOG_FORMAT_TEXT = "text"
	LOG_FORMAT_JSON = "json"

	serviceName = "agent-identity"
)

type LogConfig struct {
	Level  string
	Format string
}

// parseLogLevel falls back to info for unknown names. WARN is accepted
// alongside WARNING.
func parseLogLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case LOG_LEVEL_ERROR:
		return slog.LevelError
	case LOG_LEVEL_WARNING, "WARN":
		return slog.LevelWarn
	case LOG_LEVEL_DEBUG:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, cfg LogConfig, version string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, LOG_FORMAT_JSON) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", serviceName, "version", version)
}

func initLogger(cfg LogConfig) {
	slog.SetDefault(newLogger(os.Stdout, cfg, AppVersion))
}
