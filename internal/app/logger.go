package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger: JSON in production or when LOG_FORMAT=json, text
// otherwise. Every record carries the environment.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: slog.LevelInfo}
	env := "development"
	format := ""
	if cfg != nil {
		env = cfg.AppEnv
		format = strings.ToLower(cfg.LogFormat)
		if strings.EqualFold(cfg.LogLevel, "debug") {
			opts.Level = slog.LevelDebug
		} else if strings.EqualFold(cfg.LogLevel, "warn") {
			opts.Level = slog.LevelWarn
		}
	}
	var handler slog.Handler
	if format == "json" || (format == "" && cfg.IsProduction()) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("env", env))
}
