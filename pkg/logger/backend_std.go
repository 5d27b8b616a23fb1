package logger

import (
	"io"
	"log/slog"
)

func newStdHandler(cfg Config, out io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     cfg.level(),
		AddSource: cfg.AddSource,
	}
	if cfg.Env == EnvDev {
		return traceHandler{slog.NewTextHandler(out, opts)}
	}
	return traceHandler{slog.NewJSONHandler(out, opts)}
}
