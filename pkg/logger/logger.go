// Package logger configures the process-wide slog logger.
package logger

import (
	"log/slog"
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	def *slog.Logger
	zl  *zap.Logger
)

// Init builds the handler for cfg, installs it as slog's default and returns it.
func Init(cfg Config) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "app"
	}
	cfg.InstanceID = ensureInstanceID(cfg.InstanceID)

	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var (
		h slog.Handler
		z *zap.Logger
	)
	switch cfg.Backend {
	case BackendZap:
		h, z = newZapHandler(cfg, out)
	default:
		h = newStdHandler(cfg, out)
	}

	base := slog.New(h.WithAttrs(commonAttr(cfg)))
	slog.SetDefault(base)

	mu.Lock()
	def, zl = base, z
	mu.Unlock()
	return base
}

func L() *slog.Logger {
	mu.RLock()
	l := def
	mu.RUnlock()
	if l != nil {
		return l
	}
	return Init(Config{})
}

// Sync flushes buffered zap output. No-op for the std backend.
func Sync() error {
	mu.RLock()
	z := zl
	mu.RUnlock()
	if z == nil {
		return nil
	}
	return z.Sync()
}
