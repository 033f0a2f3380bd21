// Package logging builds the zap loggers used across the runtime.
package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orizon-lang/bitactor/internal/config"
)

// ParseLevel maps a configuration level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return lvl, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

// New builds a logger from cfg: JSON production encoding, or the development
// console encoder when Format is "console". The returned AtomicLevel can be
// changed at runtime (config hot reload).
func New(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	log, err := zc.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("build logger: %w", err)
	}
	return log, zc.Level, nil
}

// SampleWindow is the period over which Sampled counts repeated messages.
const SampleWindow = time.Minute

// Sampled returns a logger that writes the first occurrence of a message in
// each SampleWindow and then one in every n. Counting happens per message,
// so callers keep their own per-event counters. n <= 1 returns log as is.
func Sampled(log *zap.Logger, n int) *zap.Logger {
	if n <= 1 {
		return log
	}
	return log.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, SampleWindow, 1, n)
	}))
}
