// Package logging provides config-driven categorized logging for the
// analysis engine. Every component logs through a named Category; the
// actual writer is a single zap.Logger configured once at Initialize.
package logging

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one of the engine's logging subsystems.
type Category string

const (
	CategoryEngine      Category = "engine"
	CategoryStore       Category = "store"
	CategoryModel       Category = "model"
	CategoryRules       Category = "rules"
	CategoryTaint       Category = "taint"
	CategoryConnascence Category = "connascence"
	CategoryCache       Category = "cache"
	CategoryProtocol    Category = "protocol"
)

// Config controls logging verbosity and format. Mirrors the fields the
// engine's Config embeds (internal/config.LoggingConfig).
type Config struct {
	DebugMode  bool
	JSONFormat bool
	Categories map[string]bool // per-category enable/disable; nil = all enabled
}

var (
	base     *zap.Logger
	baseOnce sync.Once
	cfg      atomic.Pointer[Config]
	loggers  sync.Map // Category -> *zap.SugaredLogger
)

// Initialize configures the package-level zap.Logger. Safe to call once
// at process startup; subsequent calls replace the configuration (used by
// tests that need a development/debug logger).
func Initialize(c Config) error {
	cfg.Store(&c)

	var zc zap.Config
	if c.DebugMode {
		zc = zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zc = zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	if c.JSONFormat {
		zc.Encoding = "json"
	} else {
		zc.Encoding = "console"
	}

	l, err := zc.Build()
	if err != nil {
		return err
	}
	base = l
	loggers.Range(func(key, _ interface{}) bool {
		loggers.Delete(key)
		return true
	})
	return nil
}

func isCategoryEnabled(category Category) bool {
	c := cfg.Load()
	if c == nil {
		return true // no Initialize call yet: default to enabled at the base level
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or lazily creates) a sugared logger scoped to category.
// A category disabled in Config.Categories gets a no-op logger.
// Safe to call before Initialize: falls back to a production zap.Logger so
// the engine, used as a library, never panics for lack of setup.
func Get(category Category) *zap.SugaredLogger {
	if !isCategoryEnabled(category) {
		return zap.NewNop().Sugar()
	}
	if l, ok := loggers.Load(category); ok {
		return l.(*zap.SugaredLogger)
	}

	baseOnce.Do(func() {
		if base == nil {
			base, _ = zap.NewProduction()
		}
	})

	sugared := base.With(zap.String("category", string(category))).Sugar()
	actual, _ := loggers.LoadOrStore(category, sugared)
	return actual.(*zap.SugaredLogger)
}

// IsDebugMode reports whether the package was Initialize'd with DebugMode.
func IsDebugMode() bool {
	c := cfg.Load()
	return c != nil && c.DebugMode
}

// IsCategoryEnabled lets callers skip building an expensive log line
// entirely (e.g. per-match rule tracing) when the category is silenced.
func IsCategoryEnabled(category Category) bool {
	return isCategoryEnabled(category)
}

// Sync flushes any buffered log entries; call at process shutdown.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}
