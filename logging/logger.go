// Package logging builds the runner's host-internal structured logger,
// grounded on wudi-gateway's internal/logging package -- module load
// failures, instance traps, init-step failures, and outbound fetch errors
// all go through here, distinct from the guest-visible proxy_log buffer
// captured per hook (SPEC_FULL.md §2.1).
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global   *zap.Logger
	globalMu sync.RWMutex
)

func init() {
	global, _ = zap.NewProduction()
}

// Config selects the logger's level and output stream.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Output string // "stdout" or "stderr"
}

// New builds a JSON zap.Logger from cfg.
func New(cfg Config) *zap.Logger {
	var lvl zapcore.Level
	switch cfg.Level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	out := os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), lvl)
	return zap.New(core, zap.AddCaller())
}

// Global returns the process-wide logger.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// SetGlobal replaces the process-wide logger, e.g. after config.Load.
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// Sync flushes any buffered log entries on the global logger.
func Sync() {
	_ = Global().Sync()
}
