package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewHotPath builds the logger the per-vector parse path uses. slog is fine
// for lifecycle events, but the dispatcher can see millions of vectors per
// file; zap's sugared logger keeps those call sites allocation-light, and
// the level gate passes only warnings and errors unless debugging is on.
func NewHotPath(debug bool) (*zap.SugaredLogger, func()) {
	level := zapcore.WarnLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	logger, err := cfg.Build()
	if err != nil {
		nop := zap.NewNop()
		return nop.Sugar(), func() {}
	}
	return logger.Sugar(), func() { _ = logger.Sync() }
}
