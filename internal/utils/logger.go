package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin key/value facade over zap's sugared logger.
type Logger struct {
	l *zap.SugaredLogger
}

func NewLogger() *Logger { return NewLoggerWithLevel("info") }

func NewLoggerWithLevel(level string) *Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	z, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	return &Logger{l: z.Sugar()}
}

// NewLoggerFromCore wraps an existing core (used in tests with zaptest/observer).
func NewLoggerFromCore(core zapcore.Core) *Logger {
	return &Logger{l: zap.New(core).Sugar()}
}

func (lg *Logger) Debug(msg string, kv ...any) {
	if lg != nil {
		lg.l.Debugw(msg, kv...)
	}
}

func (lg *Logger) Info(msg string, kv ...any) {
	if lg != nil {
		lg.l.Infow(msg, kv...)
	}
}

func (lg *Logger) Warn(msg string, kv ...any) {
	if lg != nil {
		lg.l.Warnw(msg, kv...)
	}
}

func (lg *Logger) Error(msg string, kv ...any) {
	if lg != nil {
		lg.l.Errorw(msg, kv...)
	}
}

// With returns a child logger that always carries kv.
func (lg *Logger) With(kv ...any) *Logger {
	if lg == nil {
		return nil
	}
	return &Logger{l: lg.l.With(kv...)}
}

func (lg *Logger) Zap() *zap.Logger {
	if lg == nil {
		return zap.NewNop()
	}
	return lg.l.Desugar()
}

func (lg *Logger) Sync() error {
	if lg == nil {
		return nil
	}
	return lg.l.Sync()
}
