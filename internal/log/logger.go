// Package log provides structured logging for gavial using zap.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with gavial-specific helpers.
type Logger struct {
	*zap.Logger
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// Shorter timestamps in development
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithSession returns a logger tagging every entry with a probe session id.
func (l *Logger) WithSession(id string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("session", id))}
}

// HookError logs a failure raised inside a hook callback. Dispatch catches
// these at the bridge boundary; the guest is never aborted by a hook failure.
func (l *Logger) HookError(phase string, num int, err error) {
	l.Warn("hook failed",
		zap.String("phase", phase),
		Sysno(num),
		zap.Error(err),
	)
}

// HookRegistered logs a hook registration at debug level.
func (l *Logger) HookRegistered(phase string, num int) {
	l.Debug("hook registered",
		zap.String("phase", phase),
		Sysno(num),
	)
}

// CoverageOutput logs the resolved coverage output path.
func (l *Logger) CoverageOutput(path string) {
	l.Info("coverage output", zap.String("path", path))
}

// CoverageSummary logs the final block count and destination at shutdown.
func (l *Logger) CoverageSummary(blocks int, path string) {
	l.Info("coverage written",
		zap.Int("blocks", blocks),
		zap.String("path", path),
	)
}

// Sysno creates a syscall number field.
func Sysno(num int) zap.Field {
	return zap.Int("syscall", num)
}
