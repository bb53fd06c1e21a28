package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

func New() *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		level,
	)

	return &Logger{
		sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar(),
		level: level,
	}
}

// NewFromZap wraps an existing zap logger, mainly for tests.
func NewFromZap(z *zap.Logger) *Logger {
	return &Logger{
		sugar: z.WithOptions(zap.AddCallerSkip(2)).Sugar(),
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

func (l *Logger) Fatal(format string, v ...interface{}) {
	l.sugar.Fatalf(format, v...)
}

// SetLevel accepts zap level names ("debug", "info", "warn", "error").
func (l *Logger) SetLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Global logger instance
var (
	GlobalLogger = New()
	globalMu     sync.RWMutex
)

// Replace swaps the global logger and returns a func restoring the previous one.
func Replace(l *Logger) func() {
	globalMu.Lock()
	prev := GlobalLogger
	GlobalLogger = l
	globalMu.Unlock()
	return func() {
		globalMu.Lock()
		GlobalLogger = prev
		globalMu.Unlock()
	}
}

func global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return GlobalLogger
}

// Convenience functions
func Info(format string, v ...interface{}) {
	global().Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	global().Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	global().Error(format, v...)
}

func Debug(format string, v ...interface{}) {
	global().Debug(format, v...)
}

func Fatal(format string, v ...interface{}) {
	global().Fatal(format, v...)
}

func SetLevel(name string) error {
	return global().SetLevel(name)
}

func Sync() error {
	return global().Sync()
}
