package logger

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu          sync.RWMutex
	globalSugar *zap.SugaredLogger
	globalBase  *zap.Logger
)

// Options controls how the global logger is built.
type Options struct {
	// Env is "production" or "development" (default).
	Env string
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// File, when set, tees output into a rotating log file.
	File string
}

// OptionsFromEnv reads LOG_ENV, LOG_LEVEL and LOG_FILE.
func OptionsFromEnv() Options {
	return Options{
		Env:   os.Getenv("LOG_ENV"),
		Level: os.Getenv("LOG_LEVEL"),
		File:  os.Getenv("LOG_FILE"),
	}
}

// Init initializes the global zap logger. Calling it again after a successful
// init is a no-op. The stdlib log output is redirected to zap.
func Init(opts Options) (*zap.SugaredLogger, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalSugar != nil && globalBase != nil {
		return globalSugar, nil
	}

	base, err := build(opts)
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(base)
	_ = zap.RedirectStdLog(base)

	globalBase = base
	globalSugar = base.Sugar()
	return globalSugar, nil
}

func build(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(opts.Env, "prod") || strings.EqualFold(opts.Env, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if opts.File == "" {
		return base, nil
	}

	fileWriter := &lumberjack.Logger{
		Filename:   opts.File,
		LocalTime:  true,
		Compress:   true,
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 3,
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(fileWriter),
		cfg.Level,
	)
	return base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})), nil
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetBase replaces the global logger. Intended for tests that observe logs.
func SetBase(base *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalBase = base
	globalSugar = base.Sugar()
}

// L returns the global sugared logger, initializing it on first use.
func L() *zap.SugaredLogger {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return globalSugar
}

// Base returns the base *zap.Logger (non-sugared).
func Base() *zap.Logger {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return globalBase
}

func ensure() {
	mu.RLock()
	ready := globalBase != nil
	mu.RUnlock()
	if ready {
		return
	}
	if _, err := Init(OptionsFromEnv()); err != nil {
		base, _ := zap.NewDevelopment()
		SetBase(base)
	}
}

// Debug logs with context and fields.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Base().Debug(msg, fields...)
}

// Info logs with context and fields.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Base().Info(msg, fields...)
}

// Warn logs with context and fields.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Base().Warn(msg, fields...)
}

// Error logs with context and fields.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Base().Error(msg, fields...)
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if globalBase != nil {
		_ = globalBase.Sync()
	}
}
