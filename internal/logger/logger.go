// Package logger provides the shared structured logger for the manager.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.SugaredLogger = zap.NewNop().Sugar()

// Initialize sets up the global logger. In debug mode it emits
// human-readable console output at debug level; otherwise JSON at info
// level. Logs go to stderr so stdout stays clean for command output.
func Initialize(debug bool) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a bare production logger rather than running silent.
		built = zap.Must(zap.NewProduction())
	}
	log = built.Sugar()
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = log.Sync()
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) {
	log.Debugf(format, args...)
}

// Info logs a message at info level.
func Info(args ...any) {
	log.Info(args...)
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) {
	log.Infof(format, args...)
}

// Warn logs a message at warn level.
func Warn(args ...any) {
	log.Warn(args...)
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) {
	log.Warnf(format, args...)
}

// Error logs a message at error level.
func Error(args ...any) {
	log.Error(args...)
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) {
	log.Errorf(format, args...)
}

// Fatalf logs a formatted message at fatal level and exits.
func Fatalf(format string, args ...any) {
	log.Fatalf(format, args...)
}
