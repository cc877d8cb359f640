// Package logging provides a structured logging system based on zap.
// It supports configurable log levels, output formats (JSON/text) and an
// optional rotating log file.
package logging

import (
	"log"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger *zap.Logger

// Config holds logging configuration.
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json, text
	File    string // optional path of a rotated log file, written in addition to stderr
	NoColor bool
}

func init() {
	// Usable before Init is called.
	logger, _ = zap.NewDevelopment()
}

// Init initializes the logging system with the given configuration.
// It should be called early in the application startup.
func Init(cfg *Config) error {
	level := parseLevel(cfg.Level)
	color := !cfg.NoColor && isatty.IsTerminal(os.Stderr.Fd())

	cores := []zapcore.Core{
		zapcore.NewCore(createEncoder(cfg.Format, color), zapcore.Lock(os.Stderr), level),
	}
	if cfg.File != "" {
		cores = append(cores, zapcore.NewCore(
			createEncoder(cfg.Format, false),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    100, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}),
			level,
		))
	}

	logger = zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(1), // Skip the wrapper functions
	)

	// go-fuse reports protocol problems through the standard library logger.
	redirectStdLog()

	return nil
}

// With returns a child logger carrying fields on every entry.
func With(fields ...zap.Field) *zap.Logger {
	return logger.WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

// stdLog forwards lines written through the standard library logger.
type stdLog struct{}

func (stdLog) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		logger.Warn(line, zap.String("source", "stdlib"))
	}
	return len(p), nil
}

func redirectStdLog() {
	log.SetFlags(0)
	log.SetOutput(stdLog{})
}

// parseLevel maps a level name to zapcore.Level, falling back to info.
func parseLevel(level string) zapcore.Level {
	level = strings.ToLower(level)
	if level == "warning" {
		level = "warn"
	}
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// createEncoder returns a JSON encoder for "json" and a console encoder
// otherwise.
func createEncoder(format string, color bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(format, "json") {
		ec.TimeKey = "timestamp"
		ec.MessageKey = "message"
		return zapcore.NewJSONEncoder(ec)
	}

	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	ec.EncodeDuration = zapcore.StringDurationEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(ec)
}

// Sync flushes any buffered log entries.
// Should be called before the application exits.
func Sync() error {
	return logger.Sync()
}

// Debug logs a message at DebugLevel with structured fields.
func Debug(msg string, fields ...zap.Field) {
	logger.Debug(msg, fields...)
}

// Info logs a message at InfoLevel with structured fields.
func Info(msg string, fields ...zap.Field) {
	logger.Info(msg, fields...)
}

// Warn logs a message at WarnLevel with structured fields.
func Warn(msg string, fields ...zap.Field) {
	logger.Warn(msg, fields...)
}

// Error logs a message at ErrorLevel with structured fields.
func Error(msg string, fields ...zap.Field) {
	logger.Error(msg, fields...)
}

// String creates a string field.
func String(key, value string) zap.Field {
	return zap.String(key, value)
}

// Int64 creates an int64 field.
func Int64(key string, value int64) zap.Field {
	return zap.Int64(key, value)
}

// Bool creates a bool field.
func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

// Err creates an error field with key "error".
func Err(err error) zap.Field {
	return zap.Error(err)
}

