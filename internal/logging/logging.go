// Package logging builds the process-wide logger.
//
// The logger mirrors the two-sink setup of the proving driver: a
// colored console sink on stderr whose level follows the --verbose
// flag, and a rotating plain-text file sink that always records at
// info level. It is constructed once at startup and passed explicitly
// into every component; nothing mutates global state.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger sinks.
type Options struct {
	// Verbose lowers the console level to debug.
	Verbose bool

	// File is the rotating log file path; "" disables the file sink.
	File string

	// MaxAgeDays bounds how long rotated files are kept.
	MaxAgeDays int
}

// New builds the logger. The returned flush function syncs both sinks
// and is meant to be deferred at process exit.
func New(opts Options) (*zap.Logger, func()) {
	consoleLevel := zapcore.InfoLevel
	if opts.Verbose {
		consoleLevel = zapcore.DebugLevel
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stderr),
			consoleLevel,
		),
	}

	if opts.File != "" {
		fileCfg := zap.NewDevelopmentEncoderConfig()
		fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename: opts.File,
			MaxAge:   opts.MaxAgeDays,
			Compress: false,
		})
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(fileCfg),
			fileSink,
			zapcore.InfoLevel,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	flush := func() { _ = logger.Sync() }
	return logger, flush
}
