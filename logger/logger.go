// Package logger implements an interface behind which a third party, levelled
// logger can sit. This abstraction allows the rest of reprovm to log freely
// without depending on zap directly. Of the core packages only executor
// accepts a Logger (cas, graph, record and scheduler take none), and it works
// unchanged if the no-op Nop is passed; the core depends on no globals.
package logger

import "go.uber.org/zap"

// Logger is the interface behind which a levelled logger can sit.
type Logger interface {
	// Sync flushes the logs to stderr.
	Sync() error
	// Debug outputs a debug level log line.
	Debug(format string, args ...any)
	// Info outputs an info level log line, used for per-task status
	// reporting from the executor (task succeeded, skipped, failed).
	Info(format string, args ...any)
}

// ZapLogger is a Logger that uses zap under the hood.
type ZapLogger struct {
	inner *zap.SugaredLogger
}

// NewZapLogger builds and returns a ZapLogger, at Debug level if verbose is
// set and Info level otherwise.
func NewZapLogger(verbose bool) (*ZapLogger, error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.DisableCaller = true
	built, err := cfg.Build(zap.IncreaseLevel(level))
	if err != nil {
		return nil, err
	}
	sugar := built.Sugar()

	return &ZapLogger{inner: sugar}, nil
}

// Sync flushes the logs.
func (z *ZapLogger) Sync() error {
	return z.inner.Sync()
}

// Debug outputs a debug level log line, a newline is automatically added.
func (z *ZapLogger) Debug(format string, args ...any) {
	z.inner.Debugf(format, args...)
}

// Info outputs an info level log line, a newline is automatically added.
func (z *ZapLogger) Info(format string, args ...any) {
	z.inner.Infof(format, args...)
}

// Nop is a Logger that discards everything. Useful in tests and as the
// default for core packages used as a library rather than through the CLI.
type Nop struct{}

// Sync implements Logger for Nop.
func (Nop) Sync() error { return nil }

// Debug implements Logger for Nop.
func (Nop) Debug(string, ...any) {}

// Info implements Logger for Nop.
func (Nop) Info(string, ...any) {}
