// Package logging provides structured logging for the multisig bridge daemon.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Level represents a log level.
type Level = log.Level

// Log levels.
const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
	FatalLevel = log.FatalLevel
)

// Logger wraps one or more charmbracelet/log sinks behind a single handle.
// A plain Logger (via New) wraps exactly one sink; NewDualSink wraps two
// (stdout + rotating file) so every call site logs to both without knowing it.
type Logger struct {
	sinks      []*log.Logger
	timeFormat string
}

// Config holds logger configuration.
type Config struct {
	Level      string
	TimeFormat string
	Prefix     string
	Output     io.Writer
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
		Prefix:     "",
		Output:     os.Stderr,
	}
}

// New creates a new logger with the given configuration.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	logger := log.NewWithOptions(output, log.Options{
		ReportCaller:    false,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Prefix:          cfg.Prefix,
	})

	logger.SetLevel(ParseLevel(cfg.Level))

	return &Logger{sinks: []*log.Logger{logger}, timeFormat: cfg.TimeFormat}
}

// Default returns the default logger.
func Default() *Logger {
	return New(DefaultConfig())
}

// Underlying returns the first sink, for call sites that need the raw
// *log.Logger (e.g. to pass into a third-party library's logging hook).
func (l *Logger) Underlying() *log.Logger {
	return l.sinks[0]
}

// NewDualSink builds a logger that writes to stdout at level and
// DEBUG-and-above to a daily-rolling file under logDir, mirroring the two
// independent subscriber layers (a plain stdout layer and a rotating file
// layer) the daemon this was ported from wires up at startup.
func NewDualSink(logDir, filePrefix, level string) (*Logger, error) {
	rotating, err := NewRotatingWriter(logDir, filePrefix)
	if err != nil {
		return nil, err
	}

	fileSink := log.NewWithOptions(rotating, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	fileSink.SetLevel(DebugLevel)

	stdoutSink := log.NewWithOptions(os.Stdout, log.Options{
		ReportCaller:    false,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	stdoutSink.SetLevel(ParseLevel(level))

	return &Logger{sinks: []*log.Logger{stdoutSink, fileSink}, timeFormat: time.TimeOnly}, nil
}

// ParseLevel parses a string level into a log.Level.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// With returns a new logger with the given key-value pairs attached to every sink.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	next := make([]*log.Logger, len(l.sinks))
	for i, s := range l.sinks {
		next[i] = s.With(keyvals...)
	}
	return &Logger{sinks: next, timeFormat: l.timeFormat}
}

// WithPrefix returns a new logger with the given prefix on every sink.
func (l *Logger) WithPrefix(prefix string) *Logger {
	next := make([]*log.Logger, len(l.sinks))
	for i, s := range l.sinks {
		next[i] = s.WithPrefix(prefix)
	}
	return &Logger{sinks: next, timeFormat: l.timeFormat}
}

// Component returns a logger for a specific component.
func (l *Logger) Component(name string) *Logger {
	return l.WithPrefix(name)
}

func (l *Logger) Debug(msg interface{}, keyvals ...interface{}) {
	for _, s := range l.sinks {
		s.Debug(msg, keyvals...)
	}
}

func (l *Logger) Info(msg interface{}, keyvals ...interface{}) {
	for _, s := range l.sinks {
		s.Info(msg, keyvals...)
	}
}

func (l *Logger) Warn(msg interface{}, keyvals ...interface{}) {
	for _, s := range l.sinks {
		s.Warn(msg, keyvals...)
	}
}

func (l *Logger) Error(msg interface{}, keyvals ...interface{}) {
	for _, s := range l.sinks {
		s.Error(msg, keyvals...)
	}
}

// Fatal logs to every sink then exits the process, matching log.Logger.Fatal.
func (l *Logger) Fatal(msg interface{}, keyvals ...interface{}) {
	for _, s := range l.sinks {
		s.Error(msg, keyvals...)
	}
	os.Exit(1)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	for _, s := range l.sinks {
		s.Debugf(format, args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	for _, s := range l.sinks {
		s.Infof(format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	for _, s := range l.sinks {
		s.Warnf(format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	for _, s := range l.sinks {
		s.Errorf(format, args...)
	}
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	for _, s := range l.sinks {
		s.Errorf(format, args...)
	}
	os.Exit(1)
}

// Global default logger instance.
var defaultLogger = Default()

// SetDefault sets the default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// GetDefault returns the default logger.
func GetDefault() *Logger {
	return defaultLogger
}

// Package-level logging functions using the default logger.

func Debug(msg interface{}, keyvals ...interface{}) { defaultLogger.Debug(msg, keyvals...) }
func Info(msg interface{}, keyvals ...interface{})  { defaultLogger.Info(msg, keyvals...) }
func Warn(msg interface{}, keyvals ...interface{})  { defaultLogger.Warn(msg, keyvals...) }
func Error(msg interface{}, keyvals ...interface{}) { defaultLogger.Error(msg, keyvals...) }
func Fatal(msg interface{}, keyvals ...interface{}) { defaultLogger.Fatal(msg, keyvals...) }

func Debugf(format string, args ...interface{}) { defaultLogger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { defaultLogger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { defaultLogger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { defaultLogger.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { defaultLogger.Fatalf(format, args...) }
