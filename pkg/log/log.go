package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

func init() {
	defaultLogger = New(os.Stdout, LogLevelInfo)
}

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

func (level LogLevel) String() string {
	switch level {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	case LogLevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

func (level LogLevel) zerologLevel() zerolog.Level {
	switch level {
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// ParseLogLevel parses a log level string into a LogLevel.
// Valid log levels are: error, warn, info, debug, trace.
func ParseLogLevel(level string) (LogLevel, error) {
	switch level {
	case "error":
		return LogLevelError, nil
	case "warn":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	case "trace":
		return LogLevelTrace, nil
	default:
		return LogLevelError, fmt.Errorf("unknown log level: %s", level)
	}
}

// Logger is a leveled, printf-style logger writing zerolog events.
type Logger struct {
	zl    zerolog.Logger
	level LogLevel
}

// New creates a logger that writes JSON lines to out.
func New(out io.Writer, level LogLevel) *Logger {
	return &Logger{
		zl:    zerolog.New(out).Level(level.zerologLevel()).With().Timestamp().Logger(),
		level: level,
	}
}

// NewConsole creates a logger with human readable output, for interactive use.
func NewConsole(out io.Writer, level LogLevel) *Logger {
	w := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	return &Logger{
		zl:    zerolog.New(w).Level(level.zerologLevel()).With().Timestamp().Logger(),
		level: level,
	}
}

// With returns a child logger that stamps every entry with the given field.
func (l *Logger) With(key string, value string) *Logger {
	return &Logger{
		zl:    l.zl.With().Str(key, value).Logger(),
		level: l.level,
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.zl = l.zl.Level(level.zerologLevel())
}

func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) logf(event *zerolog.Event, format string, args ...interface{}) {
	if event == nil {
		return
	}
	event.Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(l.zl.Error(), format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(l.zl.Warn(), format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(l.zl.Info(), format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(l.zl.Debug(), format, args...)
}

func (l *Logger) Trace(format string, args ...interface{}) {
	l.logf(l.zl.Trace(), format, args...)
}

// SetDefaultLogger replaces the logger used by the package level functions.
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// Default returns the logger used by the package level functions.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func SetLevel(level LogLevel) {
	Default().SetLevel(level)
	Default().Info("Log level set to %s", level)
}

func Info(format string, args ...interface{}) {
	Default().Info(format, args...)
}

func Error(format string, args ...interface{}) {
	Default().Error(format, args...)
}

func Warn(format string, args ...interface{}) {
	Default().Warn(format, args...)
}

func Debug(format string, args ...interface{}) {
	Default().Debug(format, args...)
}

func Trace(format string, args ...interface{}) {
	Default().Trace(format, args...)
}
