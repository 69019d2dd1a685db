package app

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	// LogLevelDebug reports segment and source bookkeeping.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo reports opened, saved and scripted files.
	LogLevelInfo
	// LogLevelWarn reports external changes and refused closes.
	LogLevelWarn
	// LogLevelError reports failed commands.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a level name as accepted by logging.level.
// An empty name selects info.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// timeFormat is the timestamp layout of every log line.
const timeFormat = "2006-01-02T15:04:05.000"

// sink is the destination shared by a logger and everything derived from it.
type sink struct {
	mu       sync.Mutex
	level    LogLevel
	output   io.Writer
	now      func() time.Time
	disabled bool
}

// field is one key/value pair attached to a logger.
type field struct {
	key   string
	value any
}

// Logger writes leveled lines of the form
//
//	2025-01-02T15:04:05.000 [INFO] bined: opened a.bin (42 bytes) {component=engine}
//
// Loggers derived with WithField share their parent's output and lock, so
// lines from the engine and the application never interleave.
type Logger struct {
	sink   *sink
	prefix string
	fields []field // sorted by key
	suffix string  // rendered fields
}

// LoggerConfig configures the logger.
type LoggerConfig struct {
	// Level is the minimum log level to output.
	Level LogLevel
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Prefix is written before every message.
	Prefix string
	// Now returns the timestamp of a line. Defaults to time.Now.
	Now func() time.Time
}

// DefaultLoggerConfig returns the default logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  LogLevelInfo,
		Output: os.Stderr,
		Prefix: "bined",
	}
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggerConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Logger{
		sink:   &sink{level: cfg.Level, output: cfg.Output, now: cfg.Now},
		prefix: cfg.Prefix,
	}
}

// WithField returns a logger that adds key=value to every line.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.with([]field{{key, value}})
}

// WithFields returns a logger that adds every pair of fields to each line.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	add := make([]field, 0, len(fields))
	for k, v := range fields {
		add = append(add, field{k, v})
	}
	return l.with(add)
}

// WithComponent returns a logger tagged with the emitting component.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

func (l *Logger) with(add []field) *Logger {
	merged := slices.Clone(l.fields)
	for _, f := range add {
		i, found := slices.BinarySearchFunc(merged, f.key, func(e field, k string) int {
			return strings.Compare(e.key, k)
		})
		if found {
			merged[i] = f
		} else {
			merged = slices.Insert(merged, i, f)
		}
	}
	return &Logger{sink: l.sink, prefix: l.prefix, fields: merged, suffix: renderFields(merged)}
}

// renderFields formats fields as " {k=v, k=v}". Values with spaces are
// quoted so file paths stay readable.
func renderFields(fields []field) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		v := fmt.Sprint(f.value)
		if strings.ContainsAny(v, " =,{}") {
			v = fmt.Sprintf("%q", v)
		}
		parts[i] = f.key + "=" + v
	}
	return " {" + strings.Join(parts, ", ") + "}"
}

// Enabled returns true if messages at level are written.
func (l *Logger) Enabled(level LogLevel) bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return !l.sink.disabled && level >= l.sink.level
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LogLevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LogLevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LogLevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LogLevelError, msg, args...)
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled || level < s.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var b strings.Builder
	b.WriteString(s.now().Format(timeFormat))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.prefix != "" {
		b.WriteString(l.prefix)
		b.WriteString(": ")
	}
	b.WriteString(msg)
	b.WriteString(l.suffix)
	b.WriteByte('\n')

	_, _ = io.WriteString(s.output, b.String())
}

// NullLogger is a logger that discards all output.
var NullLogger = &Logger{sink: &sink{disabled: true, output: io.Discard, now: time.Now}}
