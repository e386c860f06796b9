// Package logging provides the component logger used across Rainbow.
// Every logger writes through a zerolog sink, so printf-style component logs
// and structured zerolog events end up in the same stream (console or JSON,
// plus an optional log file).
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LOG LEVELS
// ═══════════════════════════════════════════════════════════════════════════════

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal // logs then exits
)

// String returns the string representation of a log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ═══════════════════════════════════════════════════════════════════════════════

// Logger is a component-scoped logger. Derived loggers share the sink of
// their parent; only the root logger owns the log file.
type Logger struct {
	zl        zerolog.Logger
	level     Level
	component string
	file      *os.File
}

// Config configures the logger behavior.
type Config struct {
	Level      Level
	FilePath   string // optional JSON log file, appended to
	JSON       bool   // JSON lines on the console instead of the console writer
	Colored    bool
	ShowCaller bool
	ShowTime   bool
	Component  string
	Output     io.Writer // defaults to os.Stderr
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:    LevelInfo,
		Colored:  true,
		ShowTime: true,
	}
}

// VerboseConfig returns a configuration for verbose troubleshooting.
func VerboseConfig() *Config {
	return &Config{
		Level:      LevelDebug,
		Colored:    true,
		ShowCaller: true,
		ShowTime:   true,
	}
}

// New creates a new Logger instance.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var console io.Writer = out
	if !cfg.JSON {
		cw := zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    !cfg.Colored,
			TimeFormat: "2006-01-02 15:04:05.000",
		}
		if !cfg.ShowTime {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		console = cw
	}

	l := &Logger{level: cfg.Level, component: cfg.Component}

	writers := []io.Writer{console}
	if cfg.FilePath != "" {
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file: %v\n", err)
		} else {
			l.file = f
			writers = append(writers, f)
		}
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(cfg.Level.zerolog()).
		With().Timestamp()
	if cfg.ShowCaller {
		ctx = ctx.CallerWithSkipFrameCount(4)
	}
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	l.zl = ctx.Logger()
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), level: LevelFatal + 1}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// GLOBAL LOGGER
// ═══════════════════════════════════════════════════════════════════════════════

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

func init() {
	globalLogger = New(DefaultConfig())
}

// SetGlobal sets the global logger instance.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the global logger instance.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGER METHODS
// ═══════════════════════════════════════════════════════════════════════════════

// Close closes the log file, if this logger owns one.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Level returns the minimum level this logger emits.
func (l *Logger) Level() Level {
	return l.level
}

// Zerolog exposes the underlying structured logger for call sites that want
// typed fields (`log.Zerolog().Warn().Err(err).Str("tool", name).Msg(...)`).
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

// WithComponent returns a new logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		zl:        l.zl.With().Str("component", name).Logger(),
		level:     l.level,
		component: name,
	}
}

// WithField returns a new logger with an additional field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		zl:        l.zl.With().Interface(key, value).Logger(),
		level:     l.level,
		component: l.component,
	}
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{
		zl:        l.zl.With().Fields(fields).Logger(),
		level:     l.level,
		component: l.component,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOG METHODS
// ═══════════════════════════════════════════════════════════════════════════════

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	if len(args) == 0 {
		l.zl.WithLevel(level.zerolog()).Msg(format)
		return
	}
	l.zl.WithLevel(level.zerolog()).Msgf(format, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(format string, args ...any) {
	l.log(LevelFatal, format, args...)
	os.Exit(1)
}

// Trace logs entry into a function and returns the matching exit logger.
func (l *Logger) Trace(funcName string) func() {
	start := time.Now()
	l.Debug("→ ENTER %s", funcName)
	return func() {
		l.Debug("← EXIT  %s (took %v)", funcName, time.Since(start))
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// GLOBAL LOG FUNCTIONS
// ═══════════════════════════════════════════════════════════════════════════════

// Debug logs a debug message using the global logger.
func Debug(format string, args ...any) {
	Global().Debug(format, args...)
}

// Info logs an info message using the global logger.
func Info(format string, args ...any) {
	Global().Info(format, args...)
}

// Warn logs a warning message using the global logger.
func Warn(format string, args ...any) {
	Global().Warn(format, args...)
}

// Error logs an error message using the global logger.
func Error(format string, args ...any) {
	Global().Error(format, args...)
}
