// Package logging provides structured logging for NthLayer.
//
// The logger favors explicit, boring Go over clever abstractions. Components
// obtain a named logger via GetLogger and emit leveled, printf-style messages;
// structured key-value fields are available for output that needs to be
// searchable.
//
// Initialize the logger once at startup:
//
//	logging.Initialize("info")
//
// Then, in each component:
//
//	logger := logging.GetLogger("discovery")
//	logger.Info("provider %s returned %d edges", name, len(edges))
//
// Persistent fields produce child loggers and are safe to share:
//
//	svcLogger := logger.WithField("service", spec.Name)
//
// DEBUG/INFO/WARN go to stdout, ERROR/FATAL to stderr. Fatal terminates the
// process with exit code 1.
package logging

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
	// FATAL level for fatal messages
	FATAL
)

// LogField represents a structured logging field.
type LogField struct {
	Key   string
	Value interface{}
}

// Field creates a structured logging field.
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// Logger emits leveled log messages for a named component.
// Logger instances are immutable; WithField returns a copy.
type Logger struct {
	level  Level
	name   string
	fields map[string]interface{}
}

var (
	globalLevel   = INFO
	packageLevels = map[string]Level{}
	initOnce      sync.Once
	levelMu       sync.RWMutex
	// exitFunc is called by Fatal. Overridable for tests.
	exitFunc = os.Exit
)

// Initialize sets the global default log level and optional per-package
// overrides keyed by logger name ("discovery", "config.watcher"). A prefix
// match applies the override to child loggers too. Unknown level strings
// fall back to INFO.
func Initialize(levelStr string, packages ...map[string]string) {
	levelMu.Lock()
	defer levelMu.Unlock()
	globalLevel = ParseLevel(levelStr)
	packageLevels = map[string]Level{}
	for _, m := range packages {
		for name, level := range m {
			packageLevels[name] = ParseLevel(level)
		}
	}
}

// levelFor resolves the effective level for a logger name by the longest
// matching package prefix. Caller holds levelMu.
func levelFor(name string) Level {
	level := globalLevel
	bestLen := -1
	for pkg, pkgLevel := range packageLevels {
		if pkg == name || strings.HasPrefix(name, pkg+".") {
			if len(pkg) > bestLen {
				bestLen = len(pkg)
				level = pkgLevel
			}
		}
	}
	return level
}

// ParseLevel converts a level name into a Level. Unknown names map to INFO.
func ParseLevel(levelStr string) Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// String returns the canonical name of the level.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// GetLogger returns a logger for the named component.
// Thread-safe; the global level is initialized lazily to INFO.
func GetLogger(name string) *Logger {
	initOnce.Do(func() {})
	levelMu.RLock()
	defer levelMu.RUnlock()
	return &Logger{
		level:  levelFor(name),
		name:   name,
		fields: make(map[string]interface{}),
	}
}

// WithField returns a child logger that includes the given field on every
// message. The receiver is not modified.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{level: l.level, name: l.name, fields: fields}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.write(DEBUG, fmt.Sprintf(msg, args...), nil)
	}
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.shouldLog(INFO) {
		l.write(INFO, fmt.Sprintf(msg, args...), nil)
	}
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.shouldLog(WARN) {
		l.write(WARN, fmt.Sprintf(msg, args...), nil)
	}
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.write(ERROR, fmt.Sprintf(msg, args...), nil)
	}
}

// Fatal logs a fatal message and terminates the process with exit code 1.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.write(FATAL, fmt.Sprintf(msg, args...), nil)
	exitFunc(1)
}

// InfoWithFields logs an info message with structured fields.
func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	if l.shouldLog(INFO) {
		l.write(INFO, msg, fields)
	}
}

// WarnWithFields logs a warning message with structured fields.
func (l *Logger) WarnWithFields(msg string, fields ...LogField) {
	if l.shouldLog(WARN) {
		l.write(WARN, msg, fields)
	}
}

// ErrorWithFields logs an error message with structured fields.
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) {
	if l.shouldLog(ERROR) {
		l.write(ERROR, msg, fields)
	}
}

func (l *Logger) shouldLog(level Level) bool {
	return level >= l.level
}

// write formats and routes a single log line.
// ERROR and FATAL go to stderr, everything else to stdout.
func (l *Logger) write(level Level, msg string, extra []LogField) {
	line := fmt.Sprintf("[%s] [%s] %s: %s", timestamp(), level, l.name, msg)
	line += fieldSuffix(l.fields, extra)

	if level >= ERROR {
		fmt.Fprintln(os.Stderr, line)
	} else {
		fmt.Fprintln(os.Stdout, line)
	}
}

// fieldSuffix renders the persistent fields in sorted key order, then the
// per-call fields in argument order, so log lines are byte-stable.
func fieldSuffix(fields map[string]interface{}, extra []LogField) string {
	if len(fields) == 0 && len(extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := " |"
	for _, k := range keys {
		s += fmt.Sprintf(" %s=%v", k, fields[k])
	}
	for _, f := range extra {
		s += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	return s
}

// timestamp returns an RFC3339 timestamp. The LOG_TIMESTAMP env var overrides
// it for deterministic test output.
func timestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}
