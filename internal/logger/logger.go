package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Logger provides structured logging with JSON output
type Logger struct {
	mu     sync.Mutex
	output io.Writer
	level  LogLevel
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewLogger creates a new structured logger
func NewLogger(output io.Writer, level LogLevel) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		output: output,
		level:  level,
	}
}

var (
	defaultMu sync.RWMutex
	std       = NewLogger(os.Stdout, LevelInfo)
)

// SetLevel changes the level of the package-level logger
func SetLevel(level LogLevel) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	std.level = level
}

// SetOutput changes the output of the package-level logger
func SetOutput(output io.Writer) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	std.output = output
}

// Debug logs a debug message with alternating key/value pairs
func Debug(msg string, keyvals ...interface{}) {
	defaultLogger().log(LevelDebug, msg, keyvals...)
}

// Info logs an info message with alternating key/value pairs
func Info(msg string, keyvals ...interface{}) {
	defaultLogger().log(LevelInfo, msg, keyvals...)
}

// Warn logs a warning message with alternating key/value pairs
func Warn(msg string, keyvals ...interface{}) {
	defaultLogger().log(LevelWarn, msg, keyvals...)
}

// Error logs an error message with alternating key/value pairs
func Error(msg string, keyvals ...interface{}) {
	defaultLogger().log(LevelError, msg, keyvals...)
}

func defaultLogger() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return std
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(LevelDebug, msg, keyvals...)
}

// Info logs an info message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(LevelInfo, msg, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(LevelWarn, msg, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(LevelError, msg, keyvals...)
}

func (l *Logger) log(level LogLevel, msg string, keyvals ...interface{}) {
	if !l.shouldLog(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     string(level),
		Message:   msg,
	}

	if len(keyvals) > 0 {
		entry.Fields = make(map[string]interface{}, len(keyvals)/2)
		for i := 0; i+1 < len(keyvals); i += 2 {
			key, ok := keyvals[i].(string)
			if !ok {
				key = fmt.Sprintf("%v", keyvals[i])
			}
			entry.Fields[key] = normalizeValue(keyvals[i+1])
		}
		// A dangling key is logged rather than silently dropped
		if len(keyvals)%2 != 0 {
			entry.Fields["EXTRA"] = fmt.Sprintf("%v", keyvals[len(keyvals)-1])
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.output, string(data))
}

func normalizeValue(v interface{}) interface{} {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}

func (l *Logger) shouldLog(level LogLevel) bool {
	levels := map[LogLevel]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.level]
}

// ParseLevel maps a level name to a LogLevel, defaulting to info
func ParseLevel(s string) LogLevel {
	switch LogLevel(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return LogLevel(s)
	default:
		return LevelInfo
	}
}
