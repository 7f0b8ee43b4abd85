// Package logging emits line-delimited JSON log records.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level orders log severities. Records below a logger's level are
// dropped.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel maps a config string to a Level. Unknown strings fall back
// to info so a typo never silences errors.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Record is the serialized form of one log line.
type Record struct {
	Time    string         `json:"ts"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Logger writes leveled JSON records to a single writer. Construct with
// NewLogger; the zero value has no output.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
	base  map[string]any
}

// NewLogger returns a logger writing to stderr at the given level.
func NewLogger(level Level) *Logger {
	return &Logger{out: os.Stderr, level: level}
}

// With returns a child logger whose records carry fields in addition to
// the parent's. The parent is unchanged.
func (l *Logger) With(fields map[string]any) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	base := make(map[string]any, len(l.base)+len(fields))
	for k, v := range l.base {
		base[k] = v
	}
	for k, v := range fields {
		base[k] = v
	}
	return &Logger{out: l.out, level: l.level, base: base}
}

func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.emit(LevelDebug, msg, nil, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.emit(LevelInfo, msg, nil, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.emit(LevelWarn, msg, nil, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.emit(LevelError, msg, nil, fields)
}

// ErrorErr logs at error level with err attached under the error field.
// A nil err logs the message alone.
func (l *Logger) ErrorErr(msg string, err error, fields ...map[string]any) {
	l.emit(LevelError, msg, err, fields)
}

func (l *Logger) emit(level Level, msg string, err error, extra []map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level || l.out == nil {
		return
	}

	n := len(l.base)
	for _, m := range extra {
		n += len(m)
	}
	if err != nil {
		n++
	}
	var fields map[string]any
	if n > 0 {
		fields = make(map[string]any, n)
		for k, v := range l.base {
			fields[k] = v
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		for _, m := range extra {
			for k, v := range m {
				fields[k] = v
			}
		}
	}

	line, jerr := json.Marshal(Record{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
		Fields:  fields,
	})
	if jerr != nil {
		io.WriteString(l.out, `{"level":"error","msg":"log record not serializable"}`+"\n")
		return
	}
	l.out.Write(append(line, '\n'))
}

// SetOutput redirects the logger and all loggers derived from it after
// this call.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// SetLevel changes the drop threshold.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

var (
	globalMu sync.RWMutex
	global   = NewLogger(LevelInfo)
)

// SetGlobal installs the logger returned by Default. Call once during
// startup, before anything captures Default's result.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// Default returns the process-wide logger. Components take it as their
// fallback when no logger is injected.
func Default() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// ErrorErr logs through the default logger. For failures before a
// configured logger exists, typically during startup.
func ErrorErr(msg string, err error, fields ...map[string]any) {
	Default().ErrorErr(msg, err, fields...)
}
