// Package logging provides the leveled, component-tagged log lines used across the dialer.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"time"
)

type LogLevel int32

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes "RFC3339 LEVEL component: message" lines. Loggers derived with
// For share the destination and the level, so SetLevel applies to all of them.
type Logger struct {
	out       *log.Logger
	level     *atomic.Int32
	component string
}

func New(w io.Writer, level LogLevel) *Logger {
	lv := &atomic.Int32{}
	lv.Store(int32(level))
	return &Logger{
		out:       log.New(w, "", 0),
		level:     lv,
		component: "dialer",
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return New(io.Discard, LogLevelError+1)
}

func (l *Logger) For(component string) *Logger {
	return &Logger{out: l.out, level: l.level, component: component}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.Level()
}

func (l *Logger) Log(level LogLevel, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%s %s %s: %s", time.Now().Format(time.RFC3339), level, l.component, msg)
}

func (l *Logger) Debug(format string, args ...any) { l.Log(LogLevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.Log(LogLevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.Log(LogLevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.Log(LogLevelError, format, args...) }
