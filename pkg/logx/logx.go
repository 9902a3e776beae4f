// Package logx provides leveled, component-tagged logging for the bot.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level identifies the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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
	default:
		return "INFO"
	}
}

// ParseLevel maps a config string to a Level. Unknown values fall back to info.
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

//nolint:gochecknoglobals // Process-wide minimum level, set once at startup.
var (
	minLevel   = LevelInfo
	minLevelMu sync.RWMutex
)

// SetLevel sets the process-wide minimum level. Lines below it are dropped.
func SetLevel(l Level) {
	minLevelMu.Lock()
	minLevel = l
	minLevelMu.Unlock()
}

func enabled(l Level) bool {
	minLevelMu.RLock()
	defer minLevelMu.RUnlock()
	return l >= minLevel
}

// Logger writes component-tagged lines to stderr.
type Logger struct {
	component string
	logger    *log.Logger
}

// NewLogger creates a logger for the named component.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0), // stderr keeps stdout free for transports
	}
}

func (l *Logger) emit(level Level, format string, args ...any) {
	if !enabled(level) {
		return
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	l.logger.Printf("%s %-5s [%s] %s", ts, level, l.component, fmt.Sprintf(format, args...))
}

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...any) { l.emit(LevelDebug, format, args...) }

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...any) { l.emit(LevelInfo, format, args...) }

// Warn logs a warning-level message.
func (l *Logger) Warn(format string, args ...any) { l.emit(LevelWarn, format, args...) }

// Error logs an error-level message.
func (l *Logger) Error(format string, args ...any) { l.emit(LevelError, format, args...) }
