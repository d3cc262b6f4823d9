package config

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Level is a logging verbosity threshold.
type Level int

// Levels from most to least verbose.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

var logLevels = map[string]Level{
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
	"off":   LevelOff,
}

// Logger filters log lines by level on top of a standard *log.Logger.
// A nil *Logger discards everything.
type Logger struct {
	out   *log.Logger
	level Level
}

// NewLogger returns a Logger writing to stderr with the given prefix.
// Unknown level names fall back to info.
func NewLogger(level, prefix string) *Logger {
	return NewLoggerTo(os.Stderr, level, prefix)
}

// NewLoggerTo is NewLogger with an explicit destination.
func NewLoggerTo(w io.Writer, level, prefix string) *Logger {
	lvl, ok := logLevels[level]
	if !ok {
		lvl = LevelInfo
	}
	return &Logger{
		out:   log.New(w, prefix, log.LstdFlags|log.Lmicroseconds),
		level: lvl,
	}
}

// Enabled reports whether lines at lvl are written.
func (l *Logger) Enabled(lvl Level) bool {
	return l != nil && lvl >= l.level
}

func (l *Logger) logf(lvl Level, tag, format string, args ...interface{}) {
	if !l.Enabled(lvl) {
		return
	}
	_ = l.out.Output(3, tag+fmt.Sprintf(format, args...))
}

// Debugf logs per-message traffic and store dumps.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, "DEBUG ", format, args...)
}

// Infof logs lifecycle events.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, "INFO ", format, args...)
}

// Warnf logs recoverable failures such as a dead server or a bad frame.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, "WARN ", format, args...)
}

// Errorf logs failures that cost the process a component.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, "ERROR ", format, args...)
}
