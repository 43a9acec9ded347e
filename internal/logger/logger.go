// Package logger provides the structured leveled logger shared by every
// long-running component of the firewall suite (loader, emitter, ipset
// manager, block daemon, and both CLIs).
package logger

import (
	"fmt"
	"os"
	"time"
)

// Logger provides structured logging with JSON or text output.
type Logger struct {
	level  string
	format string
	fields []interface{}
}

// New creates a new logger instance.
func New(level, format string) (*Logger, error) {
	return &Logger{
		level:  level,
		format: format,
	}, nil
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() {}

// With returns a child logger that prepends the given key/value pairs to
// every subsequent log call.
func (l *Logger) With(kvs ...interface{}) *Logger {
	child := &Logger{level: l.level, format: l.format}
	child.fields = append(append([]interface{}{}, l.fields...), kvs...)
	return child
}

func (l *Logger) log(w *os.File, level string, msg string, kvs ...interface{}) {
	ts := time.Now().Format(time.RFC3339)
	all := append(append([]interface{}{}, l.fields...), kvs...)
	if l.format == "json" {
		fmt.Fprintf(w, `{"time":"%s","level":"%s","msg":"%s"`, ts, level, msg)
		for i := 0; i+1 < len(all); i += 2 {
			fmt.Fprintf(w, `,"%v":"%v"`, all[i], all[i+1])
		}
		fmt.Fprintln(w, "}")
	} else {
		fmt.Fprintf(w, "%s [%s] %s", ts, level, msg)
		for i := 0; i+1 < len(all); i += 2 {
			fmt.Fprintf(w, " %v=%v", all[i], all[i+1])
		}
		fmt.Fprintln(w)
	}
}

// Info logs an informational message.
func (l *Logger) Info(msg string, kvs ...interface{}) {
	l.log(os.Stdout, "INFO", msg, kvs...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, kvs ...interface{}) {
	l.log(os.Stderr, "ERROR", msg, kvs...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, kvs ...interface{}) {
	l.log(os.Stderr, "WARN", msg, kvs...)
}

// Debug logs a debug message (only when level is "debug").
func (l *Logger) Debug(msg string, kvs ...interface{}) {
	if l.level == "debug" {
		l.log(os.Stdout, "DEBUG", msg, kvs...)
	}
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(msg string, kvs ...interface{}) {
	l.log(os.Stderr, "FATAL", msg, kvs...)
	os.Exit(1)
}
