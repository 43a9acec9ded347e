// Package apperr defines the typed error taxonomy used across the loader,
// grammars, emitter, and daemon so callers can decide whether a failure is
// local (skip one rule/file) or fatal (abort the whole load).
package apperr

import "fmt"

// Code classifies an error along the propagation policy of the firewall
// compiler: configuration and grammar errors are recoverable per-rule,
// filesystem errors are recoverable per-file, subprocess and fatal errors
// abort the run.
type Code string

const (
	// CodeConfig marks a bad parameter name, disallowed value, failed
	// verify, cyclic dependency, or conflicting exclusive attribute.
	CodeConfig Code = "CONFIG"
	// CodeGrammar marks a rejection from the state, conntrack, or
	// port-knock parsers.
	CodeGrammar Code = "GRAMMAR"
	// CodeFilesystem marks an unreadable rule directory or missing
	// set-from-file.
	CodeFilesystem Code = "FILESYSTEM"
	// CodeSubprocess marks a nonzero exit from iptables-restore or ipset.
	CodeSubprocess Code = "SUBPROCESS"
	// CodeMessage marks a malformed bus message.
	CodeMessage Code = "MESSAGE"
	// CodeFatal marks an unrecoverable error: out of memory, bus
	// disconnect without reconnect, or an interrupted shutdown.
	CodeFatal Code = "FATAL"
)

// Error is a typed application error carrying a recovery code and an
// optional wrapped cause.
type Error struct {
	Code    Code
	Subject string // rule name, file path, or message type this error is about
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s[%s]: %s: %v", e.Code, e.Subject, e.Message, e.Err)
		}
		return fmt.Sprintf("%s[%s]: %s", e.Code, e.Subject, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the loader should skip the offending rule or
// file and continue, per spec §7's propagation policy.
func (e *Error) Recoverable() bool {
	switch e.Code {
	case CodeConfig, CodeGrammar, CodeFilesystem, CodeMessage:
		return true
	default:
		return false
	}
}

// New builds an *Error with no subject.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// About attaches a subject (rule name, file path, message type) to a new
// error.
func About(code Code, subject, message string) *Error {
	return &Error{Code: code, Subject: subject, Message: message}
}

// Wrap attaches a cause to a new error.
func Wrap(code Code, subject, message string, err error) *Error {
	return &Error{Code: code, Subject: subject, Message: message, Err: err}
}
