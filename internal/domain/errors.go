package domain

import (
	"errors"
	"fmt"
)

// ErrorKind tags an engine error with its failure class. The CLI maps kinds
// to exit codes and job runners decide retry/skip behaviour from them.
type ErrorKind string

const (
	// InvalidInput covers flag validation, bad dates, unknown strategies and sources.
	InvalidInput ErrorKind = "invalid_input"
	// NoData means an empty asset after load or missing quotes for a monitor date.
	NoData ErrorKind = "no_data"
	// StrategyFault wraps a failure raised by user strategy code.
	StrategyFault ErrorKind = "strategy_fault"
	// PersistenceFault wraps an error from a repository port.
	PersistenceFault ErrorKind = "persistence_fault"
	// Concurrent means another instance of the same job class holds the lock.
	Concurrent ErrorKind = "concurrent"
	// Stalled is set by the health check on timed-out records.
	Stalled ErrorKind = "stalled"
)

// Error is the tagged error variant used across the engine.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds a tagged error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError tags an underlying error with a kind and context message.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err if it is (or wraps) a tagged Error,
// or the empty string otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
