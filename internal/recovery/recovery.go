// Package recovery provides panic recovery for goroutines and user callbacks.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError describes a recovered panic.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Name, e.Value)
}

func newPanicError(logger *slog.Logger, name string, r any) *PanicError {
	pe := &PanicError{Name: name, Value: r, Stack: debug.Stack()}
	if logger != nil {
		logger.Error("panic recovered",
			"goroutine", name,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(pe.Stack))
	}
	return pe
}

// Recover recovers from a panic, logs it and passes it to callback.
// It must be deferred directly:
//
//	go func() {
//	    defer recovery.Recover(logger, "read-loop", nil)
//	    // ...
//	}()
func Recover(logger *slog.Logger, name string, callback func(*PanicError)) {
	if r := recover(); r != nil {
		pe := newPanicError(logger, name, r)
		if callback != nil {
			callback(pe)
		}
	}
}

// Call runs fn and returns a *PanicError if it panicked.
func Call(logger *slog.Logger, name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(logger, name, r)
		}
	}()
	fn()
	return nil
}

// Go runs fn in a new goroutine that logs and swallows panics.
func Go(logger *slog.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name, nil)
		fn()
	}()
}
