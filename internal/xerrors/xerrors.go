// Package xerrors records where an error was created or wrapped, for the
// logger to render. New, Newf and WithStack capture a stack; Wrap and Wrapf
// capture the single frame that added context.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the goroutine stack at the point the error was created.
type stacked struct {
	error
	pcs []uintptr
}

func (s *stacked) Unwrap() error       { return s.error }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// wrapped adds a message and the frame that added it.
type wrapped struct {
	cause error
	msg   string
	pc    uintptr
}

func (w *wrapped) Error() string { return w.msg + ": " + w.cause.Error() }
func (w *wrapped) Unwrap() error { return w.cause }
func (w *wrapped) PC() uintptr   { return w.pc }

// callers returns the stack above the exported function that called it.
func callers() []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	// runtime.Callers, callers, and the exported constructor
	return pcs[:runtime.Callers(3, pcs)]
}

func caller() uintptr {
	var pcs [1]uintptr
	if runtime.Callers(3, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// New returns an error with msg and the caller's stack.
func New(msg string) error {
	return &stacked{error: errors.New(msg), pcs: callers()}
}

// Newf is New with fmt formatting. %w is honored.
func Newf(format string, args ...any) error {
	return &stacked{error: fmt.Errorf(format, args...), pcs: callers()}
}

// WithStack attaches the caller's stack to err. nil stays nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{error: err, pcs: callers()}
}

// EnsureTrace is WithStack unless err already carries a stack.
func EnsureTrace(err error) error {
	if err == nil || HasStack(err) {
		return err
	}
	return &stacked{error: err, pcs: callers()}
}

// HasStack reports whether any error in err's chain carries a stack.
func HasStack(err error) bool {
	var s interface{ StackPCs() []uintptr }
	return errors.As(err, &s) && len(s.StackPCs()) > 0
}

// Wrap prefixes err with msg, recording the caller. nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{cause: err, msg: msg, pc: caller()}
}

// Wrapf is Wrap with fmt formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{cause: err, msg: fmt.Sprintf(format, args...), pc: caller()}
}
