// errors.go: Error taxonomy and the internal error sink
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrorCategory classifies internal failures.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryFormat        ErrorCategory = "format"
	CategoryLifecycle     ErrorCategory = "lifecycle"
	CategoryNetwork       ErrorCategory = "network"
	CategoryGeneric       ErrorCategory = "generic"
)

// Sentinel errors returned at the public API boundary.
var (
	ErrNilFactory        = errors.New("styx: nil gate factory")
	ErrNilAppender       = errors.New("styx: nil appender")
	ErrInvalidLevel      = errors.New("styx: level must name exactly one severity")
	ErrDuplicateAppender = errors.New("styx: appender name already registered")
	ErrClosed            = errors.New("styx: manager closed")
	ErrFlushTimeout      = errors.New("styx: flush timed out")
	ErrJoinTimeout       = errors.New("styx: worker did not stop in time")

	errEmptyEndpoint = errors.New("endpoint required for http transport")
)

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", p)
}

// Error carries the operation, category and originating appender of an
// internal failure.
type Error struct {
	Op       string
	Category ErrorCategory
	Appender string
	Err      error
}

func newError(category ErrorCategory, op, appender string, err error) *Error {
	return &Error{Op: op, Category: category, Appender: appender, Err: err}
}

func (e *Error) Error() string {
	if e.Appender != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Category, e.Appender, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf returns the category of the first *Error in err's chain, or
// CategoryGeneric.
func CategoryOf(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryGeneric
}

// ErrorSink receives every failure that happens inside appenders, the report
// pipeline or the scheduler. It must not log through the manager.
type ErrorSink func(op string, err error)

// WriterErrorSink returns a sink printing "styx: <op>: <err>" lines to w.
// Writes are serialized.
func WriterErrorSink(w io.Writer) ErrorSink {
	var mu sync.Mutex
	return func(op string, err error) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintf(w, "styx: %s: %v\n", op, err)
	}
}

// DefaultErrorSink writes to standard error.
var DefaultErrorSink = WriterErrorSink(os.Stderr)

// sinkHolder guards sink invocation: a panicking sink is swallowed so the
// reporting path itself can never fail.
type sinkHolder struct {
	mu   sync.RWMutex
	sink ErrorSink
	hook func(op string, err error)
}

func (h *sinkHolder) set(s ErrorSink) {
	h.mu.Lock()
	h.sink = s
	h.mu.Unlock()
}

func (h *sinkHolder) report(op string, err error) {
	if err == nil {
		return
	}
	h.mu.RLock()
	sink, hook := h.sink, h.hook
	h.mu.RUnlock()
	if sink == nil {
		sink = DefaultErrorSink
	}
	defer func() { _ = recover() }()
	if hook != nil {
		hook(op, err)
	}
	sink(op, err)
}
