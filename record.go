// record.go: Immutable log record and call-site capture helpers
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"bytes"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Record is one log event. It is built once per dispatched call and handed
// to every appender by value; appenders must treat it as read-only.
type Record struct {
	Level Level
	Tag   string
	Body  string
	Time  time.Time

	// Frame is the manager tick counter at creation time.
	Frame uint64
	// Seq is a per-manager monotonic sequence number.
	Seq uint64
	// Goroutine is the producing goroutine id, zero unless an appender
	// asked for it.
	Goroutine uint64
	// Trace holds one "function (file:line)" entry per line, innermost
	// first. Empty unless the stack-trace policy covers Level.
	Trace string
}

// HasTrace reports whether a call chain was captured.
func (r Record) HasTrace() bool { return r.Trace != "" }

// captureTrace returns up to depth frames of the caller's stack, skipping
// skip frames (runtime.Callers semantics).
func captureTrace(depth, skip int) string {
	if depth <= 0 {
		return ""
	}
	pc := make([]uintptr, depth)
	n := runtime.Callers(skip, pc)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pc[:n])
	var sb strings.Builder
	for {
		frame, more := frames.Next()
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		fn := frame.Function
		if fn == "" {
			fn = "(unknown)"
		}
		sb.WriteString(filepath.Base(fn))
		sb.WriteString(" (")
		sb.WriteString(filepath.Base(frame.File))
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(frame.Line))
		sb.WriteByte(')')
		if !more {
			break
		}
	}
	return sb.String()
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine id from the runtime stack header.
// It costs a small stack dump, so it only runs when an appender needs it.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
