// format.go: Append-based line layout shared by console, file and memory appenders
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Marker texts written by the file appender.
const (
	markerSource  = "FileAppender"
	markerStarted = "Log started"
	markerTrimmed = "File trimmed, removed "
	truncSuffix   = "..."
)

// lineFormat lays out one record as
//
//	<prefix><HH:mm:ss.fff>[<LVL>][F:<frame>][T:<goroutine>][<tag>] <body>
//
// followed by tab-indented continuation lines for embedded newlines and for
// the captured trace. The T column is present only when showGoroutine is set.
// Tags have '[', ']' and line breaks replaced by '_'.
type lineFormat struct {
	prefix        string
	loc           *time.Location
	showGoroutine bool
	maxBody       int
}

func appendTwo(buf []byte, v int) []byte {
	return append(buf, byte('0'+v/10), byte('0'+v%10))
}

// appendClock writes HH:mm:ss.fff without going through time.Format.
func appendClock(buf []byte, t time.Time, loc *time.Location) []byte {
	if loc != nil {
		t = t.In(loc)
	}
	h, m, s := t.Clock()
	ms := t.Nanosecond() / int(time.Millisecond)
	buf = appendTwo(buf, h)
	buf = append(buf, ':')
	buf = appendTwo(buf, m)
	buf = append(buf, ':')
	buf = appendTwo(buf, s)
	buf = append(buf, '.', byte('0'+ms/100), byte('0'+(ms/10)%10), byte('0'+ms%10))
	return buf
}

func appendTag(buf []byte, tag string) []byte {
	for i := 0; i < len(tag); i++ {
		switch c := tag[i]; c {
		case '[', ']', '\n', '\r':
			buf = append(buf, '_')
		default:
			buf = append(buf, c)
		}
	}
	return buf
}

// truncateBody cuts s to at most limit bytes on a rune boundary and marks it.
func truncateBody(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	suffix := truncSuffix
	if limit < len(suffix) {
		suffix = suffix[:limit]
	}
	cut := limit - len(suffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}

func appendContinued(buf []byte, s string) []byte {
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			return append(buf, s...)
		}
		buf = append(buf, s[:i]...)
		buf = append(buf, '\n', '\t')
		s = s[i+1:]
	}
}

// appendRecord appends the full text of r, trailing newline included.
func (f *lineFormat) appendRecord(buf []byte, r *Record) []byte {
	buf = append(buf, f.prefix...)
	buf = appendClock(buf, r.Time, f.loc)
	buf = append(buf, '[')
	buf = append(buf, r.Level.ShortName()...)
	buf = append(buf, "][F:"...)
	buf = strconv.AppendUint(buf, r.Frame, 10)
	buf = append(buf, ']')
	if f.showGoroutine {
		buf = append(buf, "[T:"...)
		buf = strconv.AppendUint(buf, r.Goroutine, 10)
		buf = append(buf, ']')
	}
	buf = append(buf, '[')
	buf = appendTag(buf, r.Tag)
	buf = append(buf, "] "...)
	buf = appendContinued(buf, truncateBody(r.Body, f.maxBody))
	buf = append(buf, '\n')
	if r.Trace != "" {
		buf = append(buf, '\t')
		buf = appendContinued(buf, r.Trace)
		buf = append(buf, '\n')
	}
	return buf
}

// appendMarker appends an informational line emitted by the file appender.
func (f *lineFormat) appendMarker(buf []byte, t time.Time, msg string) []byte {
	buf = append(buf, f.prefix...)
	buf = appendClock(buf, t, f.loc)
	buf = append(buf, " [INFO] ["...)
	buf = append(buf, markerSource...)
	buf = append(buf, "] "...)
	buf = append(buf, msg...)
	return append(buf, '\n')
}

// ParsedLine is the result of ParseLine.
type ParsedLine struct {
	Clock     string
	Level     Level
	Frame     uint64
	Goroutine uint64
	Tag       string
	Body      string
	// Marker is set for start and trim markers; Body then holds the marker
	// text and Level is LevelNone.
	Marker bool
}

// ErrMalformedLine is returned by ParseLine for text that is not a record
// or marker line.
var ErrMalformedLine = errors.New("styx: malformed log line")

const clockLen = len("15:04:05.000")

// ParseLine parses one physical line written with the given prefix. It is
// the inverse of the file layout for single-line bodies.
func ParseLine(line, prefix string) (ParsedLine, error) {
	var p ParsedLine
	line = strings.TrimSuffix(line, "\n")
	if !strings.HasPrefix(line, prefix) || len(line) < len(prefix)+clockLen {
		return p, ErrMalformedLine
	}
	rest := line[len(prefix):]
	p.Clock, rest = rest[:clockLen], rest[clockLen:]

	if m, ok := strings.CutPrefix(rest, " [INFO] ["+markerSource+"] "); ok {
		p.Marker, p.Body = true, m
		return p, nil
	}

	field := func() (string, bool) {
		if len(rest) == 0 || rest[0] != '[' {
			return "", false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", false
		}
		v := rest[1:end]
		rest = rest[end+1:]
		return v, true
	}

	lvl, ok := field()
	if !ok {
		return p, ErrMalformedLine
	}
	l, ok := lookupLevel(lvl)
	if !ok {
		return p, ErrMalformedLine
	}
	p.Level = l

	frame, ok := field()
	if !ok || !strings.HasPrefix(frame, "F:") {
		return p, ErrMalformedLine
	}
	var err error
	if p.Frame, err = strconv.ParseUint(frame[2:], 10, 64); err != nil {
		return p, ErrMalformedLine
	}

	tag, ok := field()
	if !ok {
		return p, ErrMalformedLine
	}
	if strings.HasPrefix(tag, "T:") && strings.HasPrefix(rest, "[") {
		if p.Goroutine, err = strconv.ParseUint(tag[2:], 10, 64); err != nil {
			return p, ErrMalformedLine
		}
		if tag, ok = field(); !ok {
			return p, ErrMalformedLine
		}
	}
	p.Tag = tag

	body, ok := strings.CutPrefix(rest, " ")
	if !ok {
		return p, ErrMalformedLine
	}
	p.Body = body
	return p, nil
}

// TrimmedBytes returns N from a "File trimmed, removed N bytes" marker.
func (p ParsedLine) TrimmedBytes() (int64, bool) {
	if !p.Marker {
		return 0, false
	}
	s, ok := strings.CutPrefix(p.Body, markerTrimmed)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(s, " bytes"), 10, 64)
	return n, err == nil
}

// TrimMarker returns the marker line written after a trim that removed
// removed bytes, laid out with prefix and stamped t in loc.
func TrimMarker(prefix string, t time.Time, loc *time.Location, removed int64) []byte {
	f := lineFormat{prefix: prefix, loc: loc}
	return f.appendMarker(nil, t, trimMessage(removed))
}

func trimMessage(removed int64) string {
	return markerTrimmed + strconv.FormatInt(removed, 10) + " bytes"
}
