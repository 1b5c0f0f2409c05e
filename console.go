// console.go: Synchronous console destination
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"io"
	"os"
	"sync"
	"time"
)

const (
	ansiPrefix = "\033["
	ansiSuffix = "m"
	ansiReset  = ansiPrefix + "0" + ansiSuffix
)

// levelColors are ANSI SGR fragments indexed like levelNames.
var levelColors = [levelCount]string{
	"0;97",     // Log
	"0;33",     // Warning
	"0;35",     // Assert
	"0;91",     // Error
	"101;1;33", // Exception
}

// ConsoleAppender writes formatted lines on the caller's goroutine, so the
// output order is the call order.
type ConsoleAppender struct {
	base

	mu     sync.Mutex
	out    io.Writer
	fixed  bool
	color  bool
	format lineFormat
	buf    []byte
	cfg    ConsoleConfig
	tz     TimezoneConfig
}

// NewConsoleAppender returns a console appender writing to w. A nil w
// selects stdout or stderr from ConsoleConfig.Stream.
func NewConsoleAppender(w io.Writer) *ConsoleAppender {
	c := &ConsoleAppender{out: w, fixed: w != nil}
	c.initBase(ConsoleAppenderName)
	return c
}

// Initialize applies cfg.Console. Calling it again with an unchanged
// sub-config only refreshes the level mask.
func (c *ConsoleAppender) Initialize(cfg *Config) error {
	if c.disposed.Load() {
		return nil
	}
	cc := cfg.Console
	c.SetLevels(levelMask(cc.Levels, LevelAll))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized.Load() && cc == c.cfg && cfg.Timezone == c.tz {
		return nil
	}
	if !c.fixed {
		c.out = os.Stdout
		if cc.Stream == "stderr" {
			c.out = os.Stderr
		}
	}
	c.color = cc.Color
	c.format = lineFormat{loc: cfg.Timezone.Location()}
	c.cfg, c.tz = cc, cfg.Timezone
	c.initialized.Store(true)
	return nil
}

// WriteLog formats and writes r immediately.
func (c *ConsoleAppender) WriteLog(r Record) {
	if !c.admit(&r) {
		return
	}
	defer c.recoverTo("write")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = c.buf[:0]
	if c.color && r.Level.IsSingle() {
		c.buf = append(c.buf, ansiPrefix...)
		c.buf = append(c.buf, levelColors[r.Level.index()]...)
		c.buf = append(c.buf, ansiSuffix...)
	}
	c.buf = c.format.appendRecord(c.buf, &r)
	if c.color {
		c.buf = append(c.buf, ansiReset...)
	}
	if _, err := c.out.Write(c.buf); err != nil {
		c.reportError(CategoryFileIO, "write", err)
		return
	}
	c.environment().metrics.appenderWrite(c.name)
}

// Flush is a no-op: writes are synchronous.
func (c *ConsoleAppender) Flush(time.Duration) error { return nil }

// Dispose marks the appender unusable. The writer is not closed.
func (c *ConsoleAppender) Dispose() {
	c.disposed.Store(true)
}
