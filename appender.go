// appender.go: Destination contract and the shared admission guard
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"sync/atomic"
	"time"
)

// Well-known destination names used by reconciliation.
const (
	ConsoleAppenderName = "console"
	FileAppenderName    = "file"
	MemoryAppenderName  = "memory"
)

// Appender is a log destination. The manager owns every registered appender
// and drives its lifecycle:
//
//	construct -> Initialize (idempotent) -> WriteLog/Flush ... -> Dispose
//
// WriteLog must never block on I/O longer than the destination's own
// contract allows, and must never panic or return failures to the caller;
// failures go to the error sink. Dispose flushes and is safe to call more
// than once.
type Appender interface {
	Name() string
	Levels() Level
	SetLevels(Level)
	Enabled() bool
	SetEnabled(bool)
	Initialize(cfg *Config) error
	WriteLog(r Record)
	Flush(timeout time.Duration) error
	Dispose()
}

// appenderEnv is the runtime an appender is attached to when the manager
// registers it.
type appenderEnv struct {
	errs      *sinkHolder
	metrics   *Metrics
	scheduler Scheduler
	clock     Clock
}

// attachable is implemented by appenders built on base.
type attachable interface {
	attach(env *appenderEnv)
}

// systemClock is the fallback for appenders used without a manager.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func standaloneEnv() *appenderEnv {
	return &appenderEnv{
		errs:      &sinkHolder{},
		scheduler: NewScheduler(ModeGoroutine, 0, nil),
		clock:     systemClock{},
	}
}

// base carries the state every built-in appender shares and enforces the
// admission rules before any destination-specific work happens.
type base struct {
	name        string
	levels      atomic.Uint32
	enabled     atomic.Bool
	initialized atomic.Bool
	disposed    atomic.Bool
	env         atomic.Pointer[appenderEnv]
}

func (b *base) initBase(name string) {
	b.name = name
	b.levels.Store(uint32(LevelAll))
	b.enabled.Store(true)
}

func (b *base) Name() string          { return b.name }
func (b *base) Levels() Level         { return Level(b.levels.Load()) } // #nosec G115 -- stored from a Level
func (b *base) SetLevels(l Level)     { b.levels.Store(uint32(l & LevelAll)) }
func (b *base) Enabled() bool         { return b.enabled.Load() }
func (b *base) SetEnabled(v bool)     { b.enabled.Store(v) }
func (b *base) attach(e *appenderEnv) { b.env.Store(e) }

// environment returns the attached runtime, creating a standalone one on
// first use outside a manager.
func (b *base) environment() *appenderEnv {
	if e := b.env.Load(); e != nil {
		return e
	}
	b.env.CompareAndSwap(nil, standaloneEnv())
	return b.env.Load()
}

// admit reports whether r may be written: enabled, initialized, not
// disposed and sharing a level with the appender's mask.
func (b *base) admit(r *Record) bool {
	return b.enabled.Load() &&
		b.initialized.Load() &&
		!b.disposed.Load() &&
		b.Levels().Intersects(r.Level)
}

func (b *base) reportError(category ErrorCategory, op string, err error) {
	env := b.environment()
	env.metrics.appenderError(b.name)
	env.errs.report(b.name+"."+op, newError(category, op, b.name, err))
}

// recoverTo converts a panic in destination code into a reported error.
// Use as: defer b.recoverTo("write").
func (b *base) recoverTo(op string) {
	if r := recover(); r != nil {
		b.reportError(CategoryGeneric, op, panicError(r))
	}
}
