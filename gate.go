// gate.go: Per-level conditional gates and the registrable factory table
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"fmt"
	"strings"
)

// Gate is the handle for one enabled level. Manager.Gate returns nil for a
// disabled level, so a call site written as
//
//	if g := m.Gate(styx.LevelLog); g != nil {
//		g.Log("net", expensiveDump())
//	}
//
// never evaluates its arguments when the level is off.
type Gate interface {
	Level() Level
	Log(tag, body string)
	Logf(tag, format string, args ...any)
}

// GateFactory builds the gate for a single level of m.
type GateFactory func(m *Manager, level Level) Gate

// gateTable maps each base level, by bit index, to its factory.
type gateTable [levelCount]GateFactory

// defaultGates: the two highest severities get critical gates.
var defaultGates = gateTable{
	NewBasicGate,    // Log
	NewBasicGate,    // Warning
	NewBasicGate,    // Assert
	NewCriticalGate, // Error
	NewCriticalGate, // Exception
}

// gateSet caches built gates for one mask and one factory table.
type gateSet struct {
	mask  Level
	table *gateTable
	gates [levelCount]Gate
}

// callerSkip makes captured traces start at the user's call site when the
// record is built directly inside an exported logging method.
const callerSkip = 4

type basicGate struct {
	m     *Manager
	level Level
}

// NewBasicGate returns a gate forwarding straight to the manager.
func NewBasicGate(m *Manager, level Level) Gate {
	return &basicGate{m: m, level: level}
}

func (g *basicGate) Level() Level { return g.level }

func (g *basicGate) Log(tag, body string) {
	g.m.deliver(g.m.newRecord(g.level, tag, body, callerSkip))
}

func (g *basicGate) Logf(tag, format string, args ...any) {
	body, ok := formatMessage(format, args)
	if !ok {
		g.m.formatFailure(tag, body)
		return
	}
	g.m.deliver(g.m.newRecord(g.level, tag, body, callerSkip))
}

type criticalGate struct {
	m     *Manager
	level Level
}

// NewCriticalGate returns a gate that suppresses host-log capture of its
// level while dispatching and then hands the record to the report pipeline.
func NewCriticalGate(m *Manager, level Level) Gate {
	return &criticalGate{m: m, level: level}
}

func (g *criticalGate) Level() Level { return g.level }

func (g *criticalGate) Log(tag, body string) {
	guard := g.m.Suppress(g.level)
	defer guard.Release()
	r := g.m.newRecord(g.level, tag, body, callerSkip)
	g.m.deliver(r)
	g.m.reporter.Enqueue(r)
}

func (g *criticalGate) Logf(tag, format string, args ...any) {
	body, ok := formatMessage(format, args)
	if !ok {
		g.m.formatFailure(tag, body)
		return
	}
	guard := g.m.Suppress(g.level)
	defer guard.Release()
	r := g.m.newRecord(g.level, tag, body, callerSkip)
	g.m.deliver(r)
	g.m.reporter.Enqueue(r)
}

// formatMessage runs fmt.Sprintf and reports false when fmt flagged a
// problem (bad verb, wrong argument count, panicking Stringer). On failure
// the returned text describes what went wrong. Arguments whose own text
// contains "%!" are not failures.
func formatMessage(format string, args []any) (msg string, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			msg, ok = fmt.Sprintf("format %q: %v", format, p), false
		}
	}()
	msg = fmt.Sprintf(format, args...)
	if !strings.Contains(msg, "%!") || !formatFailed(format, args) {
		return msg, true
	}
	return fmt.Sprintf("format %q produced %q", format, msg), false
}

// formatFailed formats again with every non-integer argument checked on its
// own, so a marker in argument text is told apart from one fmt emitted.
// Integers stay unwrapped because star widths must be ints.
func formatFailed(format string, args []any) bool {
	wrapped := make([]any, len(args))
	checks := make([]*fmtArg, 0, len(args))
	for i, v := range args {
		if isInteger(v) {
			wrapped[i] = v
			continue
		}
		a := &fmtArg{v: v}
		checks = append(checks, a)
		wrapped[i] = a
	}
	outer := fmt.Sprintf(format, wrapped...)
	for _, a := range checks {
		if a.bad {
			return true
		}
	}
	return strings.Count(outer, "%!") > strings.Count(format, "%%!")
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, uintptr:
		return true
	}
	return false
}

// fmtArg renders its value alone and records whether fmt rejected it. It
// writes nothing to the outer state.
type fmtArg struct {
	v   any
	bad bool
}

func (a *fmtArg) Format(f fmt.State, verb rune) {
	out := fmt.Sprintf(fmt.FormatString(f, verb), a.v)
	prefix := "%!" + string(verb) + "("
	if !strings.HasPrefix(out, prefix) {
		return
	}
	rest := out[len(prefix):]
	a.bad = a.bad ||
		strings.HasPrefix(rest, "<nil>)") ||
		strings.HasPrefix(rest, "PANIC=") ||
		strings.HasPrefix(rest, fmt.Sprintf("%T=", a.v))
}

// Gate returns the gate for level, or nil when level is disabled or is not
// a single severity. The result is cached per mask; a mask change or a
// factory registration rebuilds the cache on the next read.
func (m *Manager) Gate(level Level) Gate {
	if m == nil || !level.IsSingle() {
		return nil
	}
	mask := m.Levels()
	table := m.factories.Load()
	gs := m.gates.Load()
	if gs == nil || gs.mask != mask || gs.table != table {
		gs = m.rebuildGates(gs, mask, table)
	}
	return gs.gates[level.index()]
}

func (m *Manager) rebuildGates(old *gateSet, mask Level, table *gateTable) *gateSet {
	gs := &gateSet{mask: mask, table: table}
	for i := 0; i < levelCount; i++ {
		l := Level(1) << i
		if !mask.Contains(l) {
			continue
		}
		if f := table[i]; f != nil {
			gs.gates[i] = f(m, l)
		}
	}
	// A lost race leaves another reader's set in place; gs is still
	// correct for the mask observed here.
	m.gates.CompareAndSwap(old, gs)
	return gs
}

// RegisterGate installs factory for a single level. Gates handed out
// earlier keep working; new lookups use the new factory.
func (m *Manager) RegisterGate(level Level, factory GateFactory) error {
	if factory == nil {
		return ErrNilFactory
	}
	if !level.IsSingle() {
		return ErrInvalidLevel
	}
	m.factoryMu.Lock()
	defer m.factoryMu.Unlock()
	next := *m.factories.Load()
	next[level.index()] = factory
	m.factories.Store(&next)
	return nil
}
