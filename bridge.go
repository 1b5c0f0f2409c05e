// bridge.go: Host log capture and the re-entrancy suppression guard
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// suppression counts, per level, how many dispatches are currently asking
// the bridge to ignore host callbacks. Counters nest.
type suppression struct {
	counts [levelCount]atomic.Int32
}

func (s *suppression) active(l Level) bool {
	for _, b := range l.Levels() {
		if s.counts[b.index()].Load() > 0 {
			return true
		}
	}
	return false
}

// SuppressGuard re-enables host capture for its levels when released.
// Release is idempotent.
type SuppressGuard struct {
	s        *suppression
	level    Level
	released bool
}

// Release ends the suppression scope.
func (g *SuppressGuard) Release() {
	if g.s == nil || g.released {
		return
	}
	g.released = true
	for _, b := range g.level.Levels() {
		g.s.counts[b.index()].Add(-1)
	}
}

// Suppress makes the bridge drop host callbacks for level until the guard
// is released. Guards nest; capture resumes when the last one is released.
func (m *Manager) Suppress(level Level) SuppressGuard {
	level &= LevelAll
	for _, b := range level.Levels() {
		m.suppress.counts[b.index()].Add(1)
	}
	return SuppressGuard{s: &m.suppress, level: level}
}

// Suppressed reports whether host capture is currently off for any level
// in l.
func (m *Manager) Suppressed(l Level) bool { return m.suppress.active(l) }

// HostSeverity is the severity reported by a host logging facility.
type HostSeverity int

const (
	HostLog HostSeverity = iota
	HostWarning
	HostAssert
	HostError
	HostException
)

// Level maps a host severity to the matching base level.
func (s HostSeverity) Level() Level {
	switch s {
	case HostWarning:
		return LevelWarning
	case HostAssert:
		return LevelAssert
	case HostError:
		return LevelError
	case HostException:
		return LevelException
	}
	return LevelLog
}

// HostLogFunc receives one host log event.
type HostLogFunc func(condition, trace string, severity HostSeverity)

// HostLogSource is a host logging facility that can push its events to a
// subscriber. Subscribe returns the function that ends the subscription.
type HostLogSource interface {
	Subscribe(fn HostLogFunc) (unsubscribe func())
}

// Bridge forwards host log events into a manager, skipping the events the
// manager itself caused while a SuppressGuard is held.
type Bridge struct {
	m   *Manager
	tag string

	mu     sync.Mutex
	cancel func()

	forwarded atomic.Uint64
	skipped   atomic.Uint64
}

// NewBridge returns a bridge tagging forwarded records with tag.
func NewBridge(m *Manager, tag string) *Bridge {
	if tag == "" {
		tag = "host"
	}
	return &Bridge{m: m, tag: tag}
}

// Attach subscribes to src, replacing any previous subscription.
func (b *Bridge) Attach(src HostLogSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	b.cancel = src.Subscribe(b.Receive)
}

// Detach ends the current subscription.
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// Receive handles one host event. The host trace is carried verbatim;
// error and exception events also go to the report pipeline. The level
// stays suppressed while the event is dispatched, so an appender that
// echoes into the host does not feed the event back.
func (b *Bridge) Receive(condition, trace string, severity HostSeverity) {
	l := severity.Level()
	if b.m.Suppressed(l) {
		b.skipped.Add(1)
		return
	}
	if !b.m.Levels().Contains(l) {
		return
	}
	guard := b.m.Suppress(l)
	defer guard.Release()
	r := b.m.newRecord(l, b.tag, condition, -1)
	r.Trace = trace
	b.forwarded.Add(1)
	b.m.deliver(r)
	if l.Intersects(LevelErrorAndAbove) {
		b.m.reporter.Enqueue(r)
	}
}

// Forwarded returns how many host events reached the appenders.
func (b *Bridge) Forwarded() uint64 { return b.forwarded.Load() }

// Skipped returns how many host events were dropped by suppression.
func (b *Bridge) Skipped() uint64 { return b.skipped.Load() }

// SlogSource is a slog.Handler that acts as a HostLogSource: records
// handled by it are pushed to the subscribed bridge.
type SlogSource struct {
	core  *slogCore
	attrs string
	group string
}

type slogCore struct {
	level slog.Leveler
	mu    sync.RWMutex
	fn    HostLogFunc
	seq   uint64
}

// NewSlogSource returns a handler accepting records at or above level.
func NewSlogSource(level slog.Leveler) *SlogSource {
	if level == nil {
		level = slog.LevelInfo
	}
	return &SlogSource{core: &slogCore{level: level}}
}

// Subscribe implements HostLogSource. Only one subscriber is active.
func (s *SlogSource) Subscribe(fn HostLogFunc) func() {
	c := s.core
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.fn = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		if c.seq == id {
			c.fn = nil
		}
		c.mu.Unlock()
	}
}

func (s *SlogSource) Enabled(_ context.Context, l slog.Level) bool {
	return l >= s.core.level.Level()
}

func (s *SlogSource) Handle(_ context.Context, r slog.Record) error {
	s.core.mu.RLock()
	fn := s.core.fn
	s.core.mu.RUnlock()
	if fn == nil {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(r.Message)
	sb.WriteString(s.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendSlogAttr(&sb, s.group, a)
		return true
	})
	fn(sb.String(), "", slogSeverity(r.Level))
	return nil
}

func (s *SlogSource) WithAttrs(attrs []slog.Attr) slog.Handler {
	var sb strings.Builder
	sb.WriteString(s.attrs)
	for _, a := range attrs {
		appendSlogAttr(&sb, s.group, a)
	}
	return &SlogSource{core: s.core, attrs: sb.String(), group: s.group}
}

func (s *SlogSource) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	g := name
	if s.group != "" {
		g = s.group + "." + name
	}
	return &SlogSource{core: s.core, attrs: s.attrs, group: g}
}

func appendSlogAttr(sb *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	sb.WriteByte(' ')
	if group != "" {
		sb.WriteString(group)
		sb.WriteByte('.')
	}
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(a.Value.Resolve().String())
}

func slogSeverity(l slog.Level) HostSeverity {
	switch {
	case l >= slog.LevelError+4:
		return HostException
	case l >= slog.LevelError:
		return HostError
	case l >= slog.LevelWarn:
		return HostWarning
	}
	return HostLog
}
