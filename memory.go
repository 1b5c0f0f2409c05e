// memory.go: In-memory tail destination
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

const defaultMemoryCapacity = 64 << 10

// MemoryAppender keeps the most recent formatted output in a fixed-size byte
// ring. The oldest bytes are evicted first, so Snapshot may start in the
// middle of a line.
type MemoryAppender struct {
	base

	mu      sync.Mutex
	ring    *ringbuffer.RingBuffer
	scratch []byte
	buf     []byte
	format  lineFormat
	cfg     MemoryConfig
	tz      TimezoneConfig
}

// NewMemoryAppender returns an uninitialized memory appender.
func NewMemoryAppender() *MemoryAppender {
	m := &MemoryAppender{}
	m.initBase(MemoryAppenderName)
	return m
}

// Initialize applies cfg.Memory. A capacity change discards the content.
func (m *MemoryAppender) Initialize(cfg *Config) error {
	if m.disposed.Load() {
		return nil
	}
	mc := cfg.Memory
	m.SetLevels(levelMask(mc.Levels, LevelAll))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized.Load() && mc == m.cfg && cfg.Timezone == m.tz {
		return nil
	}
	capacity := int64(defaultMemoryCapacity)
	if mc.Capacity != "" {
		c, err := ParseSize(mc.Capacity)
		if err != nil {
			return newError(CategoryConfiguration, "capacity", m.name, err)
		}
		if c > 0 {
			capacity = c
		}
	}
	if m.ring == nil || int64(m.ring.Capacity()) != capacity {
		m.ring = ringbuffer.New(int(capacity))
	}
	m.format = lineFormat{loc: cfg.Timezone.Location()}
	m.cfg, m.tz = mc, cfg.Timezone
	m.initialized.Store(true)
	return nil
}

// WriteLog appends the formatted record, evicting old bytes as needed.
func (m *MemoryAppender) WriteLog(r Record) {
	if !m.admit(&r) {
		return
	}
	defer m.recoverTo("write")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ring == nil {
		return
	}
	m.buf = m.format.appendRecord(m.buf[:0], &r)
	line := m.buf
	if c := m.ring.Capacity(); len(line) > c {
		line = line[len(line)-c:]
	}
	if need := len(line) - m.ring.Free(); need > 0 {
		m.discard(need)
	}
	if _, err := m.ring.Write(line); err != nil {
		m.reportError(CategoryGeneric, "write", err)
		return
	}
	m.environment().metrics.appenderWrite(m.name)
}

func (m *MemoryAppender) discard(n int) {
	if cap(m.scratch) < n {
		m.scratch = make([]byte, n)
	}
	_, _ = m.ring.Read(m.scratch[:n])
}

// Snapshot returns a copy of the retained bytes, oldest first.
func (m *MemoryAppender) Snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ring == nil || m.ring.Length() == 0 {
		return nil
	}
	out := make([]byte, m.ring.Length())
	n, _ := m.ring.Read(out)
	out = out[:n]
	_, _ = m.ring.Write(out)
	return out
}

// Reset discards the retained bytes.
func (m *MemoryAppender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ring != nil {
		m.ring.Reset()
	}
}

// Flush is a no-op.
func (m *MemoryAppender) Flush(time.Duration) error { return nil }

// Dispose releases the ring.
func (m *MemoryAppender) Dispose() {
	if m.disposed.Swap(true) {
		return
	}
	m.mu.Lock()
	m.ring = nil
	m.mu.Unlock()
}
