// bridge_test.go: Host log capture and suppression scopes
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost is a host logging facility with a single callback slot.
type fakeHost struct {
	mu sync.Mutex
	fn HostLogFunc
}

func (h *fakeHost) Subscribe(fn HostLogFunc) func() {
	h.mu.Lock()
	h.fn = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.fn = nil
		h.mu.Unlock()
	}
}

func (h *fakeHost) emit(condition, trace string, sev HostSeverity) {
	h.mu.Lock()
	fn := h.fn
	h.mu.Unlock()
	if fn != nil {
		fn(condition, trace, sev)
	}
}

// hostEcho writes every error it receives back into the host log, the way
// a host console raises its own log callback.
type hostEcho struct {
	*captureAppender
	host *fakeHost
}

func (e hostEcho) WriteLog(r Record) {
	e.captureAppender.WriteLog(r)
	if r.Level == LevelError {
		e.host.emit(r.Body, "", HostError)
	}
}

func TestSuppressGuard_Nesting(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t))
	outer := m.Suppress(LevelError | LevelException)
	inner := m.Suppress(LevelError)
	assert.True(t, m.Suppressed(LevelError))
	assert.True(t, m.Suppressed(LevelException))
	assert.False(t, m.Suppressed(LevelLog))

	inner.Release()
	inner.Release()
	assert.True(t, m.Suppressed(LevelError))
	outer.Release()
	assert.False(t, m.Suppressed(LevelError|LevelException))

	var zero SuppressGuard
	zero.Release()
}

func TestSuppressGuard_ReleasedAfterAppenderPanic(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t))
	bad := newCapture("bad")
	bad.panicOn = "boom"
	require.NoError(t, m.AddAppender(bad))

	m.Gate(LevelError).Log("t", "boom")
	assert.False(t, m.Suppressed(LevelError))
}

func TestBridge_SkipsOwnOutput(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t))
	host := &fakeHost{}
	echo := hostEcho{captureAppender: newCapture("echo"), host: host}
	require.NoError(t, m.AddAppender(echo))
	b := NewBridge(m, "")
	b.Attach(host)

	m.Gate(LevelError).Log("game", "null reference")
	assert.Equal(t, uint64(1), b.Skipped())
	assert.Equal(t, uint64(0), b.Forwarded())

	host.emit("shader failed", "Renderer.cs:12", HostError)
	assert.Equal(t, uint64(1), b.Forwarded())
	assert.Equal(t, uint64(2), b.Skipped())

	host.emit("loaded", "", HostLog)
	recs := echo.records()
	require.Len(t, recs, 3)
	assert.Equal(t, "null reference", recs[0].Body)
	assert.Equal(t, "host", recs[1].Tag)
	assert.Equal(t, "Renderer.cs:12", recs[1].Trace)
	assert.Equal(t, LevelLog, recs[2].Level)

	m.SetLevels(LevelErrorAndAbove)
	host.emit("filtered", "", HostWarning)
	assert.Len(t, echo.records(), 3)

	b.Detach()
	host.emit("after detach", "", HostError)
	assert.Len(t, echo.records(), 3)
	assert.Equal(t, uint64(2), b.Forwarded())
}

func TestHostSeverity_Level(t *testing.T) {
	assert.Equal(t, LevelLog, HostLog.Level())
	assert.Equal(t, LevelWarning, HostWarning.Level())
	assert.Equal(t, LevelAssert, HostAssert.Level())
	assert.Equal(t, LevelError, HostError.Level())
	assert.Equal(t, LevelException, HostException.Level())
	assert.Equal(t, LevelLog, HostSeverity(99).Level())
}

func TestSlogSource(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t))
	c := newCapture("capture")
	require.NoError(t, m.AddAppender(c))
	src := NewSlogSource(slog.LevelInfo)
	b := NewBridge(m, "slog")
	b.Attach(src)

	logger := slog.New(src)
	logger.Debug("hidden")
	logger.Info("started", "port", 8080)
	logger.WithGroup("db").With("pool", 4).Warn("slow", "ms", 250)
	logger.Error("failed")
	logger.Log(context.Background(), slog.LevelError+4, "fatal")

	recs := c.records()
	require.Len(t, recs, 4)
	assert.Equal(t, "started port=8080", recs[0].Body)
	assert.Equal(t, LevelLog, recs[0].Level)
	assert.Equal(t, "slow db.pool=4 db.ms=250", recs[1].Body)
	assert.Equal(t, LevelWarning, recs[1].Level)
	assert.Equal(t, LevelError, recs[2].Level)
	assert.Equal(t, LevelException, recs[3].Level)
	assert.Equal(t, "slog", recs[3].Tag)

	b.Detach()
	logger.Error("gone")
	assert.Len(t, c.records(), 4)
	assert.Equal(t, uint64(4), b.Forwarded())
}

func TestSlogSource_ResubscribeKeepsNewest(t *testing.T) {
	src := NewSlogSource(nil)
	var got []string
	cancelOld := src.Subscribe(func(c, _ string, _ HostSeverity) { got = append(got, "old:"+c) })
	src.Subscribe(func(c, _ string, _ HostSeverity) { got = append(got, "new:"+c) })
	cancelOld()
	slog.New(src).Info("x")
	assert.Equal(t, []string{"new:x"}, got)
	assert.True(t, src.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, src.Enabled(context.Background(), slog.LevelDebug))
}
