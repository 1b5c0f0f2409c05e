// manager_test.go: Registry, reconciliation, dispatch and lifecycle
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func names(as []Appender) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Name())
	}
	return out
}

func TestNew_RejectsInvalidGlobalFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Levels = "chatty"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Equal(t, CategoryConfiguration, CategoryOf(err))

	cfg = DefaultConfig()
	cfg.Timezone.Mode = "local"
	_, err = New(cfg)
	require.Error(t, err)
}

func TestNew_DefaultsWriteToConsole(t *testing.T) {
	var out syncBuffer
	m, err := New(nil, WithConsoleWriter(&out), WithClock(NewManualClock(testTime)))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, []string{ConsoleAppenderName}, names(m.Appenders()))
	assert.Equal(t, LevelAll, m.Levels())
	m.Log(LevelWarning, "boot", "hello")
	assert.Equal(t, "09:26:53.589[WRN][F:0][boot] hello\n", out.String())
}

func TestReconcile_Idempotent(t *testing.T) {
	var out syncBuffer
	cfg := testConfig(t)
	cfg.Console.Enabled = true
	cfg.File.Enabled = true
	cfg.Memory.Enabled = true
	m, rec := newTestManager(t, cfg, WithConsoleWriter(&out))

	first := m.Appenders()
	require.Equal(t, []string{ConsoleAppenderName, FileAppenderName, MemoryAppenderName}, names(first))

	require.NoError(t, m.ApplyConfig(cfg))
	require.NoError(t, m.ApplyConfig(cfg.Clone()))
	second := m.Appenders()
	require.Len(t, second, 3)
	for i := range first {
		assert.Same(t, first[i], second[i])
	}

	next := cfg.Clone()
	next.Memory.Enabled = false
	next.Console.Levels = "error+"
	require.NoError(t, m.ApplyConfig(next))
	assert.Equal(t, []string{ConsoleAppenderName, FileAppenderName}, names(m.Appenders()))
	assert.Same(t, first[0], m.Appender(ConsoleAppenderName))
	assert.Equal(t, LevelErrorAndAbove, m.Appender(ConsoleAppenderName).Levels())
	assert.True(t, first[2].(*MemoryAppender).disposed.Load())

	require.NoError(t, m.ApplyConfig(cfg))
	mem := m.Appender(MemoryAppenderName)
	require.NotNil(t, mem)
	assert.NotSame(t, first[2], mem)
	assert.Zero(t, rec.count())
}

func TestReconcile_InvalidDestinationIsReported(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.Enabled = true
	cfg.Memory.Capacity = "lots"
	m, rec := newTestManager(t, cfg)
	assert.Nil(t, m.Appender(MemoryAppenderName))
	assert.True(t, rec.has("memory.initialize"))

	cfg = cfg.Clone()
	cfg.Memory.Capacity = "1KB"
	require.NoError(t, m.ApplyConfig(cfg))
	assert.NotNil(t, m.Appender(MemoryAppenderName))
}

func TestManager_AddRemoveAppender(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t))
	c := newCapture("capture")
	require.NoError(t, m.AddAppender(c))
	assert.ErrorIs(t, m.AddAppender(newCapture("capture")), ErrDuplicateAppender)
	assert.ErrorIs(t, m.AddAppender(nil), ErrNilAppender)
	assert.Same(t, c, m.Appender("capture"))

	m.Log(LevelLog, "a", "one")
	assert.True(t, m.RemoveAppender("capture"))
	assert.False(t, m.RemoveAppender("capture"))
	assert.True(t, c.disposed.Load())
	m.Log(LevelLog, "a", "two")
	assert.Equal(t, []string{"one"}, c.bodies())

	// Manually added appenders survive reconciliation.
	c2 := newCapture("extra")
	require.NoError(t, m.AddAppender(c2))
	require.NoError(t, m.ApplyConfig(m.Config().Clone()))
	assert.Same(t, c2, m.Appender("extra"))

	m.ClearAppenders()
	assert.Empty(t, m.Appenders())
	assert.True(t, c2.disposed.Load())
}

func TestManager_PanickingAppenderIsIsolated(t *testing.T) {
	m, rec := newTestManager(t, testConfig(t))
	bad := newCapture("bad")
	bad.panicOn = "explode"
	good := newCapture("good")
	require.NoError(t, m.AddAppender(bad))
	require.NoError(t, m.AddAppender(good))

	m.Log(LevelLog, "t", "explode")
	m.Log(LevelLog, "t", "fine")
	assert.Equal(t, []string{"explode", "fine"}, good.bodies())
	assert.Equal(t, []string{"fine"}, bad.bodies())
	assert.True(t, rec.has("bad.write"))
}

func TestManager_LevelMaskAndListeners(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t))
	c := newCapture("capture")
	require.NoError(t, m.AddAppender(c))

	type change struct{ old, new Level }
	var changes []change
	cancel := m.OnLevelsChanged(func(o, n Level) { changes = append(changes, change{o, n}) })

	m.SetLevels(LevelWarningAndAbove)
	m.SetLevels(LevelWarningAndAbove)
	m.Log(LevelLog, "t", "filtered")
	m.Log(LevelWarning, "t", "kept")
	m.Log(LevelWarningAndAbove, "t", "composite ignored")
	assert.True(t, m.Enabled(LevelError))
	assert.False(t, m.Enabled(LevelLog))
	assert.False(t, m.Enabled(LevelNone))

	cancel()
	m.SetLevels(LevelAll)
	assert.Equal(t, []change{{LevelAll, LevelWarningAndAbove}}, changes)
	assert.Equal(t, []string{"kept"}, c.bodies())
}

func TestManager_RecordStamping(t *testing.T) {
	clock := NewManualClock(testTime)
	cfg := testConfig(t)
	cfg.Timezone = TimezoneConfig{Mode: "fixed", Offset: -5 * time.Hour}
	m, _ := newTestManager(t, cfg, WithClock(clock))
	c := newCapture("capture")
	require.NoError(t, m.AddAppender(c))

	m.Log(LevelLog, "t", "a")
	m.Tick()
	m.Tick()
	clock.Advance(time.Second)
	m.Log(LevelLog, "t", "b")
	m.LogRecord(Record{Level: LevelAssert, Tag: "pre", Body: "built"})
	m.LogRecord(Record{Level: LevelAll, Body: "not single"})

	recs := c.records()
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(0), recs[0].Frame)
	assert.Equal(t, uint64(2), recs[1].Frame)
	assert.Equal(t, uint64(2), m.Frame())
	assert.Less(t, recs[0].Seq, recs[1].Seq)
	assert.Less(t, recs[1].Seq, recs[2].Seq)
	assert.True(t, recs[1].Time.Equal(testTime.Add(time.Second)))
	assert.Equal(t, "UTC-05:00", recs[1].Time.Location().String())
	assert.False(t, recs[2].Time.IsZero())
	assert.Zero(t, recs[0].Goroutine)
}

func TestManager_CloseLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig(t)
	cfg.File.Enabled = true
	cfg.File.FlushMode = "batch"
	cfg.Memory.Enabled = true
	m, err := New(cfg, WithErrorSink(func(string, error) {}))
	require.NoError(t, err)
	fa := m.Appender(FileAppenderName).(*FileAppender)
	for i := 0; i < 100; i++ {
		m.Log(LevelLog, "shutdown", "pending")
	}
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Equal(t, "closed", fa.State())
	assert.Len(t, parsedRecords(t, fa.Path(), ""), 100)
	assert.Empty(t, m.Appenders())
	assert.Nil(t, m.Gate(LevelError))
	assert.ErrorIs(t, m.AddAppender(newCapture("late")), ErrClosed)
	assert.ErrorIs(t, m.ApplyConfig(cfg), ErrClosed)
	m.Log(LevelError, "late", "ignored")
}

func TestGlobal_InitAndShutdown(t *testing.T) {
	require.Nil(t, Default())
	assert.Nil(t, Default().Gate(LevelError))

	cfg := testConfig(t)
	m, err := Init(cfg, WithClock(NewManualClock(testTime)))
	require.NoError(t, err)
	assert.Same(t, m, Default())
	_, err = Init(cfg)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	require.NoError(t, Shutdown())
	assert.Nil(t, Default())
	require.NoError(t, Shutdown())

	other, err := New(cfg, WithClock(NewManualClock(testTime)))
	require.NoError(t, err)
	defer other.Close()
	assert.Nil(t, SetDefault(other))
	assert.Same(t, other, SetDefault(nil))
}

func TestManager_ConcurrentDispatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.File.Enabled = true
	cfg.File.FlushMode = "batch"
	cfg.StackTrace.Enabled = false
	m, rec := newTestManager(t, cfg)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if g := m.Gate(LevelLog); g != nil {
					g.Log("worker", "tick")
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			m.SetLevels(LevelAll)
			assert.NoError(t, m.ApplyConfig(cfg))
		}
	}()
	wg.Wait()
	require.NoError(t, m.Flush(10*time.Second))

	fa := m.Appender(FileAppenderName).(*FileAppender)
	recs := parsedRecords(t, fa.Path(), "")
	assert.Len(t, recs, 400)
	for _, r := range recs {
		assert.True(t, strings.HasPrefix(r.Body, "tick"))
	}
	assert.Zero(t, rec.count())
}
