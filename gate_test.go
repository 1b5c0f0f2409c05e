// gate_test.go: Conditional gates, factories and the critical path
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_DisabledLevelSkipsArguments(t *testing.T) {
	cfg := testConfig(t)
	cfg.Levels = "error+"
	m, _ := newTestManager(t, cfg)

	evaluated := false
	expensive := func() string {
		evaluated = true
		return "dump"
	}
	if g := m.Gate(LevelLog); g != nil {
		g.Log("net", expensive())
	}
	assert.False(t, evaluated)

	assert.Nil(t, m.Gate(LevelLog))
	assert.Nil(t, m.Gate(LevelWarning))
	assert.NotNil(t, m.Gate(LevelError))
	assert.Nil(t, m.Gate(LevelErrorAndAbove), "composite masks have no gate")
	assert.Nil(t, (*Manager)(nil).Gate(LevelError))

	allocs := testing.AllocsPerRun(100, func() {
		if g := m.Gate(LevelLog); g != nil {
			g.Log("net", "never")
		}
	})
	assert.Zero(t, allocs)
}

func TestGate_CachedUntilMaskChanges(t *testing.T) {
	cfg := testConfig(t)
	m, _ := newTestManager(t, cfg)

	g1 := m.Gate(LevelWarning)
	require.NotNil(t, g1)
	assert.Same(t, g1, m.Gate(LevelWarning))
	assert.Equal(t, LevelWarning, g1.Level())

	m.SetLevels(LevelErrorAndAbove)
	assert.Nil(t, m.Gate(LevelWarning))
	m.SetLevels(LevelAll)
	assert.NotNil(t, m.Gate(LevelWarning))
}

func TestGate_DefaultKinds(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t))
	for _, l := range []Level{LevelLog, LevelWarning, LevelAssert} {
		_, ok := m.Gate(l).(*basicGate)
		assert.True(t, ok, l.String())
	}
	for _, l := range []Level{LevelError, LevelException} {
		_, ok := m.Gate(l).(*criticalGate)
		assert.True(t, ok, l.String())
	}
}

type taggingGate struct {
	Gate
}

func (g taggingGate) Log(tag, body string) { g.Gate.Log("custom/"+tag, body) }

func TestGate_RegisterFactory(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t))
	capture := newCapture("capture")
	require.NoError(t, m.AddAppender(capture))

	before := m.Gate(LevelWarning)
	require.NoError(t, m.RegisterGate(LevelWarning, func(m *Manager, l Level) Gate {
		return taggingGate{Gate: NewBasicGate(m, l)}
	}))
	after := m.Gate(LevelWarning)
	_, wrapped := after.(taggingGate)
	require.True(t, wrapped)
	after.Log("net", "wrapped")
	before.Log("net", "old handle still works")

	recs := capture.records()
	require.Len(t, recs, 2)
	assert.Equal(t, "custom/net", recs[0].Tag)
	assert.Equal(t, "net", recs[1].Tag)

	assert.ErrorIs(t, m.RegisterGate(LevelWarning, nil), ErrNilFactory)
	assert.ErrorIs(t, m.RegisterGate(LevelAll, NewBasicGate), ErrInvalidLevel)
	assert.ErrorIs(t, m.RegisterGate(LevelNone, NewBasicGate), ErrInvalidLevel)
}

func TestGate_Logf(t *testing.T) {
	m, rec := newTestManager(t, testConfig(t))
	capture := newCapture("capture")
	require.NoError(t, m.AddAppender(capture))

	m.Gate(LevelLog).Logf("inv", "%d items in %s", 3, "bag")
	require.Equal(t, []string{"3 items in bag"}, capture.bodies())

	m.Gate(LevelLog).Logf("inv", "%d items", "three")
	recs := capture.records()
	require.Len(t, recs, 2)
	assert.Equal(t, LevelError, recs[1].Level)
	assert.Contains(t, recs[1].Body, "%d items")
	assert.True(t, rec.has("format"))
	assert.Equal(t, CategoryFormat, CategoryOf(rec.errs[0]))
}

func TestGate_LogfArgumentContainingMarker(t *testing.T) {
	m, rec := newTestManager(t, testConfig(t))
	capture := newCapture("capture")
	require.NoError(t, m.AddAppender(capture))

	m.Gate(LevelLog).Logf("net", "progress %s", "100%!")
	recs := capture.records()
	require.Len(t, recs, 1)
	assert.Equal(t, LevelLog, recs[0].Level)
	assert.Equal(t, "progress 100%!", recs[0].Body)
	assert.Zero(t, rec.count())
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name   string
		format string
		args   []any
		want   string
		ok     bool
	}{
		{"plain", "%d items in %s", []any{3, "bag"}, "3 items in bag", true},
		{"marker in string arg", "got %q", []any{"%!d(int=1)"}, `got "%!d(int=1)"`, true},
		{"marker in stringer", "%v", []any{errString("50%!")}, "50%!", true},
		{"literal percent bang", "100%%!", nil, "100%!", true},
		{"star width", "[%*d]", []any{4, 7}, "[   7]", true},
		{"type verb", "%T", []any{"x"}, "string", true},
		{"wrong type", "%d items", []any{"three"}, "", false},
		{"wrong type int", "%s", []any{3}, "", false},
		{"nil for string verb", "%s", []any{nil}, "", false},
		{"missing arg", "%s and %s", []any{"a"}, "", false},
		{"extra arg", "%s", []any{"a", "b"}, "", false},
		{"extra arg with marker", "%s", []any{"a", "b%!"}, "", false},
		{"panicking stringer", "%v", []any{panicStringer{}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := formatMessage(tt.format, tt.args)
			require.Equal(t, tt.ok, ok, msg)
			if tt.ok {
				assert.Equal(t, tt.want, msg)
			} else {
				assert.Contains(t, msg, tt.format)
			}
		})
	}
}

type errString string

func (e errString) String() string { return string(e) }

type panicStringer struct{}

func (panicStringer) String() string { panic("boom") }

func TestGate_TraceStartsAtCaller(t *testing.T) {
	cfg := testConfig(t)
	m, _ := newTestManager(t, cfg)
	capture := newCapture("capture")
	require.NoError(t, m.AddAppender(capture))

	m.Gate(LevelLog).Log("t", "no trace below error")
	m.Gate(LevelError).Log("t", "traced")

	recs := capture.records()
	require.Len(t, recs, 2)
	assert.False(t, recs[0].HasTrace())
	require.True(t, recs[1].HasTrace())
	first, _, _ := strings.Cut(recs[1].Trace, "\n")
	assert.True(t, strings.HasPrefix(first, "styx.TestGate_TraceStartsAtCaller"), first)
	assert.Contains(t, first, "gate_test.go:")
}

func TestGate_CriticalHoldsSuppressionWhileDispatching(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t))
	var seen []bool
	probe := &probeAppender{fn: func(Record) { seen = append(seen, m.Suppressed(LevelError)) }}
	probe.initBase("probe")
	require.NoError(t, m.AddAppender(probe))

	m.Gate(LevelError).Log("t", "critical")
	m.Gate(LevelWarning).Log("t", "basic")
	assert.Equal(t, []bool{true, false}, seen)
	assert.False(t, m.Suppressed(LevelError))
}

type probeAppender struct {
	base
	fn func(Record)
}

func (p *probeAppender) Initialize(*Config) error {
	p.initialized.Store(true)
	return nil
}
func (p *probeAppender) WriteLog(r Record)         { p.fn(r) }
func (p *probeAppender) Flush(time.Duration) error { return nil }
func (p *probeAppender) Dispose()                  {}

func TestScenario_ErrorOnlyReachesFileAndReport(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, "http://reports.test/ingest",
		func(req *http.Request) (*http.Response, error) {
			b, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			mu.Lock()
			bodies = append(bodies, string(b))
			mu.Unlock()
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	cfg := testConfig(t)
	cfg.Levels = "error"
	cfg.File.Enabled = true
	cfg.Report.Enabled = true
	cfg.Report.Endpoint = "http://reports.test/ingest"
	m, rec := newTestManager(t, cfg, WithHTTPClient(&http.Client{Transport: mt}))

	assert.Nil(t, m.Gate(LevelLog))
	g := m.Gate(LevelError)
	require.NotNil(t, g)
	g.Log("storage", "disk failure")
	require.NoError(t, m.Flush(2*time.Second))

	fa := m.Appender(FileAppenderName).(*FileAppender)
	recs := parsedRecords(t, fa.Path(), "")
	require.Len(t, recs, 1)
	assert.Equal(t, LevelError, recs[0].Level)
	assert.Equal(t, "storage", recs[0].Tag)
	assert.Equal(t, "disk failure", recs[0].Body)

	assert.Equal(t, 1, mt.GetTotalCallCount())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], `"msg":"disk failure"`)
	assert.Contains(t, bodies[0], `"extData":{`)
	assert.Zero(t, rec.count())
}
