// helpers_test.go: Shared fixtures for the package tests
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

// sinkRecorder collects everything sent to the error sink.
type sinkRecorder struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (s *sinkRecorder) sink(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	s.errs = append(s.errs, err)
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

func (s *sinkRecorder) has(op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.ops {
		if o == op {
			return true
		}
	}
	return false
}

// testConfig returns defaults with the console off and the file directory
// pointing at a fresh temporary directory.
func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Console.Enabled = false
	cfg.Scheduling.Mode = "goroutine"
	cfg.File.Directory = t.TempDir()
	cfg.File.Template = "test_{date}.log"
	return cfg
}

// newTestManager builds a manager with a manual clock and a recording sink
// and closes it when the test ends.
func newTestManager(t *testing.T, cfg *Config, opts ...Option) (*Manager, *sinkRecorder) {
	t.Helper()
	rec := &sinkRecorder{}
	all := append([]Option{
		WithErrorSink(rec.sink),
		WithClock(NewManualClock(testTime)),
	}, opts...)
	m, err := New(cfg, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, rec
}

// readLines returns the non-empty lines of the file at path.
func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path) // #nosec G304 -- test file
	require.NoError(t, err)
	var out []string
	for _, l := range strings.Split(string(data), "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// captureAppender keeps every admitted record and panics on a chosen body.
type captureAppender struct {
	base
	mu      sync.Mutex
	recs    []Record
	panicOn string
}

func newCapture(name string) *captureAppender {
	c := &captureAppender{}
	c.initBase(name)
	return c
}

func (c *captureAppender) Initialize(*Config) error {
	c.initialized.Store(true)
	return nil
}

func (c *captureAppender) WriteLog(r Record) {
	if !c.admit(&r) {
		return
	}
	if c.panicOn != "" && r.Body == c.panicOn {
		panic("capture: " + r.Body)
	}
	c.mu.Lock()
	c.recs = append(c.recs, r)
	c.mu.Unlock()
}

func (c *captureAppender) Flush(time.Duration) error { return nil }

func (c *captureAppender) Dispose() { c.disposed.Store(true) }

func (c *captureAppender) records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.recs))
	copy(out, c.recs)
	return out
}

func (c *captureAppender) bodies() []string {
	var out []string
	for _, r := range c.records() {
		out = append(out, r.Body)
	}
	return out
}
