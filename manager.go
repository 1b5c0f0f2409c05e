// manager.go: Level mask, appender registry and record dispatch
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// Manager owns the global level mask, the registered appenders and the
// report pipeline. All methods are safe for concurrent use.
//
// The hot path (Gate, Log with a disabled level) reads atomics only.
type Manager struct {
	cfg   atomic.Pointer[Config]
	mask  atomic.Uint32
	loc   atomic.Pointer[time.Location]
	trace atomic.Pointer[tracePolicy]

	gates     atomic.Pointer[gateSet]
	factories atomic.Pointer[gateTable]
	factoryMu sync.Mutex

	// applyMu serializes ApplyConfig, AddAppender/RemoveAppender and Close.
	applyMu   sync.Mutex
	appenders []Appender
	snapshot  atomic.Pointer[[]Appender]
	goid      atomic.Bool

	listenersMu sync.Mutex
	listeners   map[int]func(old, new Level)
	listenerSeq int

	errs       *sinkHolder
	metrics    *Metrics
	clock      Clock
	ownedClock *cachedClock
	scheduler  Scheduler
	reporter   *Reporter
	env        *appenderEnv
	consoleOut io.Writer

	frame    atomic.Uint64
	seq      atomic.Uint64
	suppress suppression

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type tracePolicy struct {
	levels Level
	depth  int
}

// Option customizes a Manager at construction.
type Option func(*managerOptions)

type managerOptions struct {
	sink            ErrorSink
	clock           Clock
	metrics         *Metrics
	scheduler       Scheduler
	httpClient      *http.Client
	sentryTransport sentry.Transport
	consoleOut      io.Writer
}

// WithErrorSink routes internal failures to sink instead of stderr.
func WithErrorSink(sink ErrorSink) Option {
	return func(o *managerOptions) { o.sink = sink }
}

// WithClock replaces the cached wall clock, typically with a ManualClock.
func WithClock(c Clock) Option {
	return func(o *managerOptions) { o.clock = c }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *managerOptions) { o.metrics = m }
}

// WithScheduler overrides the scheduler resolved from the configuration.
func WithScheduler(s Scheduler) Option {
	return func(o *managerOptions) { o.scheduler = s }
}

// WithHTTPClient sets the client used by the HTTP report transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *managerOptions) { o.httpClient = c }
}

// WithSentryTransport sets the transport used by the Sentry report client.
func WithSentryTransport(t sentry.Transport) Option {
	return func(o *managerOptions) { o.sentryTransport = t }
}

// WithConsoleWriter makes the console destination write to w instead of
// the configured stream.
func WithConsoleWriter(w io.Writer) Option {
	return func(o *managerOptions) { o.consoleOut = w }
}

// New builds a manager from cfg (DefaultConfig when nil) and reconciles the
// built-in destinations. Only errors in the global fields fail
// construction; a destination whose section is invalid is left out and the
// problem goes to the error sink.
func New(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validateGlobal(); err != nil {
		return nil, err
	}
	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		errs:       &sinkHolder{sink: o.sink},
		metrics:    o.metrics,
		consoleOut: o.consoleOut,
		listeners:  make(map[int]func(old, new Level)),
	}
	m.errs.hook = func(string, error) { m.metrics.internalError() }

	m.clock = o.clock
	if m.clock == nil {
		m.ownedClock = newCachedClock()
		m.clock = m.ownedClock
	}
	m.scheduler = o.scheduler
	if m.scheduler == nil {
		m.scheduler = NewScheduler(resolveMode(cfg.Scheduling.Mode), cfg.Scheduling.TickBudget, m.errs.report)
	}
	m.env = &appenderEnv{errs: m.errs, metrics: m.metrics, scheduler: m.scheduler, clock: m.clock}

	m.reporter = newReporter(m.errs, m.metrics, m.scheduler)
	m.reporter.httpClient = o.httpClient
	m.reporter.sentryTransport = o.sentryTransport
	m.reporter.tail = m.memoryTail

	table := defaultGates
	m.factories.Store(&table)
	m.snapshot.Store(&[]Appender{})

	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	m.applyLocked(cfg)
	return m, nil
}

// Config returns the active configuration snapshot. Callers must not modify
// it; use Clone.
func (m *Manager) Config() *Config { return m.cfg.Load() }

// ApplyConfig validates the global fields of cfg and reconciles every
// destination against it. Applying the same configuration twice is a
// no-op. The scheduling mode is fixed at construction.
func (m *Manager) ApplyConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("styx: nil config")
	}
	if err := cfg.validateGlobal(); err != nil {
		return err
	}
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	if m.closed.Load() {
		return ErrClosed
	}
	m.applyLocked(cfg)
	return nil
}

func (m *Manager) applyLocked(cfg *Config) {
	m.cfg.Store(cfg)
	m.loc.Store(cfg.Timezone.Location())
	st := cfg.StackTrace
	tp := &tracePolicy{depth: st.MaxDepth}
	if st.Enabled {
		tp.levels = levelMask(st.MinLevel, LevelErrorAndAbove)
	}
	m.trace.Store(tp)
	m.SetLevels(levelMask(cfg.Levels, LevelAll))
	m.reconcile(cfg)
	m.reporter.configure(cfg.Report, cfg.Timezone)
}

// Levels returns the global enabled mask.
func (m *Manager) Levels() Level { return Level(m.mask.Load()) } // #nosec G115 -- stored from a Level

// SetLevels replaces the global mask and notifies listeners when it changed.
func (m *Manager) SetLevels(l Level) {
	l &= LevelAll
	old := Level(m.mask.Swap(uint32(l))) // #nosec G115 -- stored from a Level
	if old == l {
		return
	}
	m.listenersMu.Lock()
	fns := make([]func(old, new Level), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()
	for _, fn := range fns {
		m.notify(fn, old, l)
	}
}

func (m *Manager) notify(fn func(old, new Level), old, l Level) {
	defer func() {
		if p := recover(); p != nil {
			m.errs.report("levels.listener", newError(CategoryGeneric, "listener", "", panicError(p)))
		}
	}()
	fn(old, l)
}

// OnLevelsChanged registers fn to run after every mask change and returns
// the function that unregisters it.
func (m *Manager) OnLevelsChanged(fn func(old, new Level)) (cancel func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listenerSeq++
	id := m.listenerSeq
	m.listeners[id] = fn
	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

// Enabled reports whether every level in l is in the global mask.
func (m *Manager) Enabled(l Level) bool {
	return l != LevelNone && m.Levels().Contains(l)
}

// AddAppender attaches a, initializes it with the active configuration and
// registers it. Names are unique.
func (m *Manager) AddAppender(a Appender) error {
	if a == nil {
		return ErrNilAppender
	}
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	if m.closed.Load() {
		return ErrClosed
	}
	if m.lookup(a.Name()) != nil {
		return ErrDuplicateAppender
	}
	if at, ok := a.(attachable); ok {
		at.attach(m.env)
	}
	if err := a.Initialize(m.cfg.Load()); err != nil {
		return err
	}
	m.register(a)
	return nil
}

// RemoveAppender unregisters and disposes the named appender. It reports
// whether one was found.
func (m *Manager) RemoveAppender(name string) bool {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	return m.removeLocked(name)
}

func (m *Manager) removeLocked(name string) bool {
	for i, a := range m.appenders {
		if a.Name() != name {
			continue
		}
		m.appenders = append(m.appenders[:i:i], m.appenders[i+1:]...)
		m.publish()
		m.dispose(a)
		return true
	}
	return false
}

// ClearAppenders disposes every registered appender.
func (m *Manager) ClearAppenders() {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	old := m.appenders
	m.appenders = nil
	m.publish()
	for _, a := range old {
		m.dispose(a)
	}
}

func (m *Manager) dispose(a Appender) {
	defer func() {
		if p := recover(); p != nil {
			m.errs.report(a.Name()+".dispose", newError(CategoryLifecycle, "dispose", a.Name(), panicError(p)))
		}
	}()
	a.Dispose()
}

// Appender returns the registered appender named name, or nil.
func (m *Manager) Appender(name string) Appender {
	for _, a := range *m.snapshot.Load() {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// Appenders returns the registered appenders in registration order.
func (m *Manager) Appenders() []Appender {
	s := *m.snapshot.Load()
	out := make([]Appender, len(s))
	copy(out, s)
	return out
}

func (m *Manager) lookup(name string) Appender {
	for _, a := range m.appenders {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

func (m *Manager) register(a Appender) {
	m.appenders = append(m.appenders, a)
	m.publish()
}

type goroutineAware interface{ wantsGoroutine() bool }

// publish makes the registry visible to dispatch. applyMu must be held.
func (m *Manager) publish() {
	s := make([]Appender, len(m.appenders))
	copy(s, m.appenders)
	m.snapshot.Store(&s)
	goid := false
	for _, a := range s {
		if g, ok := a.(goroutineAware); ok && g.wantsGoroutine() {
			goid = true
		}
	}
	m.goid.Store(goid)
	m.metrics.setAppenders(len(s))
}

// Log dispatches body at a single level if the level is enabled. Critical
// levels are not sent to the report pipeline from here; use the gate.
func (m *Manager) Log(level Level, tag, body string) {
	if !level.IsSingle() || !m.Levels().Contains(level) {
		return
	}
	m.deliver(m.newRecord(level, tag, body, callerSkip))
}

// LogRecord dispatches a pre-built record. A zero Time is filled from the
// manager's clock and a zero Seq is assigned.
func (m *Manager) LogRecord(r Record) {
	if !r.Level.IsSingle() || !m.Levels().Contains(r.Level) {
		return
	}
	if r.Time.IsZero() {
		r.Time = m.now()
	}
	if r.Seq == 0 {
		r.Seq = m.seq.Add(1)
	}
	m.deliver(r)
}

func (m *Manager) now() time.Time {
	return m.clock.Now().In(m.loc.Load())
}

// newRecord stamps a record. skip is passed to captureTrace; a negative
// skip never captures.
func (m *Manager) newRecord(level Level, tag, body string, skip int) Record {
	r := Record{
		Level: level,
		Tag:   tag,
		Body:  body,
		Time:  m.now(),
		Frame: m.frame.Load(),
		Seq:   m.seq.Add(1),
	}
	if m.goid.Load() {
		r.Goroutine = goroutineID()
	}
	if tp := m.trace.Load(); skip >= 0 && tp.levels.Intersects(level) {
		r.Trace = captureTrace(tp.depth, skip)
	}
	return r
}

// deliver hands r to every registered appender. A panicking appender is
// reported and does not stop the others.
func (m *Manager) deliver(r Record) {
	m.metrics.recordDispatched(r.Level)
	for _, a := range *m.snapshot.Load() {
		m.deliverTo(a, r)
	}
}

func (m *Manager) deliverTo(a Appender, r Record) {
	defer func() {
		if p := recover(); p != nil {
			m.metrics.appenderError(a.Name())
			m.errs.report(a.Name()+".write", newError(CategoryGeneric, "write", a.Name(), panicError(p)))
		}
	}()
	a.WriteLog(r)
}

// formatFailure replaces a record whose format string could not be
// rendered with an error record describing the failure.
func (m *Manager) formatFailure(tag, detail string) {
	m.errs.report("format", newError(CategoryFormat, "format", "", errors.New(detail)))
	if m.Levels().Contains(LevelError) {
		m.deliver(m.newRecord(LevelError, tag, detail, -1))
	}
}

// Tick advances the host frame counter and, in cooperative mode, runs
// background work within the configured budget. It returns the number of
// worker steps taken.
func (m *Manager) Tick() int {
	m.frame.Add(1)
	return m.scheduler.Tick()
}

// Frame returns the current host frame counter.
func (m *Manager) Frame() uint64 { return m.frame.Load() }

// Mode returns the scheduling strategy chosen at construction.
func (m *Manager) Mode() SchedulingMode { return m.scheduler.Mode() }

// Reporter exposes the report pipeline.
func (m *Manager) Reporter() *Reporter { return m.reporter }

// SetErrorSink replaces the error sink; nil restores the stderr default.
func (m *Manager) SetErrorSink(sink ErrorSink) { m.errs.set(sink) }

// memoryTail returns the memory destination's content for report tails.
func (m *Manager) memoryTail() []byte {
	if mem, ok := m.Appender(MemoryAppenderName).(*MemoryAppender); ok {
		return mem.Snapshot()
	}
	return nil
}

// Flush waits for every appender and the report pipeline to drain, each
// bounded by timeout.
func (m *Manager) Flush(timeout time.Duration) error {
	var errs []error
	for _, a := range *m.snapshot.Load() {
		if err := a.Flush(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.reporter.Flush(timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close flushes and disposes every appender, stops the report pipeline and
// the scheduler, and releases the clock. Later calls return the first
// result. Logging after Close is a no-op.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.applyMu.Lock()
		defer m.applyMu.Unlock()
		m.closed.Store(true)
		timeout := m.cfg.Load().Scheduling.JoinTimeout
		if timeout <= 0 {
			timeout = time.Second
		}
		var errs []error
		if err := m.reporter.Flush(timeout); err != nil {
			errs = append(errs, err)
		}
		m.SetLevels(LevelNone)
		m.clearLocked()
		m.reporter.close()
		if err := m.scheduler.Close(timeout); err != nil {
			errs = append(errs, err)
		}
		if m.ownedClock != nil {
			m.ownedClock.stop()
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}
