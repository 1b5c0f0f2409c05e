// report.go: Best-effort remote report pipeline
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/patrickmn/go-cache"
)

const (
	defaultReportQueue   = 256
	defaultReportTimeout = 5 * time.Second
)

// Reporter drains a bounded queue of critical records to a remote
// transport from a single worker. Delivery is best effort: a failed send is
// reported to the error sink and the entry is discarded.
type Reporter struct {
	errs      *sinkHolder
	metrics   *Metrics
	scheduler Scheduler

	enabled  atomic.Bool
	minLevel atomic.Uint32
	queue    *Queue[Record]
	sending  atomic.Int32
	consume  sync.Mutex

	// mu serializes configuration; the worker never takes it and reads
	// the active transport from state instead.
	mu       sync.Mutex
	cfg      ReportConfig
	tz       TimezoneConfig
	attached bool
	worker   *reportWorker
	state    atomic.Pointer[reportState]

	extOnce sync.Once
	ext     map[string]string

	// tail supplies recent output for transports that attach it.
	tail func() []byte

	httpClient      *http.Client
	sentryTransport sentry.Transport
}

type reportState struct {
	transport  ReportTransport
	timeout    time.Duration
	attachTail bool
	dedup      *cache.Cache
}

type reportWorker struct{ r *Reporter }

func newReporter(errs *sinkHolder, metrics *Metrics, scheduler Scheduler) *Reporter {
	r := &Reporter{
		errs:      errs,
		metrics:   metrics,
		scheduler: scheduler,
		queue:     NewQueue[Record](defaultReportQueue, DropOldest),
	}
	r.worker = &reportWorker{r: r}
	return r
}

// Enabled reports whether entries are currently accepted.
func (r *Reporter) Enabled() bool { return r.enabled.Load() }

// Pending returns the number of queued entries.
func (r *Reporter) Pending() int { return r.queue.Len() }

// Dropped returns how many entries the queue discarded.
func (r *Reporter) Dropped() uint64 { return r.queue.Dropped() }

// configure applies cfg. Unchanged configuration is a no-op. A transport
// that cannot be built disables reporting and is reported.
func (r *Reporter) configure(cfg ReportConfig, tz TimezoneConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Load() != nil && r.cfg.equal(cfg) && r.tz == tz {
		return
	}
	r.cfg, r.tz = cfg, tz

	if !cfg.Enabled {
		r.disableLocked()
		return
	}
	r.extOnce.Do(func() { r.ext = collectExtData(cfg.ExtData, tz) })

	transport, err := r.buildTransport(cfg)
	if err != nil {
		r.errs.report("report.configure", err)
		r.disableLocked()
		return
	}
	st := &reportState{
		transport:  transport,
		timeout:    cfg.Timeout,
		attachTail: cfg.AttachTail,
	}
	if st.timeout <= 0 {
		st.timeout = defaultReportTimeout
	}
	if cfg.DedupWindow > 0 {
		st.dedup = cache.New(cfg.DedupWindow, 2*cfg.DedupWindow)
	}
	if old := r.state.Swap(st); old != nil {
		old.transport.Close(time.Second)
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = defaultReportQueue
	}
	r.queue.Resize(size, DropOldest)
	r.minLevel.Store(uint32(levelMask(cfg.MinLevel, LevelErrorAndAbove)))
	if !r.attached {
		r.scheduler.Attach(r.worker)
		r.attached = true
	}
	r.enabled.Store(true)
}

func (r *Reporter) buildTransport(cfg ReportConfig) (ReportTransport, error) {
	if cfg.Transport == "sentry" {
		return NewSentryTransport(cfg.DSN, r.sentryTransport)
	}
	if cfg.Endpoint == "" {
		return nil, newError(CategoryConfiguration, "endpoint", "", errEmptyEndpoint)
	}
	client := r.httpClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultReportTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return NewHTTPTransport(client, cfg.Endpoint, cfg.Compress), nil
}

func (r *Reporter) disableLocked() {
	r.enabled.Store(false)
	if r.attached {
		if err := r.scheduler.Detach(r.worker, time.Second); err != nil {
			r.errs.report("report.detach", err)
		}
		r.attached = false
	}
	r.queue.Clear()
	if old := r.state.Swap(nil); old != nil {
		old.transport.Close(time.Second)
	}
}

// Enqueue queues rec if reporting is on and rec passes the minimum level.
// It reports whether rec was queued.
func (r *Reporter) Enqueue(rec Record) bool {
	if !r.enabled.Load() || !Level(r.minLevel.Load()).Intersects(rec.Level) { // #nosec G115 -- stored from a Level
		return false
	}
	st := r.state.Load()
	if st == nil {
		return false
	}
	if dedup := st.dedup; dedup != nil {
		key := rec.Level.ShortName() + "|" + rec.Tag + "|" + rec.Body
		if err := dedup.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
			r.metrics.report(reportSuppressed)
			return false
		}
	}
	if !r.queue.Push(rec) {
		r.metrics.report(reportDropped)
	}
	return true
}

// sendNext delivers one entry. It reports false when the queue was empty.
func (r *Reporter) sendNext() bool {
	r.consume.Lock()
	defer r.consume.Unlock()
	r.sending.Store(1)
	defer r.sending.Store(0)
	rec, ok := r.queue.Pop()
	if !ok {
		return false
	}
	r.send(&rec)
	return true
}

func (r *Reporter) send(rec *Record) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.report(reportFailed)
			r.errs.report("report.send", newError(CategoryGeneric, "send", "", panicError(p)))
		}
	}()
	st := r.state.Load()
	if st == nil {
		return
	}
	entry := ReportEntry{Record: *rec, ExtData: r.ext}
	if st.attachTail && r.tail != nil {
		entry.Tail = r.tail()
	}
	ctx, cancel := context.WithTimeout(context.Background(), st.timeout)
	defer cancel()
	if err := st.transport.Send(ctx, &entry); err != nil {
		r.metrics.report(reportFailed)
		r.errs.report("report.send", err)
		return
	}
	r.metrics.report(reportSent)
}

func (w *reportWorker) Run(stop <-chan struct{}) {
	r := w.r
	for {
		for r.sendNext() {
			select {
			case <-stop:
				return
			default:
			}
		}
		select {
		case <-stop:
			return
		case <-r.queue.Notify():
		}
	}
}

// Step sends at most one entry; a send may block up to the report timeout.
func (w *reportWorker) Step(time.Duration) time.Duration {
	start := time.Now()
	w.r.sendNext()
	return time.Since(start)
}

// Flush waits until the queue is empty and no send is in flight. In
// cooperative mode it sends the entries itself.
func (r *Reporter) Flush(timeout time.Duration) error {
	if !r.enabled.Load() {
		return nil
	}
	deadline := time.Now().Add(timeout)
	cooperative := r.scheduler.Mode() == ModeCooperative
	for {
		if cooperative {
			r.sendNext()
		}
		if r.queue.Len() == 0 && r.sending.Load() == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return newError(CategoryLifecycle, "report.flush", "", ErrFlushTimeout)
		}
		if !cooperative {
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// close stops the worker and releases the transport.
func (r *Reporter) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disableLocked()
}
