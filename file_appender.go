// file_appender.go: Asynchronous, trimming, date-named file destination
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// File appender states.
const (
	fileClosed int32 = iota
	fileOpen
	fileTrimming
)

const (
	defaultCheckInterval = 5 * time.Second
	defaultQueueSize     = 4096
	// stepBatch is how many records a cooperative Step writes between
	// budget checks.
	stepBatch = 16
)

// FileAppender writes records to a dated file from a single background
// worker. WriteLog only enqueues; formatting, writing, syncing and the
// periodic size check all happen on the worker, which runs either on its
// own goroutine or in slices from Manager.Tick.
//
// When the file grows beyond MaxSize it is trimmed to its trailing KeepSize
// bytes, followed by a trim marker line. The file handle is only touched
// under fileMu, shared by the writer and Trim.
//
// Lines are synced after every write unless FlushMode is "batch", in which
// case one sync covers every record drained in the same pass.
type FileAppender struct {
	base

	cfgMu sync.Mutex // serializes Initialize and Dispose
	cfg   FileConfig
	tz    TimezoneConfig

	queue *Queue[Record]

	fileMu   sync.Mutex
	file     *os.File
	path     string
	day      string
	format   lineFormat
	buf      []byte
	maxSize  int64
	keepSize int64
	batch    bool

	stepMu    sync.Mutex
	interval  atomic.Int64
	retick    chan struct{}
	lastCheck time.Time
	dirty     bool

	state    atomic.Int32
	inFlight atomic.Int32
	worker   *fileWorker
	attached bool
	goid     atomic.Bool

	written      atomic.Uint64
	trims        atomic.Uint64
	bytesTrimmed atomic.Uint64
	writeErrors  atomic.Uint64
}

// fileWorker adapts the appender to the Worker interface without exposing
// Run and Step on FileAppender itself.
type fileWorker struct{ a *FileAppender }

// NewFileAppender returns an uninitialized file appender.
func NewFileAppender() *FileAppender {
	a := &FileAppender{queue: NewQueue[Record](defaultQueueSize, DropOldest)}
	a.initBase(FileAppenderName)
	a.worker = &fileWorker{a: a}
	a.retick = make(chan struct{}, 1)
	a.interval.Store(int64(defaultCheckInterval))
	return a
}

// Initialize applies cfg.File. The first call opens the file and starts the
// worker; later calls reconfigure in place, reopening the file only when
// its location changed. Queued records survive re-initialization.
func (a *FileAppender) Initialize(cfg *Config) error {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	if a.disposed.Load() {
		return nil
	}
	fc := cfg.File
	a.SetLevels(levelMask(fc.Levels, LevelAll))
	if a.initialized.Load() && fc == a.cfg && cfg.Timezone == a.tz {
		return nil
	}

	maxSize, keepSize, err := fc.sizes()
	if err != nil {
		return newError(CategoryConfiguration, "size", a.name, err)
	}
	policy, err := ParseOverflowPolicy(fc.Overflow)
	if err != nil {
		return newError(CategoryConfiguration, "overflow", a.name, err)
	}
	if fc.Template == "" {
		return newError(CategoryConfiguration, "template", a.name, errors.New("empty file name template"))
	}
	queueSize := fc.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	interval := fc.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	env := a.environment()
	a.queue.Resize(queueSize, policy)
	if a.interval.Swap(int64(interval)) != int64(interval) {
		select {
		case a.retick <- struct{}{}:
		default:
		}
	}
	a.goid.Store(fc.ShowGoroutine)

	a.fileMu.Lock()
	a.format = lineFormat{
		prefix:        fc.Prefix,
		loc:           cfg.Timezone.Location(),
		showGoroutine: fc.ShowGoroutine,
		maxBody:       fc.MaxBodyLength,
	}
	a.maxSize, a.keepSize = maxSize, keepSize
	a.batch = fc.FlushMode == "batch"
	relocate := a.file == nil || fc.Directory != a.cfg.Directory || fc.Template != a.cfg.Template || cfg.Timezone != a.tz
	a.cfg, a.tz = fc, cfg.Timezone
	if relocate {
		err = a.openLocked(env.clock.Now())
	}
	a.fileMu.Unlock()
	if err != nil {
		a.initialized.Store(false)
		return err
	}

	if !a.attached {
		env.scheduler.Attach(a.worker)
		a.attached = true
	}
	a.initialized.Store(true)
	return nil
}

// openLocked closes any current stream and opens the file for now's date,
// writing the start marker. fileMu must be held.
func (a *FileAppender) openLocked(now time.Time) error {
	a.closeLocked()

	dir := a.cfg.Directory
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, sanitizeFilename(resolveFileName(a.cfg.Template, now, a.format.loc)))
	if err := validatePathLength(path); err != nil {
		return newError(CategoryConfiguration, "path", a.name, err)
	}
	attempts, delay := a.cfg.RetryCount, a.cfg.RetryDelay
	if dir != "." {
		if err := retryFileOperation(func() error { return os.MkdirAll(dir, 0o750) }, attempts, delay); err != nil {
			return newError(CategoryConfiguration, "mkdir", a.name, fmt.Errorf("create log directory %q: %w", dir, err))
		}
	}
	var f *os.File
	err := retryFileOperation(func() error {
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, defaultFileMode) // #nosec G304 -- path sanitized above
		return err
	}, attempts, delay)
	if err != nil {
		return newError(CategoryFileIO, "open", a.name, fmt.Errorf("open log file %q: %w", path, err))
	}

	a.file, a.path = f, path
	a.day = now.In(a.format.loc).Format("20060102")
	a.state.Store(fileOpen)
	a.buf = a.format.appendMarker(a.buf[:0], now, markerStarted)
	if _, err := f.Write(a.buf); err != nil {
		a.reportError(CategoryFileIO, "marker", err)
	}
	return nil
}

func (a *FileAppender) closeLocked() {
	if a.file == nil {
		return
	}
	if err := a.file.Sync(); err != nil {
		a.reportError(CategoryFileIO, "sync", err)
	}
	if err := a.file.Close(); err != nil {
		a.reportError(CategoryFileIO, "close", err)
	}
	a.file = nil
	a.state.Store(fileClosed)
}

// WriteLog enqueues r for the worker. It never touches the file.
func (a *FileAppender) WriteLog(r Record) {
	if !a.admit(&r) {
		return
	}
	if !a.queue.Push(r) {
		a.environment().metrics.appenderDrop(a.name)
	}
}

// writeNext writes one queued record. It reports false when the queue was
// empty.
func (a *FileAppender) writeNext() bool {
	a.inFlight.Store(1)
	defer a.inFlight.Store(0)
	r, ok := a.queue.Pop()
	if !ok {
		return false
	}
	a.writeRecord(&r)
	return true
}

func (a *FileAppender) writeRecord(r *Record) {
	defer a.recoverTo("write")
	a.fileMu.Lock()
	defer a.fileMu.Unlock()
	if a.file == nil {
		a.environment().metrics.appenderDrop(a.name)
		return
	}
	a.buf = a.format.appendRecord(a.buf[:0], r)
	if _, err := a.file.Write(a.buf); err != nil {
		a.writeErrors.Add(1)
		a.reportError(CategoryFileIO, "write", err)
		return
	}
	a.written.Add(1)
	a.environment().metrics.appenderWrite(a.name)
	if a.batch {
		a.dirty = true
		return
	}
	if err := a.file.Sync(); err != nil {
		a.reportError(CategoryFileIO, "sync", err)
	}
}

// syncBatch syncs once after a batch drain.
func (a *FileAppender) syncBatch() {
	a.fileMu.Lock()
	defer a.fileMu.Unlock()
	if !a.dirty || a.file == nil {
		return
	}
	a.dirty = false
	if err := a.file.Sync(); err != nil {
		a.reportError(CategoryFileIO, "sync", err)
	}
}

// drain writes every queued record.
func (a *FileAppender) drain() {
	a.stepMu.Lock()
	defer a.stepMu.Unlock()
	for a.writeNext() {
	}
	a.syncBatch()
}

func (w *fileWorker) Run(stop <-chan struct{}) {
	a := w.a
	ticker := time.NewTicker(time.Duration(a.interval.Load()))
	defer ticker.Stop()
	current := a.interval.Load()
	for {
		a.drain()
		select {
		case <-stop:
			a.drain()
			return
		case <-a.queue.Notify():
		case <-a.retick:
			if iv := a.interval.Load(); iv != current {
				current = iv
				ticker.Reset(time.Duration(iv))
			}
		case <-ticker.C:
			a.checkFile()
		}
	}
}

func (w *fileWorker) Step(budget time.Duration) time.Duration {
	a := w.a
	start := time.Now()
	a.stepMu.Lock()
	defer a.stepMu.Unlock()
	for time.Since(start) < budget {
		n := 0
		for n < stepBatch && a.writeNext() {
			n++
		}
		if n < stepBatch {
			break
		}
	}
	a.syncBatch()
	if now := time.Now(); now.Sub(a.lastCheck) >= time.Duration(a.interval.Load()) {
		a.lastCheck = now
		a.checkFile()
	}
	return time.Since(start)
}

// checkFile runs the periodic checks: date rollover, then size.
func (a *FileAppender) checkFile() {
	defer a.recoverTo("check")
	a.fileMu.Lock()
	defer a.fileMu.Unlock()
	if a.file == nil {
		return
	}
	now := a.environment().clock.Now()
	if day := now.In(a.format.loc).Format("20060102"); day != a.day {
		if err := a.openLocked(now); err != nil {
			a.reportError(CategoryFileIO, "rollover", err)
			return
		}
		if err := cleanupDatedFiles(filepath.Dir(a.path), a.cfg.Template, a.path, a.cfg.MaxFiles); err != nil {
			a.reportError(CategoryFileIO, "cleanup", err)
		}
	}
	if a.maxSize <= 0 {
		return
	}
	info, err := a.file.Stat()
	if err != nil {
		a.reportError(CategoryFileIO, "stat", err)
		return
	}
	if info.Size() > a.maxSize {
		_, _ = a.trimLocked()
	}
}

// Trim forces a trim to KeepSize regardless of the current size limit and
// returns the number of bytes removed.
func (a *FileAppender) Trim() (int64, error) {
	a.fileMu.Lock()
	defer a.fileMu.Unlock()
	if a.file == nil {
		return 0, ErrClosed
	}
	return a.trimLocked()
}

// trimLocked closes the stream, trims the file and reopens it for append.
// If trimming fails the file is reopened as is; if that fails too the
// appender stays closed until the next Initialize. fileMu must be held.
func (a *FileAppender) trimLocked() (int64, error) {
	a.state.Store(fileTrimming)
	a.closeLocked()
	a.state.Store(fileTrimming)

	now := a.environment().clock.Now()
	marker := func(removed int64) []byte {
		return a.format.appendMarker(nil, now, trimMessage(removed))
	}
	removed, trimErr := TrimFile(a.path, a.keepSize, marker)
	if trimErr != nil {
		a.reportError(CategoryFileIO, "trim", trimErr)
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, defaultFileMode) // #nosec G304 -- path sanitized when first opened
	if err != nil {
		a.reportError(CategoryFileIO, "reopen", err)
		if err := a.openLocked(now); err != nil {
			a.reportError(CategoryFileIO, "recover", err)
			return removed, err
		}
		return removed, trimErr
	}
	a.file = f
	a.state.Store(fileOpen)
	if trimErr != nil {
		return 0, trimErr
	}
	if removed > 0 {
		a.trims.Add(1)
		a.bytesTrimmed.Add(uint64(removed)) // #nosec G115 -- removed is positive
		a.environment().metrics.fileTrimmed(a.name, removed)
	}
	return removed, nil
}

// Flush waits until every queued record has been written and synced,
// polling up to FlushRetries times. In cooperative mode it drives the
// worker itself instead of waiting for ticks.
func (a *FileAppender) Flush(timeout time.Duration) error {
	if !a.initialized.Load() {
		return nil
	}
	env := a.environment()
	a.cfgMu.Lock()
	interval, retries := a.cfg.FlushInterval, a.cfg.FlushRetries
	a.cfgMu.Unlock()
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	if timeout > 0 {
		retries = int(timeout / interval)
	}
	if retries <= 0 {
		retries = 1
	}
	cooperative := env.scheduler.Mode() == ModeCooperative

	for i := 0; ; i++ {
		if cooperative {
			a.drain()
		}
		if a.queue.Len() == 0 && a.inFlight.Load() == 0 {
			break
		}
		if i >= retries {
			return newError(CategoryLifecycle, "flush", a.name, ErrFlushTimeout)
		}
		time.Sleep(interval)
	}

	a.fileMu.Lock()
	defer a.fileMu.Unlock()
	a.dirty = false
	if a.file != nil {
		if err := a.file.Sync(); err != nil {
			return newError(CategoryFileIO, "sync", a.name, err)
		}
	}
	return nil
}

// Dispose rejects further writes, flushes, stops the worker and closes the
// file. If the worker does not stop within the join timeout the file is
// closed anyway; a writer still running afterwards finds no file and drops.
func (a *FileAppender) Dispose() {
	if a.disposed.Swap(true) {
		return
	}
	if !a.initialized.Load() {
		return
	}
	const joinTimeout = time.Second
	if err := a.Flush(joinTimeout); err != nil {
		a.reportError(CategoryLifecycle, "dispose.flush", err)
	}

	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	env := a.environment()
	if err := env.scheduler.Detach(a.worker, joinTimeout); err != nil {
		a.reportError(CategoryLifecycle, "dispose.join", err)
	}
	a.attached = false

	if lockWithin(&a.fileMu, joinTimeout) {
		a.closeLocked()
		a.fileMu.Unlock()
		return
	}
	// The writer is stuck inside a write holding the lock. os.File.Close is
	// safe to call concurrently; the pending write fails and the writer
	// drops everything after it.
	if f := a.file; f != nil {
		_ = f.Close()
	}
	a.state.Store(fileClosed)
}

// lockWithin tries to acquire mu for up to timeout.
func lockWithin(mu *sync.Mutex, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Path returns the file currently written to.
func (a *FileAppender) Path() string {
	a.fileMu.Lock()
	defer a.fileMu.Unlock()
	return a.path
}

// State returns "closed", "open" or "trimming".
func (a *FileAppender) State() string {
	switch a.state.Load() {
	case fileOpen:
		return "open"
	case fileTrimming:
		return "trimming"
	}
	return "closed"
}

// FileStats is a point-in-time view of a FileAppender.
type FileStats struct {
	Path         string `json:"path"`
	Queued       int    `json:"queued"`
	Written      uint64 `json:"written"`
	Dropped      uint64 `json:"dropped"`
	WriteErrors  uint64 `json:"write_errors"`
	Trims        uint64 `json:"trims"`
	BytesTrimmed uint64 `json:"bytes_trimmed"`
}

// Stats returns current counters.
func (a *FileAppender) Stats() FileStats {
	return FileStats{
		Path:         a.Path(),
		Queued:       a.queue.Len(),
		Written:      a.written.Load(),
		Dropped:      a.queue.Dropped(),
		WriteErrors:  a.writeErrors.Load(),
		Trims:        a.trims.Load(),
		BytesTrimmed: a.bytesTrimmed.Load(),
	}
}

// wantsGoroutine reports whether records should carry the producer id.
func (a *FileAppender) wantsGoroutine() bool { return a.goid.Load() }
