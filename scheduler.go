// scheduler.go: Goroutine and cooperative (tick-driven) scheduling strategies
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"runtime"
	"sync"
	"time"
)

// SchedulingMode is the strategy used to run background work.
type SchedulingMode uint8

const (
	// ModeGoroutine gives each worker its own goroutine.
	ModeGoroutine SchedulingMode = iota
	// ModeCooperative runs workers in bounded slices from Manager.Tick.
	ModeCooperative
)

func (m SchedulingMode) String() string {
	if m == ModeCooperative {
		return "cooperative"
	}
	return "goroutine"
}

// resolveMode maps the configured mode to a strategy. "auto" picks the
// cooperative strategy on targets without preemptive threads.
func resolveMode(mode string) SchedulingMode {
	switch mode {
	case "goroutine":
		return ModeGoroutine
	case "cooperative":
		return ModeCooperative
	}
	switch runtime.GOOS {
	case "js", "wasip1":
		return ModeCooperative
	}
	return ModeGoroutine
}

// Worker is background work owned by an appender or the report pipeline.
// A worker implements both shapes; the scheduler decides which one runs.
type Worker interface {
	// Run processes work until stop is closed, then returns.
	Run(stop <-chan struct{})
	// Step processes at most budget worth of work and returns the time it
	// actually spent.
	Step(budget time.Duration) time.Duration
}

// Scheduler runs Workers. Exactly one strategy is chosen per manager.
type Scheduler interface {
	Mode() SchedulingMode
	Attach(w Worker)
	// Detach stops w. In goroutine mode it waits up to timeout for Run to
	// return and reports ErrJoinTimeout otherwise.
	Detach(w Worker, timeout time.Duration) error
	// Tick advances cooperative workers by one host frame and returns the
	// number of Step calls made. It is a no-op in goroutine mode.
	Tick() int
	// Close detaches every worker.
	Close(timeout time.Duration) error
}

// NewScheduler builds the scheduler for mode. budget is the per-tick time
// budget used by the cooperative strategy.
func NewScheduler(mode SchedulingMode, budget time.Duration, sink ErrorSink) Scheduler {
	h := &sinkHolder{sink: sink}
	if mode == ModeCooperative {
		if budget <= 0 {
			budget = 2 * time.Millisecond
		}
		return &cooperativeScheduler{budget: budget, errs: h}
	}
	return &goroutineScheduler{workers: make(map[Worker]*workerHandle), errs: h}
}

type workerHandle struct {
	stop chan struct{}
	done chan struct{}
}

type goroutineScheduler struct {
	mu      sync.Mutex
	workers map[Worker]*workerHandle
	errs    *sinkHolder
}

func (s *goroutineScheduler) Mode() SchedulingMode { return ModeGoroutine }

func (s *goroutineScheduler) Attach(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[w]; ok {
		return
	}
	h := &workerHandle{stop: make(chan struct{}), done: make(chan struct{})}
	s.workers[w] = h
	go s.run(w, h)
}

func (s *goroutineScheduler) run(w Worker, h *workerHandle) {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			s.errs.report("scheduler.run", newError(CategoryLifecycle, "worker", "", panicError(r)))
		}
	}()
	w.Run(h.stop)
}

func (s *goroutineScheduler) Detach(w Worker, timeout time.Duration) error {
	s.mu.Lock()
	h, ok := s.workers[w]
	delete(s.workers, w)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	close(h.stop)
	return join(h.done, timeout)
}

// join waits for done, bounded by timeout.
func join(done <-chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Second
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		return ErrJoinTimeout
	}
}

func (s *goroutineScheduler) Tick() int { return 0 }

func (s *goroutineScheduler) Close(timeout time.Duration) error {
	s.mu.Lock()
	ws := make([]Worker, 0, len(s.workers))
	for w := range s.workers {
		ws = append(ws, w)
	}
	s.mu.Unlock()
	var first error
	for _, w := range ws {
		if err := s.Detach(w, timeout); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// cooperativeScheduler steps workers round-robin on every Tick until the
// budget is spent. The next Tick resumes with the first worker that did not
// get a turn.
type cooperativeScheduler struct {
	mu      sync.Mutex
	workers []Worker
	next    int
	budget  time.Duration
	errs    *sinkHolder
}

func (s *cooperativeScheduler) Mode() SchedulingMode { return ModeCooperative }

func (s *cooperativeScheduler) Attach(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.workers {
		if x == w {
			return
		}
	}
	s.workers = append(s.workers, w)
}

func (s *cooperativeScheduler) Detach(w Worker, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.workers {
		if x == w {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			if s.next > i {
				s.next--
			}
			if s.next >= len(s.workers) {
				s.next = 0
			}
			return nil
		}
	}
	return nil
}

func (s *cooperativeScheduler) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.workers)
	if n == 0 {
		return 0
	}
	var spent time.Duration
	calls := 0
	for i := 0; i < n; i++ {
		idx := (s.next + i) % n
		remaining := s.budget - spent
		if remaining <= 0 {
			s.next = idx
			return calls
		}
		spent += s.step(s.workers[idx], remaining)
		calls++
	}
	return calls
}

func (s *cooperativeScheduler) step(w Worker, budget time.Duration) (spent time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.errs.report("scheduler.step", newError(CategoryLifecycle, "worker", "", panicError(r)))
			spent = budget
		}
	}()
	return w.Step(budget)
}

func (s *cooperativeScheduler) Close(time.Duration) error {
	s.mu.Lock()
	s.workers = nil
	s.next = 0
	s.mu.Unlock()
	return nil
}
