// watch.go: Hot reload of the configuration file
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"sync"
	"time"

	"github.com/agilira/argus"
)

// ConfigWatcher reloads a configuration file into a manager whenever the
// file changes. A file that fails to load or validate is reported to the
// manager's error sink and the running configuration is kept.
type ConfigWatcher struct {
	m       *Manager
	path    string
	watcher *argus.Watcher

	mu       sync.Mutex
	reloads  int
	failures int
	stopped  bool
}

// WatchConfig starts polling path every interval (one second when zero)
// and applies each change to m.
func WatchConfig(m *Manager, path string, interval time.Duration) (*ConfigWatcher, error) {
	if interval <= 0 {
		interval = time.Second
	}
	cw := &ConfigWatcher{
		m:       m,
		path:    path,
		watcher: argus.New(argus.Config{PollInterval: interval}),
	}
	if err := cw.watcher.Watch(path, func(argus.ChangeEvent) { cw.Reload() }); err != nil {
		return nil, newError(CategoryConfiguration, "watch", "", err)
	}
	if err := cw.watcher.Start(); err != nil {
		return nil, newError(CategoryConfiguration, "watch", "", err)
	}
	return cw, nil
}

// Reload loads the file now and applies it.
func (cw *ConfigWatcher) Reload() {
	cfg, err := LoadConfig(cw.path)
	if err == nil {
		err = cw.m.ApplyConfig(cfg)
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if err != nil {
		cw.failures++
		cw.m.errs.report("config.reload", err)
		return
	}
	cw.reloads++
}

// Counts returns how many reloads succeeded and failed.
func (cw *ConfigWatcher) Counts() (reloads, failures int) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.reloads, cw.failures
}

// Stop ends polling. It is safe to call more than once.
func (cw *ConfigWatcher) Stop() {
	cw.mu.Lock()
	if cw.stopped {
		cw.mu.Unlock()
		return
	}
	cw.stopped = true
	cw.mu.Unlock()
	cw.watcher.Stop()
}
