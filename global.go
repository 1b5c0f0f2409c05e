// global.go: Process-wide default manager
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"errors"
	"sync/atomic"
)

// ErrAlreadyInitialized is returned by Init when a default manager exists.
var ErrAlreadyInitialized = errors.New("styx: default manager already initialized")

var defaultManager atomic.Pointer[Manager]

// Init builds the process-wide manager. It is meant to run once at startup
// and fails if a default manager is already installed.
func Init(cfg *Config, opts ...Option) (*Manager, error) {
	m, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if !defaultManager.CompareAndSwap(nil, m) {
		_ = m.Close()
		return nil, ErrAlreadyInitialized
	}
	return m, nil
}

// Default returns the process-wide manager, or nil before Init. Gate is
// safe on a nil manager and returns nil, so
//
//	if g := styx.Default().Gate(styx.LevelLog); g != nil { ... }
//
// is a no-op until Init runs.
func Default() *Manager { return defaultManager.Load() }

// SetDefault installs m as the process-wide manager and returns the one it
// replaced. The caller owns the returned manager.
func SetDefault(m *Manager) *Manager { return defaultManager.Swap(m) }

// Shutdown closes and uninstalls the process-wide manager.
func Shutdown() error {
	m := defaultManager.Swap(nil)
	if m == nil {
		return nil
	}
	return m.Close()
}
