// reconcile.go: Converge the built-in destinations onto a configuration
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

// destination describes one built-in appender driven by configuration.
type destination struct {
	name    string
	enabled func(*Config) bool
	build   func(m *Manager) Appender
}

var destinations = []destination{
	{
		name:    ConsoleAppenderName,
		enabled: func(c *Config) bool { return c.Console.Enabled },
		build:   func(m *Manager) Appender { return NewConsoleAppender(m.consoleOut) },
	},
	{
		name:    FileAppenderName,
		enabled: func(c *Config) bool { return c.File.Enabled },
		build:   func(*Manager) Appender { return NewFileAppender() },
	},
	{
		name:    MemoryAppenderName,
		enabled: func(c *Config) bool { return c.Memory.Enabled },
		build:   func(*Manager) Appender { return NewMemoryAppender() },
	},
}

// reconcile adds, re-initializes or removes each built-in destination so
// the registry matches cfg. A destination that fails to initialize is
// removed and the failure reported. Appenders registered by the caller
// under other names are left alone. applyMu must be held.
func (m *Manager) reconcile(cfg *Config) {
	for _, d := range destinations {
		existing := m.lookup(d.name)
		switch {
		case d.enabled(cfg) && existing == nil:
			a := d.build(m)
			if at, ok := a.(attachable); ok {
				at.attach(m.env)
			}
			if err := a.Initialize(cfg); err != nil {
				m.errs.report(d.name+".initialize", err)
				m.dispose(a)
				continue
			}
			m.register(a)
		case d.enabled(cfg):
			if err := existing.Initialize(cfg); err != nil {
				m.errs.report(d.name+".initialize", err)
				m.removeLocked(d.name)
				continue
			}
			// Flags such as the goroutine column may have changed.
			m.publish()
		case existing != nil:
			m.removeLocked(d.name)
		}
	}
}
