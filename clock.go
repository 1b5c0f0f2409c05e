// clock.go: Injected time source and timezone policy
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// Clock supplies timestamps to the dispatch path. The hot path never calls
// time.Now directly.
type Clock interface {
	Now() time.Time
}

// cachedClock reads a millisecond-resolution cached time, refreshed by a
// single background ticker owned by the cache.
type cachedClock struct {
	tc       *timecache.TimeCache
	stopOnce sync.Once
}

func newCachedClock() *cachedClock {
	return &cachedClock{tc: timecache.NewWithResolution(time.Millisecond)}
}

func (c *cachedClock) Now() time.Time { return c.tc.CachedTime() }

func (c *cachedClock) stop() {
	c.stopOnce.Do(func() { c.tc.Stop() })
}

// ManualClock is a Clock that only moves when told to. Useful in tests and
// in hosts that own their own notion of time.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock fixed at t.
func NewManualClock(t time.Time) *ManualClock { return &ManualClock{now: t} }

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TimezoneConfig selects the zone used for line timestamps and dated file
// names. Mode is "utc" (default) or "fixed"; Offset applies to "fixed".
type TimezoneConfig struct {
	Mode   string        `yaml:"mode" mapstructure:"mode"`
	Offset time.Duration `yaml:"offset" mapstructure:"offset"`
}

// Location resolves the policy to a *time.Location. Host-local time is never
// consulted.
func (tz TimezoneConfig) Location() *time.Location {
	if tz.Mode == "fixed" {
		return time.FixedZone(formatOffset(tz.Offset), int(tz.Offset/time.Second))
	}
	return time.UTC
}

func formatOffset(d time.Duration) string {
	sign := byte('+')
	if d < 0 {
		sign = '-'
		d = -d
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return string([]byte{'U', 'T', 'C', sign, byte('0' + h/10), byte('0' + h%10), ':', byte('0' + m/10), byte('0' + m%10)})
}
