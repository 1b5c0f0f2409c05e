// config.go: Configuration snapshot, defaults and parsing utilities
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config is an immutable snapshot of everything the manager needs. Once a
// Config has been handed to New or ApplyConfig it must not be modified; use
// Clone to derive a new one.
//
// Level masks and sizes are kept as strings ("error+", "400KB") so that the
// same struct round-trips through YAML, viper and environment variables.
type Config struct {
	// Levels is the global enabled mask, see ParseLevel.
	Levels string `yaml:"levels" mapstructure:"levels"`

	Scheduling SchedulingConfig `yaml:"scheduling" mapstructure:"scheduling"`
	Timezone   TimezoneConfig   `yaml:"timezone" mapstructure:"timezone"`
	StackTrace StackTraceConfig `yaml:"stack_trace" mapstructure:"stack_trace"`

	Console ConsoleConfig `yaml:"console" mapstructure:"console"`
	File    FileConfig    `yaml:"file" mapstructure:"file"`
	Memory  MemoryConfig  `yaml:"memory" mapstructure:"memory"`
	Report  ReportConfig  `yaml:"report" mapstructure:"report"`
}

// SchedulingConfig selects how background work runs.
type SchedulingConfig struct {
	// Mode is "auto", "goroutine" or "cooperative". Resolved once when the
	// manager is built; later changes are ignored.
	Mode string `yaml:"mode" mapstructure:"mode"`
	// TickBudget bounds the work done per Manager.Tick in cooperative mode.
	TickBudget time.Duration `yaml:"tick_budget" mapstructure:"tick_budget"`
	// JoinTimeout bounds how long a stopping worker is waited for.
	JoinTimeout time.Duration `yaml:"join_timeout" mapstructure:"join_timeout"`
}

// StackTraceConfig decides which records carry a captured call chain.
type StackTraceConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	MinLevel string `yaml:"min_level" mapstructure:"min_level"`
	MaxDepth int    `yaml:"max_depth" mapstructure:"max_depth"`
}

// ConsoleConfig configures the synchronous console destination.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Levels  string `yaml:"levels" mapstructure:"levels"`
	Color   bool   `yaml:"color" mapstructure:"color"`
	// Stream is "stdout" (default) or "stderr".
	Stream string `yaml:"stream" mapstructure:"stream"`
}

// FileConfig configures the asynchronous trimming file destination.
type FileConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Levels    string `yaml:"levels" mapstructure:"levels"`
	Directory string `yaml:"directory" mapstructure:"directory"`
	// Template is the file name; "{date}" expands to YYYYMMDD in the
	// configured timezone.
	Template string `yaml:"template" mapstructure:"template"`
	// Prefix is written at the start of every line.
	Prefix string `yaml:"prefix" mapstructure:"prefix"`

	MaxSize       string        `yaml:"max_size" mapstructure:"max_size"`
	KeepSize      string        `yaml:"keep_size" mapstructure:"keep_size"`
	CheckInterval time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	// MaxFiles keeps at most this many dated files in Directory, 0 keeps all.
	MaxFiles int `yaml:"max_files" mapstructure:"max_files"`

	QueueSize int    `yaml:"queue_size" mapstructure:"queue_size"`
	Overflow  string `yaml:"overflow" mapstructure:"overflow"`
	// FlushMode is "line" (sync after every line) or "batch" (sync once per
	// drained batch).
	FlushMode     string        `yaml:"flush_mode" mapstructure:"flush_mode"`
	FlushRetries  int           `yaml:"flush_retries" mapstructure:"flush_retries"`
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`

	ShowGoroutine bool `yaml:"show_goroutine" mapstructure:"show_goroutine"`
	// MaxBodyLength truncates bodies longer than this many bytes, 0 disables.
	MaxBodyLength int `yaml:"max_body_length" mapstructure:"max_body_length"`

	RetryCount int           `yaml:"retry_count" mapstructure:"retry_count"`
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
}

// MemoryConfig configures the in-memory tail destination.
type MemoryConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Levels   string `yaml:"levels" mapstructure:"levels"`
	Capacity string `yaml:"capacity" mapstructure:"capacity"`
}

// ReportConfig configures the remote-report pipeline.
type ReportConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Transport is "http" (default) or "sentry".
	Transport string        `yaml:"transport" mapstructure:"transport"`
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"`
	DSN       string        `yaml:"dsn" mapstructure:"dsn"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MinLevel  string        `yaml:"min_level" mapstructure:"min_level"`
	Compress  bool          `yaml:"compress" mapstructure:"compress"`
	QueueSize int           `yaml:"queue_size" mapstructure:"queue_size"`
	// DedupWindow suppresses identical messages reported within the window.
	DedupWindow time.Duration `yaml:"dedup_window" mapstructure:"dedup_window"`
	// AttachTail adds the memory appender's content to Sentry events.
	AttachTail bool              `yaml:"attach_tail" mapstructure:"attach_tail"`
	ExtData    map[string]string `yaml:"ext_data" mapstructure:"ext_data"`
}

func (r ReportConfig) equal(o ReportConfig) bool {
	return r.Enabled == o.Enabled &&
		r.Transport == o.Transport &&
		r.Endpoint == o.Endpoint &&
		r.DSN == o.DSN &&
		r.Timeout == o.Timeout &&
		r.MinLevel == o.MinLevel &&
		r.Compress == o.Compress &&
		r.QueueSize == o.QueueSize &&
		r.DedupWindow == o.DedupWindow &&
		r.AttachTail == o.AttachTail &&
		maps.Equal(r.ExtData, o.ExtData)
}

// DefaultConfig returns production defaults: everything enabled on the
// console, file and reporting off.
func DefaultConfig() *Config {
	return &Config{
		Levels: "all",
		Scheduling: SchedulingConfig{
			Mode:        "auto",
			TickBudget:  2 * time.Millisecond,
			JoinTimeout: time.Second,
		},
		Timezone: TimezoneConfig{Mode: "utc"},
		StackTrace: StackTraceConfig{
			Enabled:  true,
			MinLevel: "error+",
			MaxDepth: 16,
		},
		Console: ConsoleConfig{Enabled: true, Levels: "all", Stream: "stdout"},
		File: FileConfig{
			Levels:        "all",
			Directory:     "logs",
			Template:      "log_{date}.txt",
			MaxSize:       "1MB",
			KeepSize:      "400KB",
			CheckInterval: 5 * time.Second,
			QueueSize:     4096,
			Overflow:      "drop_oldest",
			FlushMode:     "line",
			FlushRetries:  100,
			FlushInterval: 10 * time.Millisecond,
			RetryCount:    3,
			RetryDelay:    10 * time.Millisecond,
		},
		Memory: MemoryConfig{Levels: "all", Capacity: "64KB"},
		Report: ReportConfig{
			Transport: "http",
			Timeout:   5 * time.Second,
			MinLevel:  "error+",
			QueueSize: 256,
		},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Report.ExtData = maps.Clone(c.Report.ExtData)
	return &out
}

type configCheck struct{ errs []error }

func (cc *configCheck) check(field string, err error) {
	if err != nil {
		cc.errs = append(cc.errs, newError(CategoryConfiguration, field, "", err))
	}
}

func (cc *configCheck) level(field, s string) {
	if s != "" {
		_, err := ParseLevel(s)
		cc.check(field, err)
	}
}

// validateGlobal checks the fields the manager itself depends on. Problems
// in a destination's section only disable that destination.
func (c *Config) validateGlobal() error {
	var cc configCheck
	c.checkGlobal(&cc)
	return errors.Join(cc.errs...)
}

func (c *Config) checkGlobal(cc *configCheck) {
	cc.level("levels", c.Levels)
	cc.level("stack_trace.min_level", c.StackTrace.MinLevel)
	switch c.Scheduling.Mode {
	case "", "auto", "goroutine", "cooperative":
	default:
		cc.check("scheduling.mode", fmt.Errorf("unknown mode %q", c.Scheduling.Mode))
	}
	switch c.Timezone.Mode {
	case "", "utc", "fixed":
	default:
		cc.check("timezone.mode", fmt.Errorf("unknown mode %q", c.Timezone.Mode))
	}
}

// Validate checks every field that has a parseable syntax and returns all
// problems joined.
func (c *Config) Validate() error {
	var cc configCheck
	c.checkGlobal(&cc)
	check, levelField := cc.check, cc.level
	levelField("console.levels", c.Console.Levels)
	levelField("file.levels", c.File.Levels)
	levelField("memory.levels", c.Memory.Levels)
	levelField("report.min_level", c.Report.MinLevel)

	if c.File.Enabled {
		_, _, err := c.File.sizes()
		check("file.size", err)
		_, err = ParseOverflowPolicy(c.File.Overflow)
		check("file.overflow", err)
		switch c.File.FlushMode {
		case "", "line", "batch":
		default:
			check("file.flush_mode", fmt.Errorf("unknown flush mode %q", c.File.FlushMode))
		}
	}
	if c.Memory.Enabled && c.Memory.Capacity != "" {
		_, err := ParseSize(c.Memory.Capacity)
		check("memory.capacity", err)
	}
	if c.Report.Enabled {
		switch c.Report.Transport {
		case "", "http":
			if c.Report.Endpoint == "" {
				check("report.endpoint", errEmptyEndpoint)
			}
		case "sentry":
		default:
			check("report.transport", fmt.Errorf("unknown transport %q", c.Report.Transport))
		}
	}
	return errors.Join(cc.errs...)
}

// levelMask parses s, falling back to def when s is empty or invalid.
func levelMask(s string, def Level) Level {
	if s == "" {
		return def
	}
	l, err := ParseLevel(s)
	if err != nil {
		return def
	}
	return l
}

// sizes resolves MaxSize and KeepSize. KeepSize must be smaller than MaxSize.
func (f FileConfig) sizes() (maxSize, keepSize int64, err error) {
	if f.MaxSize != "" {
		if maxSize, err = ParseSize(f.MaxSize); err != nil {
			return 0, 0, err
		}
	}
	if f.KeepSize != "" {
		if keepSize, err = ParseSize(f.KeepSize); err != nil {
			return 0, 0, err
		}
	}
	if maxSize > 0 && keepSize >= maxSize {
		return 0, 0, fmt.Errorf("keep size %d must be below max size %d", keepSize, maxSize)
	}
	return maxSize, keepSize, nil
}

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"TB", 1 << 40}, {"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10},
	{"T", 1 << 40}, {"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
	{"B", 1},
}

// ParseSize converts size strings like "400KB", "1MB" or "1000" to bytes.
// Units are binary and case-insensitive; single-letter forms are accepted.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	for _, u := range sizeUnits {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s[:len(s)-len(u.suffix)]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number in %q: %w", s, err)
		}
		if v < 0 || (v > 0 && v > (1<<63-1)/u.mult) {
			return 0, fmt.Errorf("size %q out of range", s)
		}
		return v * u.mult, nil
	}
	return 0, fmt.Errorf("unknown size suffix in %q (supported: B, KB/K, MB/M, GB/G, TB/T)", s)
}

// ParseDuration extends time.ParseDuration with "d" (day) and "w" (week).
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	s = strings.ToLower(s)
	unit := map[byte]time.Duration{'d': 24 * time.Hour, 'w': 7 * 24 * time.Hour}[s[len(s)-1]]
	if unit == 0 {
		return 0, fmt.Errorf("unknown duration suffix in %q", s)
	}
	v, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration number in %q: %w", s, err)
	}
	return time.Duration(v) * unit, nil
}

// sanitizeFilename replaces characters that are invalid in file names on
// the running platform.
func sanitizeFilename(name string) string {
	if runtime.GOOS != "windows" {
		return strings.ReplaceAll(name, "\x00", "_")
	}
	return strings.Map(func(r rune) rune {
		if r < 32 || strings.ContainsRune(`<>:"|?*`, r) {
			return '_'
		}
		return r
	}, name)
}

// validatePathLength rejects paths longer than the platform allows.
func validatePathLength(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	limit := 4096
	if runtime.GOOS == "windows" {
		limit = 260
	}
	if len(abs) > limit {
		return fmt.Errorf("path too long: %d characters (limit: %d)", len(abs), limit)
	}
	return nil
}

// retryFileOperation runs op up to attempts times, sleeping delay between
// failures. Antivirus scanners and network shares produce transient errors
// that a short retry absorbs.
func retryFileOperation(op func() error, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}
	var last error
	for i := 0; i < attempts; i++ {
		if last = op(); last == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, last)
}

const defaultFileMode os.FileMode = 0o644
