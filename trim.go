// trim.go: File trimming, dated file naming and retention
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Date tokens recognised in file name templates.
const (
	dateToken       = "{date}"
	legacyDateToken = "YYYYMMDD"
)

// resolveFileName expands the date token of template for t in loc.
func resolveFileName(template string, t time.Time, loc *time.Location) string {
	day := t.In(loc).Format("20060102")
	name := strings.ReplaceAll(template, dateToken, day)
	return strings.ReplaceAll(name, legacyDateToken, day)
}

// datedGlob turns a template into a glob matching every day's file.
func datedGlob(dir, template string) (string, bool) {
	if !strings.Contains(template, dateToken) && !strings.Contains(template, legacyDateToken) {
		return "", false
	}
	pattern := strings.ReplaceAll(template, dateToken, "*")
	pattern = strings.ReplaceAll(pattern, legacyDateToken, "*")
	return filepath.Join(dir, sanitizeFilename(pattern)), true
}

// TrimFile keeps only the trailing keep bytes of the file at path and then
// appends the line produced by marker (if any). It returns the number of
// bytes removed, 0 when the file is already small enough.
//
// The tail is copied to a temporary sibling which then replaces the
// original, so a crash leaves either the old or the trimmed file. The caller
// must make sure nobody writes to path meanwhile.
func TrimFile(path string, keep int64, marker func(removed int64) []byte) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	src, err := os.Open(path) // #nosec G304 -- path is the appender's own log file
	if err != nil {
		return 0, err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size <= keep {
		return 0, nil
	}
	removed := size - keep
	if _, err := src.Seek(removed, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek to tail: %w", err)
	}

	tmp := path + ".trim"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()) // #nosec G304 -- derived from path
	if err != nil {
		return 0, err
	}
	fail := func(err error) (int64, error) {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if _, err := io.CopyN(dst, src, keep); err != nil {
		return fail(fmt.Errorf("copy tail: %w", err))
	}
	if marker != nil {
		if _, err := dst.Write(marker(removed)); err != nil {
			return fail(fmt.Errorf("write marker: %w", err))
		}
	}
	if err := dst.Sync(); err != nil {
		return fail(err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	_ = src.Close()
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("replace %s: %w", path, err)
	}
	return removed, nil
}

// cleanupDatedFiles removes the oldest dated files beyond maxFiles. The file
// currently open is never removed.
func cleanupDatedFiles(dir, template, current string, maxFiles int) error {
	if maxFiles <= 0 {
		return nil
	}
	pattern, ok := datedGlob(dir, template)
	if !ok {
		return nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	type dated struct {
		name string
		mod  time.Time
	}
	files := make([]dated, 0, len(matches))
	for _, m := range matches {
		if m == current || strings.HasSuffix(m, ".trim") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, dated{m, info.ModTime()})
	}
	// The current file counts towards maxFiles.
	excess := len(files) + 1 - maxFiles
	if excess <= 0 {
		return nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	var firstErr error
	for _, f := range files[:min(excess, len(files))] {
		if err := os.Remove(f.name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
