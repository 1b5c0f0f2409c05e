// extdata.go: Static host description attached to every remote report
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"maps"
	"runtime"
	"strconv"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/host"
)

// collectExtData describes the process and host once. Host lookups that
// fail are left out. Entries from static override collected ones.
func collectExtData(static map[string]string, tz TimezoneConfig) map[string]string {
	ext := map[string]string{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"cpus":       strconv.Itoa(runtime.NumCPU()),
		"timezone":   tz.Location().String(),
		"session_id": uuid.NewString(),
	}
	if brand := cpuid.CPU.BrandName; brand != "" {
		ext["cpu"] = brand
	}
	if info, err := host.Info(); err == nil {
		ext["hostname"] = info.Hostname
		ext["platform"] = info.Platform
		ext["platform_version"] = info.PlatformVersion
		ext["kernel"] = info.KernelVersion
	}
	maps.Copy(ext, static)
	return ext
}
