// Package platform detects container resource limits, reported by
// internal/admin alongside per-partition shard stats so an operator
// watching the introspection feed can see host memory/CPU pressure
// next to key counts.
//
// Grounded on the teacher's ws/cgroup.go (cgroup v2-then-v1 memory
// limit detection) and ws/internal/single/platform/cgroup_cpu.go's
// gopsutil fallback when no cgroup file is present.
package platform

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
)

// MemoryLimitBytes returns the container memory limit in bytes, trying
// cgroup v2 first and falling back to cgroup v1. Returns 0 if no limit
// is detected (bare metal, VMs, unconstrained containers).
func MemoryLimitBytes() int64 {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		s := strings.TrimSpace(string(data))
		if s != "max" {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				return v
			}
		}
	}
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			return v
		}
	}
	return 0
}

// HostCPUPercent reports current host-wide CPU utilization via
// gopsutil. This package reads no cgroup CPU quota, so the value is
// always the host-wide figure, also inside a CPU-limited container.
func HostCPUPercent(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}
