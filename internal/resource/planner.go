// Package resource sizes the worker pool from what the machine can actually
// sustain. Each detector process is internally multi-threaded, so one worker
// per core oversubscribes the CPU badly on long batches.
package resource

import (
	"log/slog"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/reefwatch/bruvbatch/internal/config"
)

// SystemInfo is the probed hardware snapshot used for planning and echoed
// into the batch summary report.
type SystemInfo struct {
	Cores          int
	TotalMemMB     uint64
	AvailableMemMB uint64
}

// Probe reads core count and memory via gopsutil. Any probe failure returns
// a zero SystemInfo and the error; Plan treats that as "degrade to 1 worker".
func Probe() (SystemInfo, error) {
	cores, err := cpu.Counts(true)
	if err != nil {
		return SystemInfo{}, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return SystemInfo{}, err
	}
	return SystemInfo{
		Cores:          cores,
		TotalMemMB:     vm.Total / (1 << 20),
		AvailableMemMB: vm.Available / (1 << 20),
	}, nil
}

// Plan returns the worker-pool size for this machine, always >= 1.
func Plan(pool config.PoolConfig) int {
	if pool.Workers > 0 {
		return pool.Workers
	}

	info, err := Probe()
	if err != nil {
		slog.Warn("system probe failed, degrading to a single worker", "error", err)
		return 1
	}
	return PlanFor(info, pool)
}

// PlanFor computes the worker count from a known SystemInfo:
// floor((cores - reserved) / coresPerTask), capped by available memory,
// floored at 1.
func PlanFor(info SystemInfo, pool config.PoolConfig) int {
	workers := (info.Cores - pool.ReservedCores) / pool.CoresPerTask
	if pool.MemoryPerTaskMB > 0 {
		memCap := int(info.AvailableMemMB) / pool.MemoryPerTaskMB
		if memCap < workers {
			workers = memCap
		}
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
