package health

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/p-blackswan/guide-engine/internal/snapshot"
)

// SnapshotCheck reports whether the persistence backend can be read. An
// empty backend is healthy.
func SnapshotCheck(backend snapshot.Backend) CheckFunc {
	return func(ctx context.Context) Status {
		if _, err := backend.Load(ctx); err != nil && !errors.Is(err, snapshot.ErrEmpty) {
			return StatusDown
		}
		return StatusOK
	}
}

// DiskCheck reports the usage of the filesystem holding dir. Usage at or
// above warnPct is degraded; a full disk is down since snapshots can no
// longer be written.
func DiskCheck(dir string, warnPct float64) CheckFunc {
	return func(ctx context.Context) Status {
		usage, err := disk.UsageWithContext(ctx, dir)
		if err != nil {
			return StatusDown
		}
		return classify(usage.UsedPercent, warnPct)
	}
}

// MemoryCheck reports system memory pressure.
func MemoryCheck(warnPct float64) CheckFunc {
	return func(ctx context.Context) Status {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return StatusDegraded
		}
		if vm.UsedPercent >= warnPct {
			return StatusDegraded
		}
		return StatusOK
	}
}

func classify(usedPct, warnPct float64) Status {
	switch {
	case usedPct >= 100:
		return StatusDown
	case warnPct > 0 && usedPct >= warnPct:
		return StatusDegraded
	default:
		return StatusOK
	}
}
