//go:build linux

package workers

import (
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"workerhub/internal/protocol"
)

// loadScale is the fixed-point scale of sysinfo load averages.
const loadScale = 1 << 16

// sampleHost reads the one-minute load average and used memory from sysinfo(2).
func sampleHost() (protocol.MetricsSnapshot, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return protocol.MetricsSnapshot{}, fmt.Errorf("sysinfo: %w", err)
	}
	load := float64(info.Loads[0]) / loadScale
	cores := runtime.NumCPU()
	if cores < 1 {
		cores = 1
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	used := (uint64(info.Totalram) - uint64(info.Freeram)) * unit
	return protocol.MetricsSnapshot{
		TS:        time.Now().UnixMilli(),
		CPULoad:   clamp01(load / float64(cores)),
		RAMUsedMB: used / (1 << 20),
	}, nil
}
