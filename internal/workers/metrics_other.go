//go:build !linux

package workers

import (
	"runtime"
	"time"

	"workerhub/internal/protocol"
)

// sampleHost reports the process heap only; host load is unavailable here.
func sampleHost() (protocol.MetricsSnapshot, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return protocol.MetricsSnapshot{
		TS:        time.Now().UnixMilli(),
		RAMUsedMB: stats.Sys / (1 << 20),
	}, nil
}
