package core

import (
	"runtime"

	"github.com/pbnjay/memory"
)

// HostSystemProbe reports this process's view of host resources:
// every logical CPU as one core, and free system memory as reported
// by the OS. It is the default SystemProbe wired by the node binary;
// tests substitute a fixed-value stub instead.
type HostSystemProbe struct{}

// AvailableCPU reports the number of logical CPUs visible to this
// process.
func (HostSystemProbe) AvailableCPU() float64 {
	return float64(runtime.NumCPU())
}

// AvailableMemMB reports free system memory in megabytes, or the
// total installed amount if the OS does not expose a free-memory
// figure.
func (HostSystemProbe) AvailableMemMB() float64 {
	free := memory.FreeMemory()
	if free == 0 {
		free = memory.TotalMemory()
	}
	return float64(free) / (1024 * 1024)
}
