package work

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
)

// jobMemoryBytes is the working set budgeted per concurrent job; a large
// panel with a covariance matrix and a backtest fits comfortably.
const jobMemoryBytes = 512 << 20

// DefaultCapacity sizes the pool from available memory and the CPU count.
func DefaultCapacity() int {
	cpus := runtime.NumCPU()
	if cpus < 1 {
		cpus = 1
	}

	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return cpus
	}

	byMemory := int(vm.Available / jobMemoryBytes)
	if byMemory < 1 {
		return 1
	}
	return min(cpus, byMemory)
}
