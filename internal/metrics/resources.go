package metrics

import (
	"github.com/shirou/gopsutil/v4/process"
)

// Resources is a point-in-time CPU and memory sample of one process.
type Resources struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
	NumThreads int32   `json:"num_threads,omitempty"`
}

// Sample reads the current resource usage of pid. CPU is averaged over the
// lifetime of the process, as gopsutil reports it without a prior sample.
func Sample(pid int) (Resources, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Resources{}, err
	}
	var r Resources
	if cpu, err := p.CPUPercent(); err == nil {
		r.CPUPercent = cpu
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return r, err
	}
	r.MemoryRSS = mem.RSS
	if n, err := p.NumThreads(); err == nil {
		r.NumThreads = n
	}
	return r, nil
}
