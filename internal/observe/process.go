// SPDX-License-Identifier: MIT
package observe

import (
	"errors"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats describes the resource usage of the running server.
type ProcessStats struct {
	PID           int32   `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSSMB   float64 `json:"memory_rss_mb"`
	MemoryPercent float32 `json:"memory_percent"`
	Threads       int32   `json:"threads"`
	Goroutines    int     `json:"goroutines"`
}

// ReadProcessStats samples the current process. Fields that cannot be read
// on this platform stay zero and their errors are joined.
func ReadProcessStats() (ProcessStats, error) {
	st := ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
	}
	p, err := process.NewProcess(st.PID)
	if err != nil {
		return st, err
	}

	var errs []error
	if st.CPUPercent, err = p.CPUPercent(); err != nil {
		errs = append(errs, err)
	}
	if mem, err := p.MemoryInfo(); err != nil {
		errs = append(errs, err)
	} else {
		st.MemoryRSSMB = float64(mem.RSS) / (1024 * 1024)
	}
	if st.MemoryPercent, err = p.MemoryPercent(); err != nil {
		errs = append(errs, err)
	}
	if st.Threads, err = p.NumThreads(); err != nil {
		errs = append(errs, err)
	}
	return st, errors.Join(errs...)
}
