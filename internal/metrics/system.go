package metrics

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// MemoryUsage reports the service process' resident memory against total
// system memory.
type MemoryUsage struct {
	Used       uint64 `json:"used"`
	Total      uint64 `json:"total"`
	Percentage int    `json:"percentage"`
}

type SystemStatus struct {
	Status      string      `json:"status"`
	Uptime      float64     `json:"uptime"`
	MemoryUsage MemoryUsage `json:"memoryUsage"`
	CPUUsage    float64     `json:"cpuUsage"`
	SystemCPU   float64     `json:"systemCpu"`
}

// SystemCollector reads host and self usage through gopsutil.
type SystemCollector struct {
	started time.Time
	self    *process.Process
}

func NewSystemCollector() *SystemCollector {
	c := &SystemCollector{started: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.self = p
	}
	return c
}

func (c *SystemCollector) Uptime() time.Duration { return time.Since(c.started) }

func (c *SystemCollector) Collect(ctx context.Context) (SystemStatus, error) {
	st := SystemStatus{Status: "healthy", Uptime: c.Uptime().Seconds()}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return st, fmt.Errorf("get memory: %w", err)
	}
	st.MemoryUsage.Total = vm.Total

	if c.self != nil {
		if mi, err := c.self.MemoryInfoWithContext(ctx); err == nil {
			st.MemoryUsage.Used = mi.RSS
		}
		if pct, err := c.self.CPUPercentWithContext(ctx); err == nil {
			st.CPUUsage = pct
		}
	}
	if st.MemoryUsage.Total > 0 {
		st.MemoryUsage.Percentage = int(math.Round(float64(st.MemoryUsage.Used) / float64(st.MemoryUsage.Total) * 100))
	}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		st.SystemCPU = pcts[0]
	}
	if vm.UsedPercent > 90 {
		st.Status = "warning"
	}
	return st, nil
}
