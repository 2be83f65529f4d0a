package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics holds CPU and memory usage of one script run.
type ProcessMetrics struct {
	ScriptID   string    `json:"scriptId"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpuPercent"`
	MemoryMB   float64   `json:"memoryMb"`
	MemoryRSS  uint64    `json:"memoryRss"`
	NumThreads int32     `json:"numThreads"`
	NumFDs     int32     `json:"numFds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type ProcessMetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ProcessMetricsCollector samples running script processes on an interval
// and keeps the latest sample per script.
type ProcessMetricsCollector struct {
	enabled  bool
	interval time.Duration

	mu     sync.RWMutex
	latest map[string]ProcessMetrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
}

func NewProcessMetricsCollector(cfg ProcessMetricsConfig) *ProcessMetricsCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ProcessMetricsCollector{
		enabled:  cfg.Enabled,
		interval: interval,
		latest:   make(map[string]ProcessMetrics),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "cpu_percent",
			Help: "CPU usage percentage of the running script process.",
		}, []string{"script"}),
		memoryMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "memory_mb",
			Help: "Resident memory in MB of the running script process.",
		}, []string{"script"}),
		numThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "num_threads",
			Help: "Thread count of the running script process.",
		}, []string{"script"}),
	}
}

func (c *ProcessMetricsCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	for _, col := range []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func (c *ProcessMetricsCollector) IsEnabled() bool { return c.enabled }

// Start samples pids() every interval until ctx is done or Stop is called.
// pids maps script id to the pid of its live run.
func (c *ProcessMetricsCollector) Start(ctx context.Context, pids func() map[string]int32) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(pids())
			}
		}
	}()
}

func (c *ProcessMetricsCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of every given process and forgets scripts that
// are no longer present.
func (c *ProcessMetricsCollector) Collect(pids map[string]int32) {
	now := time.Now()
	samples := make(map[string]ProcessMetrics, len(pids))
	for id, pid := range pids {
		if pid <= 0 {
			continue
		}
		m, err := sample(id, pid, now)
		if err != nil {
			slog.Debug("sample script process", "script", id, "pid", pid, "error", err)
			continue
		}
		samples[id] = m
	}

	c.mu.Lock()
	for id := range c.latest {
		if _, ok := samples[id]; !ok {
			delete(c.latest, id)
			c.cpuPercent.DeleteLabelValues(id)
			c.memoryMB.DeleteLabelValues(id)
			c.numThreads.DeleteLabelValues(id)
		}
	}
	for id, m := range samples {
		c.latest[id] = m
		c.cpuPercent.WithLabelValues(id).Set(m.CPUPercent)
		c.memoryMB.WithLabelValues(id).Set(m.MemoryMB)
		c.numThreads.WithLabelValues(id).Set(float64(m.NumThreads))
	}
	c.mu.Unlock()
}

// Get returns the latest sample for a script.
func (c *ProcessMetricsCollector) Get(scriptID string) (ProcessMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.latest[scriptID]
	return m, ok
}

func (c *ProcessMetricsCollector) All() map[string]ProcessMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]ProcessMetrics, len(c.latest))
	for k, v := range c.latest {
		out[k] = v
	}
	return out
}

func sample(scriptID string, pid int32, ts time.Time) (ProcessMetrics, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("open process: %w", err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	m := ProcessMetrics{
		ScriptID:   scriptID,
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  ts,
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			m.NumFDs = fds
		}
	}
	return m, nil
}
