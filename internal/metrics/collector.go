package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// SystemMetrics holds current system metrics snapshot
type SystemMetrics struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // This process, can exceed 100% on multi-core
	ProcessRSSGB      float64 // Resident set, includes touched mmap pages
	MemoryUsedGB      float64
	MemoryPercent     float64
	DiskReadMBps      float64
	DiskWriteMBps     float64
	Timestamp         time.Time
}

// CountersFunc returns extra fields logged with every sample, e.g. store sizes
type CountersFunc func() []zap.Field

// Collector periodically samples system metrics and logs them next to the
// caller's counters
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	counters CountersFunc

	lastDiskRead  uint64
	lastDiskWrite uint64
	lastDiskTime  time.Time

	mu          sync.RWMutex
	lastMetrics *SystemMetrics
}

// NewCollector creates a new metrics collector. counters may be nil.
func NewCollector(interval time.Duration, logger *zap.Logger, counters CountersFunc) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
		counters: counters,
	}
}

// Start begins periodic metrics collection. Returns when context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample initializes the disk baseline
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// GetMetrics returns the last collected metrics
func (c *Collector) GetMetrics() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

func (c *Collector) collect() {
	m := &SystemMetrics{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			m.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			m.ProcessRSSGB = float64(info.RSS) / (1 << 30)
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		m.MemoryPercent = vmem.UsedPercent
		m.MemoryUsedGB = float64(vmem.Used) / (1 << 30)
	}
	m.DiskReadMBps, m.DiskWriteMBps = c.diskRates(m.Timestamp)

	c.mu.Lock()
	c.lastMetrics = m
	c.mu.Unlock()

	fields := []zap.Field{
		zap.Float64("sys_cpu", m.CPUPercent),
		zap.Float64("proc_cpu", m.ProcessCPUPercent),
		zap.String("rss", fmt.Sprintf("%.1f GB", m.ProcessRSSGB)),
		zap.Float64("mem_pct", m.MemoryPercent),
		zap.String("disk_r", fmt.Sprintf("%.1f MB/s", m.DiskReadMBps)),
		zap.String("disk_w", fmt.Sprintf("%.1f MB/s", m.DiskWriteMBps)),
	}
	if c.counters != nil {
		fields = append(fields, c.counters()...)
	}
	c.logger.Info("System metrics", fields...)
}

// diskRates returns read/write MB/s across all disks since the previous sample
func (c *Collector) diskRates(now time.Time) (readMBps, writeMBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}

	var read, write uint64
	for _, counter := range counters {
		read += counter.ReadBytes
		write += counter.WriteBytes
	}

	first := c.lastDiskTime.IsZero()
	elapsed := now.Sub(c.lastDiskTime).Seconds()
	lastRead, lastWrite := c.lastDiskRead, c.lastDiskWrite
	c.lastDiskRead, c.lastDiskWrite, c.lastDiskTime = read, write, now

	if first || elapsed < 0.1 {
		return 0, 0
	}
	// Counters can wrap or disks can disappear between samples
	if read >= lastRead {
		readMBps = float64(read-lastRead) / elapsed / (1 << 20)
	}
	if write >= lastWrite {
		writeMBps = float64(write-lastWrite) / elapsed / (1 << 20)
	}
	return readMBps, writeMBps
}
