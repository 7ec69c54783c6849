package ingest

import (
	"fmt"
	"time"
)

// ProgressTracker estimates progress through the input file
type ProgressTracker struct {
	totalBytes int64
	startTime  time.Time
}

// NewProgressTracker starts tracking a file of totalBytes
func NewProgressTracker(totalBytes int64) *ProgressTracker {
	return &ProgressTracker{totalBytes: totalBytes, startTime: time.Now()}
}

// Progress holds current progress information
type Progress struct {
	Elements   int64
	Percentage float64
	Elapsed    time.Duration
	ETA        time.Duration
	Throughput float64 // elements per second
}

// Calculate returns progress given the elements stored and bytes consumed so far
func (p *ProgressTracker) Calculate(elements, bytesProcessed int64) Progress {
	return p.at(time.Since(p.startTime), elements, bytesProcessed)
}

func (p *ProgressTracker) at(elapsed time.Duration, elements, bytesProcessed int64) Progress {
	prog := Progress{Elements: elements, Elapsed: elapsed.Round(time.Second)}

	if p.totalBytes > 0 && bytesProcessed > 0 {
		prog.Percentage = float64(bytesProcessed) / float64(p.totalBytes) * 100
		if prog.Percentage < 100 && elapsed > 0 {
			bytesPerSecond := float64(bytesProcessed) / elapsed.Seconds()
			remaining := float64(p.totalBytes - bytesProcessed)
			prog.ETA = time.Duration(remaining / bytesPerSecond * float64(time.Second)).Round(time.Second)
		}
	}
	if elapsed > 0 {
		prog.Throughput = float64(elements) / elapsed.Seconds()
	}
	return prog
}

// FormatETA formats the ETA duration in a human-readable format
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(itemsPerSec float64) string {
	switch {
	case itemsPerSec >= 1_000_000:
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	case itemsPerSec >= 1_000:
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}
