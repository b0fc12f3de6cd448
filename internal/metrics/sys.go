package metrics

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

var startedAt = time.Now()

// SysHealth represents real-time system metrics.
type SysHealth struct {
	AllocMB      uint64
	TotalAllocMB uint64
	SysMB        uint64
	NumGC        uint32
	Goroutines   int
	DataDiskSize string
	Uptime       time.Duration
}

// GetSysHealth collects real-time health data.
func GetSysHealth(dataPath string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SysHealth{
		AllocMB:      m.Alloc / 1024 / 1024,
		TotalAllocMB: m.TotalAlloc / 1024 / 1024,
		SysMB:        m.Sys / 1024 / 1024,
		NumGC:        m.NumGC,
		Goroutines:   runtime.NumGoroutine(),
		DataDiskSize: calculateDirSize(dataPath),
		Uptime:       time.Since(startedAt).Truncate(time.Second),
	}
}

// Report renders system health and recent token usage as a plain-text
// admin report.
func Report(h SysHealth, usage []DailyUsage) string {
	var sb strings.Builder
	sb.WriteString("System\n")
	fmt.Fprintf(&sb, "  uptime: %s\n", h.Uptime)
	fmt.Fprintf(&sb, "  memory: %d MB alloc, %d MB sys, %d GC\n", h.AllocMB, h.SysMB, h.NumGC)
	fmt.Fprintf(&sb, "  goroutines: %d\n", h.Goroutines)
	fmt.Fprintf(&sb, "  data: %s\n", h.DataDiskSize)

	sb.WriteString("\nLLM usage\n")
	if len(usage) == 0 {
		sb.WriteString("  no executions recorded\n")
	}
	for _, u := range usage {
		fmt.Fprintf(&sb, "  %s: %d runs, %d prompt / %d completion tokens, %d fallbacks\n",
			u.Date, u.TotalExecution, u.TotalPrompt, u.TotalCompletion, u.Fallbacks)
	}
	return sb.String()
}

func calculateDirSize(root string) string {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return humanBytes(total)
}

func humanBytes(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}
