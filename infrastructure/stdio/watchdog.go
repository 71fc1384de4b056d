package stdio

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// watchMemory samples the child's resident set and kills it when the
// configured limit is exceeded. Stdio children run outside any sandbox,
// so the limit is enforced from the host side by polling.
func (r *Runtime) watchMemory(ctx context.Context, logger *slog.Logger, c *conn, pid int, limit uint64) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		logger.Warn("memory watchdog disabled", "error", err)
		return
	}

	ticker := time.NewTicker(r.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
		}

		info, err := proc.MemoryInfo()
		if err != nil {
			// The process is gone; the reader loop handles the exit.
			return
		}
		if info.RSS > limit {
			logger.Warn("memory limit exceeded, killing extension",
				"rss_bytes", info.RSS, "limit_bytes", limit)
			c.kill()
			return
		}
	}
}
