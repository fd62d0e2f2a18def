package checks

import (
	"context"
	"strconv"
	"time"

	"github.com/charlesng35/guildstats/internal/monitoring"
)

// CounterCache exposes the size of the in-process counter cache.
type CounterCache interface {
	CachedEntries() int
}

// Counters returns a liveness probe that reports the counter cache size and degrades once
// it exceeds maxEntries, which usually means the pruner stopped running. A non-positive
// maxEntries only reports the size.
func Counters(counters CounterCache, maxEntries int) monitoring.Check {
	return monitoring.NewCheck("counter_cache", func(context.Context) monitoring.ProbeResult {
		start := time.Now()
		if counters == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "counter service not configured",
				Duration: time.Since(start),
			}
		}

		size := counters.CachedEntries()
		status := monitoring.StatusUp
		if maxEntries > 0 && size > maxEntries {
			status = monitoring.StatusDegraded
		}
		return monitoring.ProbeResult{
			Status:   status,
			Details:  strconv.Itoa(size) + " cached counters",
			Duration: time.Since(start),
		}
	})
}
