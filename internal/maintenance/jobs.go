package maintenance

import (
	"context"
	"time"

	"github.com/haasonsaas/threadwise/internal/sessions"
)

// Job names.
const (
	JobSessions   = "sessions"
	JobExecutions = "executions"
	JobHistory    = "history"
	JobLLMCache   = "llm_cache"
)

// SessionSweeper is the part of the session registry the sweep needs.
type SessionSweeper interface {
	CleanupCompleted() int
	CleanupExpired(maxAge time.Duration) int
	Snapshot() sessions.Snapshot
}

// SessionGauge receives the registry size after each sweep.
type SessionGauge interface {
	SetSessions(activeSessions, activeThreads int)
}

// SessionJob drops finished sessions and sessions older than maxAge. gauge
// may be nil.
func SessionJob(schedule string, reg SessionSweeper, maxAge time.Duration, gauge SessionGauge) Job {
	return Job{
		Name:     JobSessions,
		Schedule: schedule,
		Run: func(context.Context) (int, error) {
			n := reg.CleanupCompleted() + reg.CleanupExpired(maxAge)
			if gauge != nil {
				snap := reg.Snapshot()
				gauge.SetSessions(snap.ActiveSessions, len(snap.ActiveThreads))
			}
			return n, nil
		},
	}
}

// ExecutionEvicter is the part of the execution context manager the sweep needs.
type ExecutionEvicter interface {
	EvictOlderThan(d time.Duration) int
}

// ExecutionJob evicts execution contexts started more than maxAge ago.
func ExecutionJob(schedule string, mgr ExecutionEvicter, maxAge time.Duration) Job {
	return Job{
		Name:     JobExecutions,
		Schedule: schedule,
		Run: func(context.Context) (int, error) {
			return mgr.EvictOlderThan(maxAge), nil
		},
	}
}

// HistoryPruner is the part of the history cache the sweep needs.
type HistoryPruner interface {
	Channels() []string
	ClearOldHistory(channelID string, keepHours int, preserveSummaries bool) int
}

// HistoryJob removes messages older than keepHours from every channel,
// keeping eviction summaries. It stops early when ctx is done.
func HistoryJob(schedule string, cache HistoryPruner, keepHours int) Job {
	return Job{
		Name:     JobHistory,
		Schedule: schedule,
		Run: func(ctx context.Context) (int, error) {
			removed := 0
			for _, ch := range cache.Channels() {
				if err := ctx.Err(); err != nil {
					return removed, err
				}
				removed += cache.ClearOldHistory(ch, keepHours, true)
			}
			return removed, nil
		},
	}
}

// CachePruner drops expired entries from a response cache.
type CachePruner interface {
	PruneCache() int
}

// CacheJob prunes expired LLM responses.
func CacheJob(schedule string, cache CachePruner) Job {
	return Job{
		Name:     JobLLMCache,
		Schedule: schedule,
		Run: func(context.Context) (int, error) {
			return cache.PruneCache(), nil
		},
	}
}
