package sessions

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultMaxAge is the age after which CleanupExpired drops a session.
const DefaultMaxAge = 30 * time.Minute

// Registry tracks active sessions keyed by thread_id:session_id, with a
// per-thread index. Every operation holds the registry mutex.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byThread map[string]map[string]struct{}
	logger   *slog.Logger
	nowFunc  func() time.Time // For testing
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithNow overrides the clock that stamps registered sessions and drives
// CleanupExpired.
func WithNow(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.nowFunc = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		byThread: make(map[string]map[string]struct{}),
		logger:   slog.Default().With("component", "sessions"),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register tracks s and marks it isolated. The session's start and
// completion times are taken from the registry clock from here on. Overlapping sessions on the same
// thread are logged, not rejected. It returns the number of other sessions
// already active on the thread.
func (r *Registry) Register(s *Session) int {
	if s == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	others := len(r.byThread[s.ThreadID])
	if others > 0 {
		r.logger.Warn("concurrent sessions on thread",
			"thread_id", s.ThreadID,
			"session_id", s.ID,
			"active", others)
	}

	s.useClock(r.nowFunc)
	s.MarkIsolated(true)
	r.sessions[s.Key()] = s
	ids, ok := r.byThread[s.ThreadID]
	if !ok {
		ids = make(map[string]struct{})
		r.byThread[s.ThreadID] = ids
	}
	ids[s.ID] = struct{}{}
	return others
}

// Unregister stops tracking s. Unknown sessions are ignored.
func (r *Registry) Unregister(s *Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(s)
}

func (r *Registry) unregisterLocked(s *Session) {
	delete(r.sessions, s.Key())
	if ids, ok := r.byThread[s.ThreadID]; ok {
		delete(ids, s.ID)
		if len(ids) == 0 {
			delete(r.byThread, s.ThreadID)
		}
	}
}

// ActiveSessionsForThread returns the sessions tracked for threadID, oldest first.
func (r *Registry) ActiveSessionsForThread(threadID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forThreadLocked(threadID)
}

func (r *Registry) forThreadLocked(threadID string) []*Session {
	ids := r.byThread[threadID]
	out := make([]*Session, 0, len(ids))
	for id := range ids {
		if s, ok := r.sessions[threadID+":"+id]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// CleanupCompleted removes every terminal session and returns how many were removed.
func (r *Registry) CleanupCompleted() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var done []*Session
	for _, s := range r.sessions {
		if s.IsTerminal() {
			done = append(done, s)
		}
	}
	for _, s := range done {
		r.unregisterLocked(s)
	}
	return len(done)
}

// CleanupExpired marks sessions older than maxAge as errored and removes them.
// A non-positive maxAge uses DefaultMaxAge.
func (r *Registry) CleanupExpired(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.nowFunc().Add(-maxAge)
	var expired []*Session
	for _, s := range r.sessions {
		if s.StartedAt.Before(cutoff) {
			expired = append(expired, s)
		}
	}
	for _, s := range expired {
		if !s.IsTerminal() {
			s.CompleteWithError("session expired")
		}
		r.unregisterLocked(s)
	}
	if len(expired) > 0 {
		r.logger.Info("expired sessions removed", "count", len(expired), "max_age", maxAge)
	}
	return len(expired)
}

// IsThreadIsolated reports whether every active session on threadID is
// isolated. A thread with no sessions is isolated.
func (r *Registry) IsThreadIsolated(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.forThreadLocked(threadID) {
		if !s.IsContextIsolated() {
			return false
		}
	}
	return true
}

// ActiveCount returns the number of tracked sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ActiveThreads returns the thread ids with tracked sessions, sorted.
func (r *Registry) ActiveThreads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byThread))
	for id := range r.byThread {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot is the registry state reported by health endpoints.
type Snapshot struct {
	ActiveSessions int      `json:"active_sessions"`
	ActiveThreads  []string `json:"active_threads"`
	Overlapping    []string `json:"overlapping_threads,omitempty"`
	Sessions       []Info   `json:"sessions,omitempty"`
}

// Snapshot returns a consistent view of the registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		ActiveSessions: len(r.sessions),
		ActiveThreads:  make([]string, 0, len(r.byThread)),
	}
	for id, ids := range r.byThread {
		snap.ActiveThreads = append(snap.ActiveThreads, id)
		if len(ids) > 1 {
			snap.Overlapping = append(snap.Overlapping, id)
		}
	}
	sort.Strings(snap.ActiveThreads)
	sort.Strings(snap.Overlapping)
	for _, s := range r.sessions {
		snap.Sessions = append(snap.Sessions, s.Info())
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].StartedAt.Before(snap.Sessions[j].StartedAt)
	})
	return snap
}
