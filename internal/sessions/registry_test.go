package sessions

import (
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/threadwise/pkg/models"
)

func mustSession(t *testing.T, user, channel, ts string) *Session {
	t.Helper()
	s, err := New(user, channel, ts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		channel string
		ts      string
		wantErr bool
	}{
		{"valid", "U1", "C1", "1.1", false},
		{"missing user", "", "C1", "1.1", true},
		{"missing channel", "U1", "", "1.1", true},
		{"missing ts", "U1", "C1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.user, tt.channel, tt.ts)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSession_Lifecycle(t *testing.T) {
	s := mustSession(t, "U1", "C1", "1.1")
	if s.ThreadID != "C1:1.1" {
		t.Errorf("ThreadID = %q", s.ThreadID)
	}
	if s.Status() != StatusCreated {
		t.Errorf("Status() = %s, want created", s.Status())
	}

	s.SetStatus(StatusAnalyzingContext)
	s.SetStatus(StatusGeneratingResponse)
	if s.IsTerminal() {
		t.Error("generating_response is not terminal")
	}

	s.CompleteWithResponse(&models.AIResponse{Content: "hi"})
	if s.Status() != StatusCompleted || !s.IsTerminal() {
		t.Errorf("Status() = %s after completion", s.Status())
	}
	if s.CompletedAt().IsZero() {
		t.Error("CompletedAt() should be set")
	}

	s.SetStatus(StatusAnalyzingContext)
	if s.Status() != StatusCompleted {
		t.Error("SetStatus() must not leave a terminal state")
	}

	errored := mustSession(t, "U1", "C1", "1.1")
	errored.CompleteWithError("boom")
	if errored.Status() != StatusError || errored.Err() != "boom" {
		t.Errorf("errored session = %s / %q", errored.Status(), errored.Err())
	}
}

func TestSession_IsContextIsolated(t *testing.T) {
	s := mustSession(t, "U1", "C1", "1.1")
	if s.IsContextIsolated() {
		t.Error("unregistered session should not be isolated")
	}

	s.MarkIsolated(true)
	s.SetContext(&models.ThreadContext{ChannelID: "C1", ThreadTS: "1.1"})
	if !s.IsContextIsolated() {
		t.Error("matching context should be isolated")
	}

	s.SetContext(&models.ThreadContext{ChannelID: "C1", ThreadTS: "2.2"})
	if s.IsContextIsolated() {
		t.Error("context from another thread must not be isolated")
	}
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry()
	a := mustSession(t, "U1", "C1", "1.1")
	b := mustSession(t, "U2", "C1", "1.1")
	c := mustSession(t, "U3", "C2", "9.9")

	if others := r.Register(a); others != 0 {
		t.Errorf("Register(a) others = %d, want 0", others)
	}
	if !a.Isolated() {
		t.Error("Register() should mark the session isolated")
	}
	if others := r.Register(b); others != 1 {
		t.Errorf("Register(b) others = %d, want 1", others)
	}
	r.Register(c)

	if got := r.ActiveCount(); got != 3 {
		t.Errorf("ActiveCount() = %d, want 3", got)
	}
	if got := r.ActiveSessionsForThread("C1:1.1"); len(got) != 2 {
		t.Errorf("ActiveSessionsForThread() = %d sessions, want 2", len(got))
	}
	threads := r.ActiveThreads()
	if len(threads) != 2 || threads[0] != "C1:1.1" || threads[1] != "C2:9.9" {
		t.Errorf("ActiveThreads() = %v", threads)
	}

	r.Unregister(a)
	r.Unregister(a)
	if got := r.ActiveSessionsForThread("C1:1.1"); len(got) != 1 {
		t.Errorf("after Unregister() = %d sessions, want 1", len(got))
	}
	r.Unregister(b)
	if got := r.ActiveThreads(); len(got) != 1 {
		t.Errorf("empty thread entries should be dropped: %v", got)
	}
}

func TestRegistry_CleanupCompletedIsIdempotent(t *testing.T) {
	r := NewRegistry()
	done := mustSession(t, "U1", "C1", "1.1")
	failed := mustSession(t, "U2", "C1", "2.2")
	running := mustSession(t, "U3", "C1", "3.3")
	for _, s := range []*Session{done, failed, running} {
		r.Register(s)
	}
	done.CompleteWithResponse(&models.AIResponse{Content: "ok"})
	failed.CompleteWithError("nope")

	if got := r.CleanupCompleted(); got != 2 {
		t.Errorf("first CleanupCompleted() = %d, want 2", got)
	}
	if got := r.CleanupCompleted(); got != 0 {
		t.Errorf("second CleanupCompleted() = %d, want 0", got)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
}

func TestRegistry_CleanupExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(WithNow(func() time.Time { return now }))

	old := mustSession(t, "U1", "C1", "1.1")
	r.Register(old)
	now = now.Add(26 * time.Minute)
	fresh := mustSession(t, "U2", "C1", "2.2")
	r.Register(fresh)
	now = now.Add(5 * time.Minute)

	if got := r.CleanupExpired(0); got != 1 {
		t.Fatalf("CleanupExpired() = %d, want 1", got)
	}
	if old.Status() != StatusError || old.Err() != "session expired" {
		t.Errorf("expired session = %s / %q", old.Status(), old.Err())
	}
	if !old.CompletedAt().Equal(now) {
		t.Errorf("expired at %v, want registry time %v", old.CompletedAt(), now)
	}
	if fresh.IsTerminal() {
		t.Error("fresh session should be untouched")
	}
	if got := r.CleanupExpired(time.Minute); got != 1 {
		t.Errorf("CleanupExpired(1m) = %d, want 1", got)
	}
}

func TestRegistry_StampsSessionsWithItsClock(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(WithNow(func() time.Time { return now }))

	s := mustSession(t, "U1", "C1", "1.1")
	r.Register(s)
	if !s.StartedAt.Equal(now) || !s.Info().StartedAt.Equal(now) {
		t.Fatalf("StartedAt = %v, want %v", s.StartedAt, now)
	}

	now = now.Add(3 * time.Second)
	s.CompleteWithResponse(&models.AIResponse{Content: "ok"})
	if !s.CompletedAt().Equal(now) {
		t.Fatalf("CompletedAt = %v, want %v", s.CompletedAt(), now)
	}
}

func TestRegistry_IsThreadIsolated(t *testing.T) {
	r := NewRegistry()
	if !r.IsThreadIsolated("C1:1.1") {
		t.Error("thread without sessions is isolated")
	}

	a := mustSession(t, "U1", "C1", "1.1")
	b := mustSession(t, "U2", "C1", "1.1")
	r.Register(a)
	r.Register(b)
	if !r.IsThreadIsolated("C1:1.1") {
		t.Error("registered sessions should be isolated")
	}

	b.SetContext(&models.ThreadContext{ChannelID: "C9", ThreadTS: "1.1"})
	if r.IsThreadIsolated("C1:1.1") {
		t.Error("a session holding another thread's context breaks isolation")
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	r.Register(mustSession(t, "U1", "C1", "1.1"))
	r.Register(mustSession(t, "U2", "C1", "1.1"))
	r.Register(mustSession(t, "U3", "C2", "1.1"))

	snap := r.Snapshot()
	if snap.ActiveSessions != 3 || len(snap.Sessions) != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Overlapping) != 1 || snap.Overlapping[0] != "C1:1.1" {
		t.Errorf("Overlapping = %v", snap.Overlapping)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _ := New("U1", "C1", "1.1")
			r.Register(s)
			_ = r.IsThreadIsolated(s.ThreadID)
			s.CompleteWithError("done")
			r.CleanupCompleted()
			r.Unregister(s)
		}(i)
	}
	wg.Wait()
	if got := r.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}
}
