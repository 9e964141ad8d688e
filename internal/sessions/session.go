// Package sessions tracks in-flight request sessions per conversation thread.
//
// Isolation is advisory: the registry records which sessions are active on a
// thread and reports when more than one overlaps, but it never blocks a
// second session from running.
package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// Status is a step in the session lifecycle.
type Status string

const (
	StatusCreated            Status = "created"
	StatusAnalyzingContext   Status = "analyzing_context"
	StatusGeneratingResponse Status = "generating_response"
	StatusCompleted          Status = "completed"
	StatusError              Status = "error"
)

// IsTerminal reports whether no further transitions follow.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Session is one request/response cycle on a thread. It is owned by the
// goroutine handling the request; the mutex only guards reads made by the
// registry's sweeps.
type Session struct {
	ID        string
	UserID    string
	ChannelID string
	ThreadID  string
	StartedAt time.Time

	mu          sync.RWMutex
	context     *models.ThreadContext
	status      Status
	completedAt time.Time
	isolated    bool
	response    *models.AIResponse
	errMsg      string
	nowFunc     func() time.Time // For testing
}

// New creates a session for user on the thread identified by channel and threadTS.
func New(userID, channelID, threadTS string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if channelID == "" || threadTS == "" {
		return nil, errors.New("channel and thread timestamp are required")
	}
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChannelID: channelID,
		ThreadID:  models.ThreadID(channelID, threadTS),
		StartedAt: time.Now(),
		status:    StatusCreated,
		nowFunc:   time.Now,
	}, nil
}

// useClock makes now the session's time source and restamps StartedAt.
func (s *Session) useClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
	s.StartedAt = now()
}

// Key is the composite registry key thread_id:session_id.
func (s *Session) Key() string {
	return s.ThreadID + ":" + s.ID
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus moves the session to status. Terminal sessions are not changed.
func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return
	}
	s.status = status
}

// SetContext attaches the built thread context.
func (s *Session) SetContext(ctx *models.ThreadContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = ctx
}

// Context returns the attached thread context, if any.
func (s *Session) Context() *models.ThreadContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.context
}

// CompleteWithResponse marks the session completed.
func (s *Session) CompleteWithResponse(resp *models.AIResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response = resp
	s.status = StatusCompleted
	s.completedAt = s.nowFunc()
}

// CompleteWithError marks the session errored.
func (s *Session) CompleteWithError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
	s.status = StatusError
	s.completedAt = s.nowFunc()
}

// IsTerminal reports whether the session has completed or errored.
func (s *Session) IsTerminal() bool {
	return s.Status().IsTerminal()
}

// Response returns the generated response of a completed session.
func (s *Session) Response() *models.AIResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.response
}

// Err returns the error message of an errored session.
func (s *Session) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// CompletedAt returns when the session reached a terminal state.
func (s *Session) CompletedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completedAt
}

// MarkIsolated sets the isolation flag.
func (s *Session) MarkIsolated(isolated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isolated = isolated
}

// Isolated returns the raw isolation flag.
func (s *Session) Isolated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isolated
}

// IsContextIsolated reports whether the flag is set and any attached context
// belongs to the session's own thread.
func (s *Session) IsContextIsolated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isolated {
		return false
	}
	if s.context == nil {
		return true
	}
	return s.context.ThreadID() == s.ThreadID
}

// Info is a read-only view of a session for diagnostics.
type Info struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	Status    Status    `json:"status"`
	Isolated  bool      `json:"isolated"`
	StartedAt time.Time `json:"started_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:        s.ID,
		UserID:    s.UserID,
		ThreadID:  s.ThreadID,
		Status:    s.status,
		Isolated:  s.isolated,
		StartedAt: s.StartedAt,
	}
}
