package capture

import (
	"context"
	"sync"
	"time"
)

// Session is one active capture session. The Controller creates and ends
// it; the Store mutates it under mu for every captured message.
type Session struct {
	id        string
	startTime time.Time
	paths     Paths
	filters   []DeviceFilter

	mu          sync.Mutex
	closing     bool
	captured    int64
	persisted   int64
	pending     []Entry
	lastFlush   time.Time
	lastMessage time.Time
	lastSave    time.Time

	// backupMu serialises snapshot copies of the primary file.
	backupMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(id string, start time.Time, paths Paths, filters []DeviceFilter) *Session {
	return &Session{
		id:        id,
		startTime: start,
		paths:     paths,
		filters:   filters,
		lastFlush: start,
		done:      make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// StartTime returns when the session started.
func (s *Session) StartTime() time.Time { return s.startTime }

// Paths returns the session's file layout.
func (s *Session) Paths() Paths { return s.paths }

// Filters returns a copy of the session's device filters.
func (s *Session) Filters() []DeviceFilter {
	out := make([]DeviceFilter, len(s.filters))
	copy(out, s.filters)
	return out
}

// MessageCount returns the number of messages captured so far.
func (s *Session) MessageCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captured
}

// SessionStats is a point-in-time view of one session.
type SessionStats struct {
	SessionID     string     `json:"session_id"`
	StartTime     time.Time  `json:"start_time"`
	DataFile      string     `json:"data_file"`
	Filters       int        `json:"filters"`
	MessageCount  int64      `json:"message_count"`
	Persisted     int64      `json:"persisted"`
	Pending       int        `json:"pending"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	LastSaveAt    *time.Time `json:"last_save_at,omitempty"`
}

func (s *Session) stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionStats{
		SessionID:    s.id,
		StartTime:    s.startTime,
		DataFile:     s.paths.DataFile,
		Filters:      len(s.filters),
		MessageCount: s.captured,
		Persisted:    s.persisted,
		Pending:      len(s.pending),
	}
	if !s.lastMessage.IsZero() {
		t := s.lastMessage
		st.LastMessageAt = &t
	}
	if !s.lastSave.IsZero() {
		t := s.lastSave
		st.LastSaveAt = &t
	}
	return st
}
