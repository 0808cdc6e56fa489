package storage

import (
	"context"
	"errors"
	"time"

	"github.com/michaelbrown/kata/internal/protocol"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Session is the metadata for one learner working on one exercise.
type Session struct {
	ID        string        `json:"id"`
	Exercise  string        `json:"exercise"`
	Title     string        `json:"title"`
	Status    SessionStatus `json:"status"`
	Code      string        `json:"code"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Entry is one stored line of a session's output panel.
type Entry struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Text      string   `json:"text"`
	Traceback []string `json:"traceback,omitempty"`
}

// Submission is one graded attempt.
type Submission struct {
	ID        string                    `json:"id"`
	SessionID string                    `json:"session_id"`
	Exercise  string                    `json:"exercise"`
	Passed    bool                      `json:"passed"`
	Results   []protocol.TestCaseResult `json:"results"`
	CreatedAt time.Time                 `json:"created_at"`
}

// Paste is a shared snapshot of a learner's files.
type Paste struct {
	ID        string            `json:"id"`
	Exercise  string            `json:"exercise"`
	Files     map[string]string `json:"files"`
	CreatedAt time.Time         `json:"created_at"`
}

// SessionListOptions controls filtering and pagination for ListSessions.
type SessionListOptions struct {
	Status   SessionStatus
	Exercise string
	Limit    int
	Offset   int
}

// Store is the persistence interface for sessions, transcripts, submissions
// and pastes.
type Store interface {
	// CreateSession inserts a new session. The ID field must be set by the caller.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns a session by ID or ID prefix.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns sessions ordered by updated_at descending.
	ListSessions(ctx context.Context, opts SessionListOptions) ([]Session, error)

	// UpdateSession updates mutable fields (title, status, code, updated_at).
	UpdateSession(ctx context.Context, s *Session) error

	// DeleteSession removes a session with its transcript and submissions.
	DeleteSession(ctx context.Context, id string) error

	// SaveTranscript overwrites the output panel of a session.
	SaveTranscript(ctx context.Context, sessionID string, entries []Entry) error

	// LoadTranscript returns the output panel of a session.
	LoadTranscript(ctx context.Context, sessionID string) ([]Entry, error)

	// SaveSubmission records a graded attempt. ID and CreatedAt are set if empty.
	SaveSubmission(ctx context.Context, sub *Submission) error

	// ListSubmissions returns a session's submissions, newest first.
	ListSubmissions(ctx context.Context, sessionID string) ([]Submission, error)

	// CreatePaste stores a paste. ID and CreatedAt are set if empty.
	CreatePaste(ctx context.Context, p *Paste) error

	// GetPaste returns a paste by ID.
	GetPaste(ctx context.Context, id string) (*Paste, error)

	// Close releases resources.
	Close() error
}
