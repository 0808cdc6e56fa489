package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/michaelbrown/kata/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// sortableTime keeps fractional seconds at a fixed width so text order is
// time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

const sessionColumns = `id, exercise, title, status, code, created_at, updated_at`

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *storage.Session) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = storage.StatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Exercise, sess.Title, sess.Status, sess.Code,
		sess.CreatedAt.Format(time.RFC3339), sess.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	// Initialize empty transcript row
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_transcripts (session_id, entries) VALUES (?, '[]')`,
		sess.ID,
	)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	// Try exact match first, then prefix match
	sess, err := s.getSessionExact(ctx, id)
	if err == nil {
		return sess, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE id LIKE ? || '%'`, id)
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, sess)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous session prefix %q matches %d sessions", id, len(matches))
	}
}

func (s *SQLiteStore) getSessionExact(ctx context.Context, id string) (*storage.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, opts storage.SessionListOptions) ([]storage.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1 = 1`
	var args []any

	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	if opts.Exercise != "" {
		query += ` AND exercise = ?`
		args = append(args, opts.Exercise)
	}

	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []storage.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *storage.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, status = ?, code = ?, updated_at = ? WHERE id = ?`,
		sess.Title, sess.Status, sess.Code, sess.UpdatedAt.Format(time.RFC3339), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, storage.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	// Resolve prefix first
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}

	// Children first, then the session
	for _, q := range []string{
		`DELETE FROM session_transcripts WHERE session_id = ?`,
		`DELETE FROM submissions WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := s.db.ExecContext(ctx, q, sess.ID); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveTranscript(ctx context.Context, sessionID string, entries []storage.Entry) error {
	if entries == nil {
		entries = []storage.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling transcript: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_transcripts (session_id, entries, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET entries = excluded.entries, updated_at = excluded.updated_at`,
		sessionID, string(data), now,
	)
	if err != nil {
		return fmt.Errorf("saving transcript: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadTranscript(ctx context.Context, sessionID string) ([]storage.Entry, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT entries FROM session_transcripts WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}

	var entries []storage.Entry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, fmt.Errorf("unmarshaling transcript: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) SaveSubmission(ctx context.Context, sub *storage.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(sub.Results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, session_id, exercise, passed, results, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.SessionID, sub.Exercise, sub.Passed, string(data),
		sub.CreatedAt.Format(sortableTime),
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, sessionID string) ([]storage.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, exercise, passed, results, created_at
		FROM submissions WHERE session_id = ? ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	defer rows.Close()

	var subs []storage.Submission
	for rows.Next() {
		var sub storage.Submission
		var results, createdAt string
		if err := rows.Scan(&sub.ID, &sub.SessionID, &sub.Exercise, &sub.Passed, &results, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(results), &sub.Results); err != nil {
			return nil, fmt.Errorf("unmarshaling results: %w", err)
		}
		sub.CreatedAt, _ = time.Parse(sortableTime, createdAt)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStore) CreatePaste(ctx context.Context, p *storage.Paste) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(p.Files)
	if err != nil {
		return fmt.Errorf("marshaling files: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pastes (id, exercise, files, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Exercise, string(data), p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting paste: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPaste(ctx context.Context, id string) (*storage.Paste, error) {
	var p storage.Paste
	var files, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, exercise, files, created_at FROM pastes WHERE id = ?`, id).
		Scan(&p.ID, &p.Exercise, &files, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("paste %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading paste: %w", err)
	}
	if err := json.Unmarshal([]byte(files), &p.Files); err != nil {
		return nil, fmt.Errorf("unmarshaling files: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*storage.Session, error) {
	var sess storage.Session
	var createdAt, updatedAt string
	err := s.Scan(&sess.ID, &sess.Exercise, &sess.Title, &sess.Status,
		&sess.Code, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &sess, nil
}
