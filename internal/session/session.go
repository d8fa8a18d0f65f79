// Package session groups work into named stretches of time. A session is a
// lightweight label over the shared store: start one, touch some worktrees,
// end it with notes. At most one session is open at a time.
package session

import (
	"database/sql"
	"errors"
	"fmt"

	"conductor/internal/store"
)

var (
	ErrActiveSession = errors.New("a session is already active")
	ErrNoSession     = errors.New("no active session")
)

type Session struct {
	ID        string
	StartedAt string
	EndedAt   string // empty while the session is open
	Notes     string
}

func (s *Session) Active() bool { return s.EndedAt == "" }

type Tracker struct {
	db *sql.DB
}

func NewTracker(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// Start opens a new session. Fails with ErrActiveSession if one is open.
func (t *Tracker) Start() (*Session, error) {
	if cur, err := t.Current(); err != nil {
		return nil, err
	} else if cur != nil {
		return nil, fmt.Errorf("%w: started %s", ErrActiveSession, cur.StartedAt)
	}

	s := &Session{ID: store.NewID(), StartedAt: store.Now()}
	_, err := t.db.Exec(
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)`, s.ID, s.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// End closes the active session, recording optional notes.
func (t *Tracker) End(notes string) (*Session, error) {
	cur, err := t.Current()
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNoSession
	}

	cur.EndedAt = store.Now()
	cur.Notes = notes
	_, err = t.db.Exec(
		`UPDATE sessions SET ended_at = ?, notes = ? WHERE id = ?`,
		cur.EndedAt, nullable(notes), cur.ID)
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	return cur, nil
}

// Current returns the open session, or nil if none is open.
func (t *Tracker) Current() (*Session, error) {
	row := t.db.QueryRow(
		`SELECT id, started_at, ended_at, notes FROM sessions
         WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// List returns all sessions, newest first.
func (t *Tracker) List() ([]Session, error) {
	rows, err := t.db.Query(
		`SELECT id, started_at, ended_at, notes FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Touch associates a worktree with the active session, if any. Repeated
// touches are free; no session means no-op.
func (t *Tracker) Touch(worktreeID string) error {
	cur, err := t.Current()
	if err != nil {
		return err
	}
	if cur == nil {
		return nil
	}
	_, err = t.db.Exec(
		`INSERT OR IGNORE INTO session_worktrees (session_id, worktree_id) VALUES (?, ?)`,
		cur.ID, worktreeID)
	if err != nil {
		return fmt.Errorf("touch worktree: %w", err)
	}
	return nil
}

// WorktreeSlugs returns the slugs of worktrees touched during a session.
func (t *Tracker) WorktreeSlugs(sessionID string) ([]string, error) {
	rows, err := t.db.Query(
		`SELECT w.slug FROM session_worktrees sw
         JOIN worktrees w ON w.id = sw.worktree_id
         WHERE sw.session_id = ? ORDER BY w.slug`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session worktrees: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*Session, error) {
	var sess Session
	var endedAt, notes sql.NullString
	if err := s.Scan(&sess.ID, &sess.StartedAt, &endedAt, &notes); err != nil {
		return nil, err
	}
	sess.EndedAt = endedAt.String
	sess.Notes = notes.String
	return &sess, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
