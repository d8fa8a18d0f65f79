// Package ticket caches issues from external trackers. Conductor only ever
// reads tracker state; the cache exists so the dashboard and worktree
// lifecycle can consult tickets without a network round trip.
package ticket

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"conductor/internal/store"
)

var ErrSync = errors.New("ticket sync failed")

// Ticket is a cached issue row.
type Ticket struct {
	ID         string
	RepoID     string
	SourceType string
	SourceID   string
	Title      string
	Body       string
	State      string // "open", "closed"
	Labels     string // JSON array of label names
	Assignee   string
	Priority   string
	URL        string
	SyncedAt   string
	RawJSON    string
}

// Input is a normalized ticket from any source, ready to be upserted.
type Input struct {
	SourceType string
	SourceID   string
	Title      string
	Body       string
	State      string
	Labels     string
	Assignee   string
	Priority   string
	URL        string
	RawJSON    string
}

type Syncer struct {
	db *sql.DB
}

func NewSyncer(db *sql.DB) *Syncer {
	return &Syncer{db: db}
}

// Upsert writes a batch of tickets for a repo, keyed on
// (repo, source type, source id) so re-syncs update in place. Returns the
// number of tickets written.
func (s *Syncer) Upsert(repoID string, tickets []Input) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := store.Now()
	for _, t := range tickets {
		_, err := tx.Exec(
			`INSERT INTO tickets (id, repo_id, source_type, source_id, title, body, state, labels, assignee, priority, url, synced_at, raw_json)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(repo_id, source_type, source_id) DO UPDATE SET
                 title = excluded.title,
                 body = excluded.body,
                 state = excluded.state,
                 labels = excluded.labels,
                 assignee = excluded.assignee,
                 priority = excluded.priority,
                 url = excluded.url,
                 synced_at = excluded.synced_at,
                 raw_json = excluded.raw_json`,
			store.NewID(), repoID, t.SourceType, t.SourceID, t.Title, t.Body, t.State,
			t.Labels, nullable(t.Assignee), nullable(t.Priority), t.URL, now, t.RawJSON,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert ticket %s/%s: %w", t.SourceType, t.SourceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(tickets), nil
}

const ticketColumns = `id, repo_id, source_type, source_id, title, body, state, labels, assignee, priority, url, synced_at, raw_json`

// List returns cached tickets, newest sync first. Empty repoID means all.
func (s *Syncer) List(repoID string) ([]Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if repoID != "" {
		query += ` WHERE repo_id = ?`
		args = append(args, repoID)
	}
	query += ` ORDER BY synced_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		var t Ticket
		var assignee, priority sql.NullString
		if err := rows.Scan(&t.ID, &t.RepoID, &t.SourceType, &t.SourceID, &t.Title, &t.Body,
			&t.State, &t.Labels, &assignee, &priority, &t.URL, &t.SyncedAt, &t.RawJSON); err != nil {
			return nil, err
		}
		t.Assignee = assignee.String
		t.Priority = priority.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get returns one ticket by id.
func (s *Syncer) Get(id string) (*Ticket, error) {
	var t Ticket
	var assignee, priority sql.NullString
	err := s.db.QueryRow(
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id,
	).Scan(&t.ID, &t.RepoID, &t.SourceType, &t.SourceID, &t.Title, &t.Body,
		&t.State, &t.Labels, &assignee, &priority, &t.URL, &t.SyncedAt, &t.RawJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	t.Assignee = assignee.String
	t.Priority = priority.String
	return &t, nil
}

// LinkToWorktree attaches a ticket to a worktree.
func (s *Syncer) LinkToWorktree(ticketID, worktreeID string) error {
	_, err := s.db.Exec(`UPDATE worktrees SET ticket_id = ? WHERE id = ?`, ticketID, worktreeID)
	if err != nil {
		return fmt.Errorf("link ticket: %w", err)
	}
	return nil
}

// CloseMissing marks as closed any cached ticket of sourceType that a full
// sync of open issues no longer returned. Returns the number closed.
func (s *Syncer) CloseMissing(repoID, sourceType string, presentIDs []string) (int, error) {
	query := `UPDATE tickets SET state = 'closed'
        WHERE repo_id = ? AND source_type = ? AND state != 'closed'`
	args := []any{repoID, sourceType}
	if len(presentIDs) > 0 {
		query += ` AND source_id NOT IN (?` + strings.Repeat(", ?", len(presentIDs)-1) + `)`
		for _, id := range presentIDs {
			args = append(args, id)
		}
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("close missing tickets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkWorktreesMerged flips active worktrees whose linked ticket has closed
// to merged. Worktrees with a live agent run are left alone; the merge is
// recorded on their next delete instead.
func (s *Syncer) MarkWorktreesMerged(repoID string) (int, error) {
	res, err := s.db.Exec(
		`UPDATE worktrees SET status = 'merged', completed_at = ?
         WHERE repo_id = ? AND status = 'active'
           AND ticket_id IN (SELECT id FROM tickets WHERE state = 'closed')
           AND id NOT IN (SELECT worktree_id FROM agent_runs WHERE status = 'running')`,
		store.Now(), repoID)
	if err != nil {
		return 0, fmt.Errorf("mark worktrees merged: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
