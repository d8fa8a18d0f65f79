package ticket

import (
	"database/sql"
	"errors"
	"fmt"

	"conductor/internal/store"
)

var ErrSourceExists = errors.New("issue source already exists")

// IssueSource configures one tracker for a repo. A repo may have several
// sources of different types.
type IssueSource struct {
	ID         string
	RepoID     string
	SourceType string // "github", "jira"
	ConfigJSON string
}

// GitHubConfig is the config payload for a GitHub issue source.
type GitHubConfig struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

type SourceManager struct {
	db *sql.DB
}

func NewSourceManager(db *sql.DB) *SourceManager {
	return &SourceManager{db: db}
}

// Add registers an issue source. Rejects a second source of the same type
// for the same repo.
func (m *SourceManager) Add(repoID, sourceType, configJSON string) (*IssueSource, error) {
	var exists bool
	err := m.db.QueryRow(
		`SELECT COUNT(*) > 0 FROM repo_issue_sources WHERE repo_id = ? AND source_type = ?`,
		repoID, sourceType,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check issue source: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrSourceExists, sourceType)
	}

	src := &IssueSource{
		ID:         store.NewID(),
		RepoID:     repoID,
		SourceType: sourceType,
		ConfigJSON: configJSON,
	}
	_, err = m.db.Exec(
		`INSERT INTO repo_issue_sources (id, repo_id, source_type, config_json) VALUES (?, ?, ?, ?)`,
		src.ID, src.RepoID, src.SourceType, src.ConfigJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("insert issue source: %w", err)
	}
	return src, nil
}

// List returns all issue sources for a repo.
func (m *SourceManager) List(repoID string) ([]IssueSource, error) {
	rows, err := m.db.Query(
		`SELECT id, repo_id, source_type, config_json FROM repo_issue_sources WHERE repo_id = ?`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list issue sources: %w", err)
	}
	defer rows.Close()

	var out []IssueSource
	for rows.Next() {
		var s IssueSource
		if err := rows.Scan(&s.ID, &s.RepoID, &s.SourceType, &s.ConfigJSON); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RemoveByType deletes a repo's source of the given type, reporting whether
// anything was removed.
func (m *SourceManager) RemoveByType(repoID, sourceType string) (bool, error) {
	res, err := m.db.Exec(
		`DELETE FROM repo_issue_sources WHERE repo_id = ? AND source_type = ?`, repoID, sourceType)
	if err != nil {
		return false, fmt.Errorf("remove issue source: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
