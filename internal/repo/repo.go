package repo

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"conductor/internal/config"
	"conductor/internal/store"
)

var (
	ErrExists   = errors.New("repo already exists")
	ErrNotFound = errors.New("repo not found")
)

// Repo is a registered repository: a primary checkout plus a workspace
// directory where its worktrees live.
type Repo struct {
	ID            string
	Slug          string
	LocalPath     string
	RemoteURL     string
	DefaultBranch string
	WorkspaceDir  string
	CreatedAt     string
}

type Manager struct {
	db  *sql.DB
	cfg *config.Config
}

func NewManager(db *sql.DB, cfg *config.Config) *Manager {
	return &Manager{db: db, cfg: cfg}
}

// Add registers a repository. workspaceDir defaults to
// <workspace_root>/<slug> when empty. The slug's UNIQUE constraint is the
// duplicate check, so two racing adds cannot both succeed.
func (m *Manager) Add(slug, localPath, remoteURL, workspaceDir string) (*Repo, error) {
	if workspaceDir == "" {
		workspaceDir = filepath.Join(m.cfg.General.WorkspaceRoot, slug)
	}
	r := &Repo{
		ID:            store.NewID(),
		Slug:          slug,
		LocalPath:     localPath,
		RemoteURL:     remoteURL,
		DefaultBranch: m.cfg.Defaults.DefaultBranch,
		WorkspaceDir:  workspaceDir,
		CreatedAt:     store.Now(),
	}

	_, err := m.db.Exec(
		`INSERT INTO repos (id, slug, local_path, remote_url, default_branch, workspace_dir, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Slug, r.LocalPath, r.RemoteURL, r.DefaultBranch, r.WorkspaceDir, r.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrExists, slug)
		}
		return nil, fmt.Errorf("insert repo: %w", err)
	}
	return r, nil
}

const repoColumns = `id, slug, local_path, remote_url, default_branch, workspace_dir, created_at`

func (m *Manager) List() ([]Repo, error) {
	rows, err := m.db.Query(`SELECT ` + repoColumns + ` FROM repos ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		var r Repo
		if err := scanRepo(rows, &r); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (m *Manager) GetBySlug(slug string) (*Repo, error) {
	return m.get(`SELECT `+repoColumns+` FROM repos WHERE slug = ?`, slug)
}

func (m *Manager) GetByID(id string) (*Repo, error) {
	return m.get(`SELECT `+repoColumns+` FROM repos WHERE id = ?`, id)
}

func (m *Manager) get(query, key string) (*Repo, error) {
	var r Repo
	err := scanRepo(m.db.QueryRow(query, key), &r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Remove deletes a repo row. Worktrees, tickets, and issue sources cascade.
func (m *Manager) Remove(slug string) error {
	res, err := m.db.Exec(`DELETE FROM repos WHERE slug = ?`, slug)
	if err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRepo(s scanner, r *Repo) error {
	return s.Scan(&r.ID, &r.Slug, &r.LocalPath, &r.RemoteURL, &r.DefaultBranch, &r.WorkspaceDir, &r.CreatedAt)
}

// DeriveSlug extracts a repo slug from a remote URL:
// "https://github.com/org/repo.git" -> "repo".
func DeriveSlug(remoteURL string) string {
	last := remoteURL
	if i := strings.LastIndex(remoteURL, "/"); i >= 0 {
		last = remoteURL[i+1:]
	}
	last = strings.TrimSuffix(last, ".git")
	if last == "" {
		return "repo"
	}
	return last
}

// DeriveLocalPath returns the default primary-checkout path for a slug:
// <workspace_root>/<slug>/main.
func DeriveLocalPath(cfg *config.Config, slug string) string {
	return filepath.Join(cfg.General.WorkspaceRoot, slug, "main")
}
