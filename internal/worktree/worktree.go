package worktree

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"conductor/internal/config"
	"conductor/internal/forge"
	"conductor/internal/git"
	"conductor/internal/repo"
	"conductor/internal/store"
)

var (
	ErrExists       = errors.New("worktree already exists")
	ErrNotFound     = errors.New("worktree not found")
	ErrNotActive    = errors.New("worktree is not active")
	ErrAgentRunning = errors.New("an agent is still running for this worktree")
	ErrNoForge      = errors.New("no supported forge detected for repo remote")
)

// Worktree is one unit of work: a git worktree on its own branch, optionally
// linked to a ticket. Rows are soft-deleted (merged/abandoned) so history
// survives until an explicit purge.
type Worktree struct {
	ID          string
	RepoID      string
	Slug        string
	Branch      string
	Path        string
	TicketID    string // empty when unlinked
	Status      string // "active", "merged", "abandoned"
	CreatedAt   string
	CompletedAt string // empty while active
}

func (w *Worktree) IsActive() bool { return w.Status == "active" }

type Manager struct {
	db  *sql.DB
	cfg *config.Config
}

func NewManager(db *sql.DB, cfg *config.Config) *Manager {
	return &Manager{db: db, cfg: cfg}
}

// SplitName normalises a worktree name into (slug, branch) using the
// configured prefixes: "fix-scan" -> ("fix-scan", "fix/scan"), anything else
// -> ("feat-<name>", "feat/<name>").
func SplitName(name string, d config.DefaultsConfig) (string, string) {
	if clean, found := strings.CutPrefix(name, d.WorktreePrefixFix); found {
		return d.WorktreePrefixFix + clean, prefixToNamespace(d.WorktreePrefixFix) + clean
	}
	clean := strings.TrimPrefix(name, d.WorktreePrefixFeat)
	return d.WorktreePrefixFeat + clean, prefixToNamespace(d.WorktreePrefixFeat) + clean
}

// prefixToNamespace turns a slug prefix into a branch namespace: "feat-" -> "feat/".
func prefixToNamespace(p string) string {
	return strings.TrimSuffix(p, "-") + "/"
}

// Create builds a worktree end to end: resolve the base branch, fast-forward
// it, create branch and worktree on disk, bootstrap dependencies, then record
// the row. The git objects exist before the row does, so a crash can never
// leave the store claiming a worktree that is not on disk.
//
// Returns the worktree plus non-fatal warnings from the base-branch update.
func (m *Manager) Create(repoSlug, name, fromBranch, ticketID string) (*Worktree, []string, error) {
	repoMgr := repo.NewManager(m.db, m.cfg)
	r, err := repoMgr.GetBySlug(repoSlug)
	if err != nil {
		return nil, nil, err
	}

	slug, branch := SplitName(name, m.cfg.Defaults)

	// An active row blocks the slug; a completed one is purged so the slug
	// can be reused.
	var existingStatus string
	err = m.db.QueryRow(
		`SELECT status FROM worktrees WHERE repo_id = ? AND slug = ?`, r.ID, slug,
	).Scan(&existingStatus)
	switch {
	case err == nil && existingStatus == "active":
		return nil, nil, fmt.Errorf("%w: %s", ErrExists, slug)
	case err == nil:
		if _, err := m.db.Exec(`DELETE FROM worktrees WHERE repo_id = ? AND slug = ?`, r.ID, slug); err != nil {
			return nil, nil, fmt.Errorf("purge completed worktree: %w", err)
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, nil, fmt.Errorf("check worktree slug: %w", err)
	}

	base := fromBranch
	if base == "" {
		base = git.ResolveBaseBranch(r.LocalPath, r.DefaultBranch)
	}

	warnings, err := git.EnsureBaseUpToDate(r.LocalPath, base)
	if err != nil {
		return nil, nil, err
	}

	path := filepath.Join(r.WorkspaceDir, slug)
	if err := git.CreateBranch(r.LocalPath, branch, base); err != nil {
		return nil, warnings, err
	}
	if err := git.AddWorktree(r.LocalPath, path, branch); err != nil {
		return nil, warnings, err
	}

	installDeps(path)

	w := &Worktree{
		ID:        store.NewID(),
		RepoID:    r.ID,
		Slug:      slug,
		Branch:    branch,
		Path:      path,
		TicketID:  ticketID,
		Status:    "active",
		CreatedAt: store.Now(),
	}
	_, err = m.db.Exec(
		`INSERT INTO worktrees (id, repo_id, slug, branch, path, ticket_id, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.RepoID, w.Slug, w.Branch, w.Path, nullable(w.TicketID), w.Status, w.CreatedAt,
	)
	if err != nil {
		return nil, warnings, fmt.Errorf("insert worktree: %w", err)
	}
	return w, warnings, nil
}

const worktreeColumns = `id, repo_id, slug, branch, path, ticket_id, status, created_at, completed_at`

func (m *Manager) GetByID(id string) (*Worktree, error) {
	w, err := m.queryOne(`SELECT `+worktreeColumns+` FROM worktrees WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return w, err
}

func (m *Manager) getBySlug(repoID, slug string) (*Worktree, error) {
	w, err := m.queryOne(
		`SELECT `+worktreeColumns+` FROM worktrees WHERE repo_id = ? AND slug = ?`, repoID, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return w, err
}

// List returns worktrees, optionally scoped to a repo slug (empty = all) and
// to active rows only. Active rows sort before completed ones.
func (m *Manager) List(repoSlug string, activeOnly bool) ([]Worktree, error) {
	statusFilter := ""
	if activeOnly {
		statusFilter = " AND w.status = 'active'"
	}

	query := `SELECT w.id, w.repo_id, w.slug, w.branch, w.path, w.ticket_id, w.status, w.created_at, w.completed_at
        FROM worktrees w`
	var args []any
	if repoSlug != "" {
		query += ` JOIN repos r ON r.id = w.repo_id WHERE r.slug = ?` + statusFilter
		args = append(args, repoSlug)
	} else {
		query += ` WHERE 1=1` + statusFilter
	}
	query += ` ORDER BY CASE WHEN w.status = 'active' THEN 0 ELSE 1 END, w.created_at`

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// ListByRepoID is List for callers that already hold a repo id.
func (m *Manager) ListByRepoID(repoID string, activeOnly bool) ([]Worktree, error) {
	statusFilter := ""
	if activeOnly {
		statusFilter = " AND status = 'active'"
	}
	rows, err := m.db.Query(
		`SELECT `+worktreeColumns+` FROM worktrees WHERE repo_id = ?`+statusFilter+
			` ORDER BY CASE WHEN status = 'active' THEN 0 ELSE 1 END, created_at`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Delete soft-deletes a worktree: the git worktree and branch are removed
// from disk (tolerating their absence) and the row flips to merged or
// abandoned. Refuses while an agent run is still live.
func (m *Manager) Delete(repoSlug, slug string) (*Worktree, error) {
	repoMgr := repo.NewManager(m.db, m.cfg)
	r, err := repoMgr.GetBySlug(repoSlug)
	if err != nil {
		return nil, err
	}
	w, err := m.getBySlug(r.ID, slug)
	if err != nil {
		return nil, err
	}
	return m.deleteInternal(r, w)
}

// DeleteByID is Delete keyed by worktree id.
func (m *Manager) DeleteByID(id string) (*Worktree, error) {
	w, err := m.GetByID(id)
	if err != nil {
		return nil, err
	}
	r, err := repo.NewManager(m.db, m.cfg).GetByID(w.RepoID)
	if err != nil {
		return nil, err
	}
	return m.deleteInternal(r, w)
}

func (m *Manager) deleteInternal(r *repo.Repo, w *Worktree) (*Worktree, error) {
	if !w.IsActive() {
		// Already completed: deleting again changes nothing.
		return w, nil
	}

	var running int
	err := m.db.QueryRow(
		`SELECT COUNT(*) FROM agent_runs WHERE worktree_id = ? AND status = 'running'`, w.ID,
	).Scan(&running)
	if err != nil {
		return nil, fmt.Errorf("check agent runs: %w", err)
	}
	if running > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAgentRunning, w.Slug)
	}

	// Merged vs abandoned:
	// 1. a closed linked ticket counts as merged (covers squash merges that
	//    git cannot detect)
	// 2. otherwise fall back to git branch --merged
	ticketClosed := false
	if w.TicketID != "" {
		_ = m.db.QueryRow(
			`SELECT state = 'closed' FROM tickets WHERE id = ?`, w.TicketID,
		).Scan(&ticketClosed)
	}
	newStatus := "abandoned"
	if ticketClosed || git.IsBranchMerged(r.LocalPath, w.Branch, r.DefaultBranch) {
		newStatus = "merged"
	}

	git.RemoveWorktree(r.LocalPath, w.Path)
	git.DeleteBranch(r.LocalPath, w.Branch)

	now := store.Now()
	if _, err := m.db.Exec(
		`UPDATE worktrees SET status = ?, completed_at = ? WHERE id = ?`,
		newStatus, now, w.ID,
	); err != nil {
		return nil, fmt.Errorf("update worktree status: %w", err)
	}

	out := *w
	out.Status = newStatus
	out.CompletedAt = now
	return &out, nil
}

// UpdateStatus sets a worktree's status directly, stamping completed_at for
// any non-active status.
func (m *Manager) UpdateStatus(id, status string) error {
	var completedAt any
	if status != "active" {
		completedAt = store.Now()
	}
	_, err := m.db.Exec(
		`UPDATE worktrees SET status = ?, completed_at = ? WHERE id = ?`, status, completedAt, id)
	if err != nil {
		return fmt.Errorf("update worktree status: %w", err)
	}
	return nil
}

// Purge permanently deletes completed (merged/abandoned) rows. With an empty
// slug, every completed row for the repo goes.
func (m *Manager) Purge(repoSlug, slug string) (int, error) {
	r, err := repo.NewManager(m.db, m.cfg).GetBySlug(repoSlug)
	if err != nil {
		return 0, err
	}
	var res sql.Result
	if slug != "" {
		res, err = m.db.Exec(
			`DELETE FROM worktrees WHERE repo_id = ? AND slug = ? AND status != 'active'`, r.ID, slug)
	} else {
		res, err = m.db.Exec(
			`DELETE FROM worktrees WHERE repo_id = ? AND status != 'active'`, r.ID)
	}
	if err != nil {
		return 0, fmt.Errorf("purge worktrees: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Push pushes the worktree branch to origin.
func (m *Manager) Push(repoSlug, slug string) (*Worktree, error) {
	_, w, err := m.getActive(repoSlug, slug)
	if err != nil {
		return nil, err
	}
	if err := git.Push(w.Path, w.Branch); err != nil {
		return nil, err
	}
	return w, nil
}

// CreatePR opens a pull/merge request for the worktree branch via the
// detected forge CLI and returns its URL. If an open PR already exists for
// the branch, its URL is returned instead of creating a duplicate.
func (m *Manager) CreatePR(repoSlug, slug string, draft bool) (string, error) {
	r, w, err := m.getActive(repoSlug, slug)
	if err != nil {
		return "", err
	}
	f := forge.Detect(r.LocalPath)
	if f == nil {
		return "", fmt.Errorf("%w: %s", ErrNoForge, r.RemoteURL)
	}
	if pr, err := f.FetchPR(w.Path, w.Branch); err == nil && pr != nil && pr.State == "open" {
		return pr.URL, nil
	}
	return f.CreatePR(w.Path, w.Branch, draft)
}

// Status reports the live git state of a worktree.
func (m *Manager) Status(w *Worktree) (git.Status, error) {
	return git.WorktreeStatus(w.Path)
}

func (m *Manager) getActive(repoSlug, slug string) (*repo.Repo, *Worktree, error) {
	r, err := repo.NewManager(m.db, m.cfg).GetBySlug(repoSlug)
	if err != nil {
		return nil, nil, err
	}
	w, err := m.getBySlug(r.ID, slug)
	if err != nil {
		return nil, nil, err
	}
	if !w.IsActive() {
		return nil, nil, fmt.Errorf("%w: %s (status: %s)", ErrNotActive, slug, w.Status)
	}
	return r, w, nil
}

func (m *Manager) queryOne(query string, args ...any) (*Worktree, error) {
	var w Worktree
	var ticketID, completedAt sql.NullString
	err := m.db.QueryRow(query, args...).Scan(
		&w.ID, &w.RepoID, &w.Slug, &w.Branch, &w.Path, &ticketID, &w.Status, &w.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	w.TicketID = ticketID.String
	w.CompletedAt = completedAt.String
	return &w, nil
}

func collect(rows *sql.Rows) ([]Worktree, error) {
	var out []Worktree
	for rows.Next() {
		var w Worktree
		var ticketID, completedAt sql.NullString
		if err := rows.Scan(
			&w.ID, &w.RepoID, &w.Slug, &w.Branch, &w.Path, &ticketID, &w.Status, &w.CreatedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		w.TicketID = ticketID.String
		w.CompletedAt = completedAt.String
		out = append(out, w)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// installDeps bootstraps JS dependencies when a package.json is present,
// choosing the package manager by lockfile. Best-effort: a failed install
// never blocks worktree creation.
func installDeps(path string) {
	if _, err := os.Stat(filepath.Join(path, "package.json")); err != nil {
		return
	}
	pm := "npm"
	switch {
	case fileExists(filepath.Join(path, "bun.lockb")), fileExists(filepath.Join(path, "bun.lock")):
		pm = "bun"
	case fileExists(filepath.Join(path, "pnpm-lock.yaml")):
		pm = "pnpm"
	case fileExists(filepath.Join(path, "yarn.lock")):
		pm = "yarn"
	}
	cmd := exec.Command(pm, "install")
	cmd.Dir = path
	_ = cmd.Run()
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// SlugFromTicket derives a worktree name from a ticket's source id and
// title: "15-tui-create-worktree". The title portion is truncated to keep
// the whole slug under ~40 chars, breaking at a dash when possible.
func SlugFromTicket(sourceID, title string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(title) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteRune('-')
		}
	}
	collapsed := strings.Trim(collapseDashes(b.String()), "-")

	budget := 40 - len(sourceID) - 1
	if budget < 1 {
		budget = 1
	}
	if len(collapsed) > budget {
		cut := collapsed[:budget]
		if i := strings.LastIndex(cut, "-"); i > 0 {
			cut = cut[:i]
		}
		collapsed = cut
	}
	return sourceID + "-" + collapsed
}

func collapseDashes(s string) string {
	var b strings.Builder
	prevDash := false
	for _, c := range s {
		if c == '-' {
			if !prevDash {
				b.WriteRune('-')
			}
			prevDash = true
			continue
		}
		b.WriteRune(c)
		prevDash = false
	}
	return b.String()
}
