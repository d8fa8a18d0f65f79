// Package agent tracks coding-agent runs. A run's lifecycle is
// running -> completed | failed | cancelled, enforced twice over: a partial
// unique index forbids two live runs per worktree, and every terminal
// transition is conditional on the row still being 'running', so racing
// writers (the agent wrapper, a user cancel, the reconciler) resolve
// first-wins without locks.
package agent

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"conductor/internal/logging"
	"conductor/internal/store"
	"conductor/internal/tmux"
)

var (
	ErrAlreadyRunning = errors.New("an agent is already running for this worktree")
	ErrNotFound       = errors.New("agent run not found")
)

// Run is one invocation of the coding agent against a worktree.
type Run struct {
	ID              string
	WorktreeID      string
	ClaudeSessionID string // empty until the agent reports one
	Prompt          string
	Status          string // "running", "completed", "failed", "cancelled"
	ResultText      string
	CostUSD         float64
	NumTurns        int64
	DurationMS      int64
	StartedAt       string
	EndedAt         string
	TmuxSession     string // empty when run outside tmux
}

// Result is the single JSON object `claude -p --output-format json` prints.
// It is the only authoritative completion signal; exit codes and pane state
// are not trusted.
type Result struct {
	SessionID  string  `json:"session_id"`
	Result     string  `json:"result"`
	CostUSD    float64 `json:"cost_usd"`
	NumTurns   int64   `json:"num_turns"`
	DurationMS int64   `json:"duration_ms"`
	IsError    bool    `json:"is_error"`
}

type Manager struct {
	db  *sql.DB
	log *logging.Logger
}

// NewManager returns a Manager. log may be nil.
func NewManager(db *sql.DB, log *logging.Logger) *Manager {
	return &Manager{db: db, log: log}
}

// CreateRun inserts a new run in the running state. The unique index turns a
// concurrent second launch into ErrAlreadyRunning.
func (m *Manager) CreateRun(worktreeID, prompt, tmuxSession string) (*Run, error) {
	r := &Run{
		ID:          store.NewID(),
		WorktreeID:  worktreeID,
		Prompt:      prompt,
		Status:      "running",
		StartedAt:   store.Now(),
		TmuxSession: tmuxSession,
	}
	_, err := m.db.Exec(
		`INSERT INTO agent_runs (id, worktree_id, prompt, status, started_at, tmux_session)
         VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorktreeID, r.Prompt, r.Status, r.StartedAt, nullable(r.TmuxSession),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, worktreeID)
		}
		return nil, fmt.Errorf("insert agent run: %w", err)
	}
	m.AddEvent(r.ID, "started", "run created")
	return r, nil
}

// Launch creates a run and spawns its tmux session executing the hidden
// wrapper subcommand. If tmux refuses, the run is failed immediately and the
// tmux diagnostic is surfaced.
func (m *Manager) Launch(worktreeID, worktreePath, slug, prompt, resumeSessionID string) (*Run, error) {
	r, err := m.CreateRun(worktreeID, prompt, slug)
	if err != nil {
		return nil, err
	}

	exe, err := os.Executable()
	if err != nil {
		exe = "conductor"
	}
	argv := []string{exe, "agent", "exec",
		"--run-id", r.ID,
		"--worktree-path", worktreePath,
		"--prompt", prompt,
	}
	if resumeSessionID != "" {
		argv = append(argv, "--resume", resumeSessionID)
	}

	if err := tmux.SpawnSession(slug, worktreePath, argv...); err != nil {
		m.MarkFailed(r.ID, fmt.Sprintf("tmux failed: %v", err))
		return nil, fmt.Errorf("spawn agent session: %w", err)
	}
	m.log.Printf("agent run %s launched in tmux session %s", r.ID, slug)
	return r, nil
}

const runColumns = `id, worktree_id, claude_session_id, prompt, status, result_text,
    cost_usd, num_turns, duration_ms, started_at, ended_at, tmux_session`

// Get returns a run by id, or ErrNotFound.
func (m *Manager) Get(runID string) (*Run, error) {
	row := m.db.QueryRow(`SELECT `+runColumns+` FROM agent_runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return r, err
}

// ListForWorktree returns a worktree's runs, newest first.
func (m *Manager) ListForWorktree(worktreeID string) ([]Run, error) {
	rows, err := m.db.Query(
		`SELECT `+runColumns+` FROM agent_runs WHERE worktree_id = ? ORDER BY started_at DESC`,
		worktreeID)
	if err != nil {
		return nil, fmt.Errorf("list agent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LatestForWorktree returns a worktree's newest run, or nil if it has none.
func (m *Manager) LatestForWorktree(worktreeID string) (*Run, error) {
	row := m.db.QueryRow(
		`SELECT `+runColumns+` FROM agent_runs WHERE worktree_id = ? ORDER BY started_at DESC LIMIT 1`,
		worktreeID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// LatestByWorktree returns the newest run for every worktree in one query,
// keyed by worktree id. This backs each dashboard poll, so it must not
// degrade into a query per worktree.
func (m *Manager) LatestByWorktree() (map[string]Run, error) {
	rows, err := m.db.Query(
		`SELECT a.id, a.worktree_id, a.claude_session_id, a.prompt, a.status, a.result_text,
            a.cost_usd, a.num_turns, a.duration_ms, a.started_at, a.ended_at, a.tmux_session
         FROM agent_runs a
         INNER JOIN (
             SELECT worktree_id, MAX(started_at) AS max_started
             FROM agent_runs GROUP BY worktree_id
         ) latest ON a.worktree_id = latest.worktree_id AND a.started_at = latest.max_started`)
	if err != nil {
		return nil, fmt.Errorf("latest agent runs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Run)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out[r.WorktreeID] = *r
	}
	return out, rows.Err()
}

// MarkCompleted finalises a run with the agent's reported result. Returns
// false if the run had already left the running state (e.g. a cancel won).
func (m *Manager) MarkCompleted(runID string, res Result) (bool, error) {
	r, err := m.db.Exec(
		`UPDATE agent_runs SET status = 'completed', claude_session_id = ?, result_text = ?,
            cost_usd = ?, num_turns = ?, duration_ms = ?, ended_at = ?
         WHERE id = ? AND status = 'running'`,
		nullable(res.SessionID), nullable(res.Result), res.CostUSD, res.NumTurns, res.DurationMS,
		store.Now(), runID)
	if err != nil {
		return false, fmt.Errorf("complete agent run: %w", err)
	}
	won := affected(r)
	if won {
		m.AddEvent(runID, "completed", truncate(res.Result, 200))
	}
	return won, nil
}

// MarkFailed finalises a run with an error message. Same conditional rule as
// MarkCompleted.
func (m *Manager) MarkFailed(runID, message string) (bool, error) {
	r, err := m.db.Exec(
		`UPDATE agent_runs SET status = 'failed', result_text = ?, ended_at = ?
         WHERE id = ? AND status = 'running'`,
		message, store.Now(), runID)
	if err != nil {
		return false, fmt.Errorf("fail agent run: %w", err)
	}
	won := affected(r)
	if won {
		m.AddEvent(runID, "failed", truncate(message, 200))
	}
	return won, nil
}

// MarkCancelled finalises a run as user-cancelled. Same conditional rule.
func (m *Manager) MarkCancelled(runID string) (bool, error) {
	r, err := m.db.Exec(
		`UPDATE agent_runs SET status = 'cancelled', ended_at = ?
         WHERE id = ? AND status = 'running'`,
		store.Now(), runID)
	if err != nil {
		return false, fmt.Errorf("cancel agent run: %w", err)
	}
	won := affected(r)
	if won {
		m.AddEvent(runID, "cancelled", "cancelled by user")
	}
	return won, nil
}

// Cancel kills the run's tmux session and marks it cancelled. If the agent
// finished in the meantime its result stands and Cancel reports false.
func (m *Manager) Cancel(r *Run) (bool, error) {
	if r.TmuxSession != "" {
		if err := tmux.KillSession(r.TmuxSession); err != nil {
			m.log.Printf("kill session %s: %v", r.TmuxSession, err)
		}
	}
	return m.MarkCancelled(r.ID)
}

// Reconcile fails any running run whose tmux session has vanished — the
// agent process died without writing a terminal state (crash, OOM, manual
// kill). sessionExists is injected so callers and tests control the probe.
// Returns the number of runs repaired.
func (m *Manager) Reconcile(sessionExists func(name string) bool) (int, error) {
	rows, err := m.db.Query(
		`SELECT id, tmux_session FROM agent_runs WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("list running runs: %w", err)
	}
	type liveRun struct{ id, session string }
	var live []liveRun
	for rows.Next() {
		var id string
		var session sql.NullString
		if err := rows.Scan(&id, &session); err != nil {
			rows.Close()
			return 0, err
		}
		live = append(live, liveRun{id, session.String})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	repaired := 0
	for _, r := range live {
		if r.session == "" || sessionExists(r.session) {
			continue
		}
		won, err := m.MarkFailed(r.id, "tmux session disappeared before the agent reported a result")
		if err != nil {
			return repaired, err
		}
		if won {
			m.log.Printf("reconciled orphaned run %s (session %s gone)", r.id, r.session)
			repaired++
		}
	}
	return repaired, nil
}

func affected(r sql.Result) bool {
	n, err := r.RowsAffected()
	return err == nil && n > 0
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var sessionID, resultText, endedAt, tmuxSession sql.NullString
	var cost sql.NullFloat64
	var turns, duration sql.NullInt64
	err := s.Scan(&r.ID, &r.WorktreeID, &sessionID, &r.Prompt, &r.Status, &resultText,
		&cost, &turns, &duration, &r.StartedAt, &endedAt, &tmuxSession)
	if err != nil {
		return nil, err
	}
	r.ClaudeSessionID = sessionID.String
	r.ResultText = resultText.String
	r.CostUSD = cost.Float64
	r.NumTurns = turns.Int64
	r.DurationMS = duration.Int64
	r.EndedAt = endedAt.String
	r.TmuxSession = tmuxSession.String
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// truncate caps s at n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
