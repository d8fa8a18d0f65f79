package session

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"conductor/internal/store"
)

func testTracker(t *testing.T) (*Tracker, *sql.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "conductor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(
		`INSERT INTO repos (id, slug, local_path, remote_url, workspace_dir, created_at)
         VALUES ('r1', 'demo', '/tmp/demo', 'git@github.com:org/demo.git', '/tmp/ws', ?)`, store.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(
		`INSERT INTO worktrees (id, repo_id, slug, branch, path, created_at)
         VALUES ('w1', 'r1', 'feat-x', 'feat/x', '/tmp/ws/feat-x', ?)`, store.Now()); err != nil {
		t.Fatal(err)
	}
	return NewTracker(db), db
}

func TestStartEndLifecycle(t *testing.T) {
	tr, _ := testTracker(t)

	cur, err := tr.Current()
	if err != nil {
		t.Fatal(err)
	}
	if cur != nil {
		t.Fatalf("fresh store has a session: %+v", cur)
	}

	s, err := tr.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Active() {
		t.Error("new session not active")
	}

	if _, err := tr.Start(); !errors.Is(err, ErrActiveSession) {
		t.Fatalf("second Start = %v, want ErrActiveSession", err)
	}

	ended, err := tr.End("shipped the login fix")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.ID != s.ID || ended.Active() || ended.Notes != "shipped the login fix" {
		t.Errorf("ended session: %+v", ended)
	}

	if _, err := tr.End(""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("End with nothing open = %v, want ErrNoSession", err)
	}

	// Starting again after ending is fine.
	if _, err := tr.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestTouchAndWorktreeSlugs(t *testing.T) {
	tr, _ := testTracker(t)

	// No session open: touching is a silent no-op.
	if err := tr.Touch("w1"); err != nil {
		t.Fatalf("Touch without session: %v", err)
	}

	s, err := tr.Start()
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Touch("w1"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Touch("w1"); err != nil {
		t.Fatalf("repeat touch: %v", err)
	}

	slugs, err := tr.WorktreeSlugs(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(slugs) != 1 || slugs[0] != "feat-x" {
		t.Errorf("slugs = %v", slugs)
	}
}

func TestListNewestFirst(t *testing.T) {
	tr, _ := testTracker(t)

	first, _ := tr.Start()
	tr.End("one")
	second, _ := tr.Start()

	sessions, err := tr.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions", len(sessions))
	}
	if sessions[0].ID != second.ID || sessions[1].ID != first.ID {
		t.Errorf("order: %s, %s", sessions[0].ID, sessions[1].ID)
	}
}
