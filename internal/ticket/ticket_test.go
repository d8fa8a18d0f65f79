package ticket

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"conductor/internal/store"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "conductor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	// A repo and a worktree to hang tickets off.
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
	return db
}

func sample(id, title string) Input {
	return Input{
		SourceType: "github",
		SourceID:   id,
		Title:      title,
		State:      "open",
		Labels:     `["bug"]`,
		URL:        "https://github.com/org/demo/issues/" + id,
		RawJSON:    "{}",
	}
}

func TestUpsertInsertsAndUpdates(t *testing.T) {
	s := NewSyncer(testDB(t))

	n, err := s.Upsert("r1", []Input{sample("1", "First"), sample("2", "Second")})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if n != 2 {
		t.Errorf("upserted %d, want 2", n)
	}

	// Re-sync with a changed title updates in place, no duplicate rows.
	n, err = s.Upsert("r1", []Input{sample("1", "First (edited)")})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("upserted %d, want 1", n)
	}

	tickets, err := s.List("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tickets) != 2 {
		t.Fatalf("got %d tickets, want 2", len(tickets))
	}
	var found bool
	for _, tk := range tickets {
		if tk.SourceID == "1" && tk.Title == "First (edited)" {
			found = true
		}
	}
	if !found {
		t.Errorf("edited title not persisted: %+v", tickets)
	}
}

func TestCloseMissing(t *testing.T) {
	s := NewSyncer(testDB(t))
	if _, err := s.Upsert("r1", []Input{sample("1", "a"), sample("2", "b"), sample("3", "c")}); err != nil {
		t.Fatal(err)
	}

	closed, err := s.CloseMissing("r1", "github", []string{"1", "3"})
	if err != nil {
		t.Fatal(err)
	}
	if closed != 1 {
		t.Errorf("closed %d, want 1", closed)
	}

	tickets, err := s.List("r1")
	if err != nil {
		t.Fatal(err)
	}
	for _, tk := range tickets {
		want := "open"
		if tk.SourceID == "2" {
			want = "closed"
		}
		if tk.State != want {
			t.Errorf("ticket %s state = %q, want %q", tk.SourceID, tk.State, want)
		}
	}

	// Closing again is a no-op.
	closed, err = s.CloseMissing("r1", "github", []string{"1", "3"})
	if err != nil {
		t.Fatal(err)
	}
	if closed != 0 {
		t.Errorf("second pass closed %d, want 0", closed)
	}
}

func TestLinkAndMarkWorktreesMerged(t *testing.T) {
	db := testDB(t)
	s := NewSyncer(db)
	if _, err := s.Upsert("r1", []Input{sample("1", "a")}); err != nil {
		t.Fatal(err)
	}
	tickets, err := s.List("r1")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.LinkToWorktree(tickets[0].ID, "w1"); err != nil {
		t.Fatalf("LinkToWorktree: %v", err)
	}

	// Ticket still open: nothing to mark.
	n, err := s.MarkWorktreesMerged("r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("marked %d with open ticket", n)
	}

	// Upstream closed the ticket.
	if _, err := s.CloseMissing("r1", "github", nil); err != nil {
		t.Fatal(err)
	}
	n, err = s.MarkWorktreesMerged("r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("marked %d, want 1", n)
	}

	var status string
	if err := db.QueryRow(`SELECT status FROM worktrees WHERE id = 'w1'`).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != "merged" {
		t.Errorf("worktree status = %q, want merged", status)
	}
}

func TestMarkWorktreesMergedSkipsLiveAgents(t *testing.T) {
	db := testDB(t)
	s := NewSyncer(db)
	if _, err := s.Upsert("r1", []Input{sample("1", "a")}); err != nil {
		t.Fatal(err)
	}
	tickets, _ := s.List("r1")
	if err := s.LinkToWorktree(tickets[0].ID, "w1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CloseMissing("r1", "github", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(
		`INSERT INTO agent_runs (id, worktree_id, prompt, status, started_at)
         VALUES ('a1', 'w1', 'p', 'running', ?)`, store.Now()); err != nil {
		t.Fatal(err)
	}

	n, err := s.MarkWorktreesMerged("r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("marked %d while agent running, want 0", n)
	}
}

func TestSourceManager(t *testing.T) {
	m := NewSourceManager(testDB(t))

	src, err := m.Add("r1", "github", `{"owner":"org","repo":"demo"}`)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if src.SourceType != "github" {
		t.Errorf("type = %q", src.SourceType)
	}

	if _, err := m.Add("r1", "github", `{"owner":"other","repo":"x"}`); !errors.Is(err, ErrSourceExists) {
		t.Fatalf("duplicate err = %v, want ErrSourceExists", err)
	}

	sources, err := m.List("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources", len(sources))
	}

	removed, err := m.RemoveByType("r1", "github")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("RemoveByType returned false")
	}
	removed, err = m.RemoveByType("r1", "github")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Error("second RemoveByType returned true")
	}
}

func TestSyncRepoAutoDetectsGitHub(t *testing.T) {
	db := testDB(t)
	s := NewSyncer(db)

	orig := fetchGitHub
	defer func() { fetchGitHub = orig }()
	var gotOwner, gotRepo string
	fetchGitHub = func(owner, repoName string) ([]Input, error) {
		gotOwner, gotRepo = owner, repoName
		return []Input{sample("1", "a"), sample("2", "b")}, nil
	}

	res, err := s.SyncRepo(NewSourceManager(db), "r1", "demo", "git@github.com:org/demo.git")
	if err != nil {
		t.Fatalf("SyncRepo: %v", err)
	}
	if gotOwner != "org" || gotRepo != "demo" {
		t.Errorf("fetched %s/%s", gotOwner, gotRepo)
	}
	if res.Count != 2 {
		t.Errorf("count = %d, want 2", res.Count)
	}

	// A second sync that drops issue 2 closes it.
	fetchGitHub = func(owner, repoName string) ([]Input, error) {
		return []Input{sample("1", "a")}, nil
	}
	res, err = s.SyncRepo(NewSourceManager(db), "r1", "demo", "git@github.com:org/demo.git")
	if err != nil {
		t.Fatal(err)
	}
	if res.Closed != 1 {
		t.Errorf("closed = %d, want 1", res.Closed)
	}
}

func TestSyncRepoUnrecognisedRemoteIsNoop(t *testing.T) {
	db := testDB(t)
	s := NewSyncer(db)
	res, err := s.SyncRepo(NewSourceManager(db), "r1", "demo", "https://gitlab.com/org/demo.git")
	if err != nil {
		t.Fatalf("SyncRepo: %v", err)
	}
	if res.Count != 0 {
		t.Errorf("count = %d, want 0", res.Count)
	}
}

func TestParseGitHubRemote(t *testing.T) {
	cases := []struct {
		url, owner, repo string
		ok               bool
	}{
		{"git@github.com:org/demo.git", "org", "demo", true},
		{"https://github.com/org/demo.git", "org", "demo", true},
		{"https://github.com/org/demo", "org", "demo", true},
		{"https://gitlab.com/org/demo.git", "", "", false},
		{"nonsense", "", "", false},
	}
	for _, c := range cases {
		owner, repoName, ok := ParseGitHubRemote(c.url)
		if owner != c.owner || repoName != c.repo || ok != c.ok {
			t.Errorf("ParseGitHubRemote(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.url, owner, repoName, ok, c.owner, c.repo, c.ok)
		}
	}
}
