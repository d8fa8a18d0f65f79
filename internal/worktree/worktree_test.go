package worktree

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"conductor/internal/config"
	"conductor/internal/repo"
	"conductor/internal/store"
)

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %s", args, out)
	}
}

type fixture struct {
	mgr     *Manager
	repoMgr *repo.Manager
	cfg     *config.Config
	local   string // primary checkout
	repo    *repo.Repo
}

// newFixture builds a registered repo backed by a real git clone with a bare
// remote, plus a workspace directory for worktrees.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	remote := filepath.Join(tmp, "remote.git")
	local := filepath.Join(tmp, "local")

	if err := os.MkdirAll(remote, 0o755); err != nil {
		t.Fatal(err)
	}
	mustGit(t, remote, "init", "--bare", "-b", "main")
	mustGit(t, tmp, "clone", remote, local)
	mustGit(t, local, "config", "user.email", "test@test.com")
	mustGit(t, local, "config", "user.name", "Test")
	mustGit(t, local, "checkout", "-b", "main")
	if err := os.WriteFile(filepath.Join(local, "README.md"), []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, local, "add", "README.md")
	mustGit(t, local, "commit", "-m", "initial")
	mustGit(t, local, "push", "-u", "origin", "main")

	db, err := store.Open(filepath.Join(tmp, "conductor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.General.WorkspaceRoot = filepath.Join(tmp, "workspaces")

	repoMgr := repo.NewManager(db, cfg)
	r, err := repoMgr.Add("demo", local, "https://example.com/demo.git", "")
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{
		mgr:     NewManager(db, cfg),
		repoMgr: repoMgr,
		cfg:     cfg,
		local:   local,
		repo:    r,
	}
}

func TestSplitName(t *testing.T) {
	d := config.Default().Defaults
	cases := []struct {
		name, slug, branch string
	}{
		{"login", "feat-login", "feat/login"},
		{"feat-login", "feat-login", "feat/login"},
		{"fix-scan-crash", "fix-scan-crash", "fix/scan-crash"},
		{"fixture", "feat-fixture", "feat/fixture"},
	}
	for _, c := range cases {
		slug, branch := SplitName(c.name, d)
		if slug != c.slug || branch != c.branch {
			t.Errorf("SplitName(%q) = (%q, %q), want (%q, %q)", c.name, slug, branch, c.slug, c.branch)
		}
	}
}

func TestCreateWorktree(t *testing.T) {
	f := newFixture(t)

	w, warnings, err := f.mgr.Create("demo", "login", "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings: %v", warnings)
	}
	if w.Slug != "feat-login" || w.Branch != "feat/login" {
		t.Errorf("slug/branch = %q/%q", w.Slug, w.Branch)
	}
	want := filepath.Join(f.repo.WorkspaceDir, "feat-login")
	if w.Path != want {
		t.Errorf("path = %q, want %q", w.Path, want)
	}
	if _, err := os.Stat(filepath.Join(w.Path, "README.md")); err != nil {
		t.Error("worktree not checked out on disk")
	}

	got, err := f.mgr.GetByID(w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsActive() {
		t.Errorf("status = %q", got.Status)
	}
}

func TestCreateRejectsActiveDuplicate(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.mgr.Create("demo", "login", "", ""); err != nil {
		t.Fatal(err)
	}
	_, _, err := f.mgr.Create("demo", "login", "", "")
	if !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
}

func TestCreateReusesCompletedSlug(t *testing.T) {
	f := newFixture(t)
	w1, _, err := f.mgr.Create("demo", "login", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Delete("demo", "feat-login"); err != nil {
		t.Fatal(err)
	}

	w2, _, err := f.mgr.Create("demo", "login", "", "")
	if err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
	if w2.ID == w1.ID {
		t.Error("expected a fresh row")
	}
	// The completed record was purged to free the slug.
	all, err := f.mgr.List("demo", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("got %d rows, want 1: %+v", len(all), all)
	}
}

func TestDeleteMergedVsAbandoned(t *testing.T) {
	f := newFixture(t)

	// Branch with no extra commits is reachable from main: merged.
	if _, _, err := f.mgr.Create("demo", "merged-work", "", ""); err != nil {
		t.Fatal(err)
	}
	w, err := f.mgr.Delete("demo", "feat-merged-work")
	if err != nil {
		t.Fatal(err)
	}
	if w.Status != "merged" {
		t.Errorf("status = %q, want merged", w.Status)
	}
	if w.CompletedAt == "" {
		t.Error("completed_at not stamped")
	}

	// Branch with its own commit is not reachable: abandoned.
	w2, _, err := f.mgr.Create("demo", "abandoned-work", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(w2.Path, "wip.txt"), []byte("wip"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, w2.Path, "add", "wip.txt")
	mustGit(t, w2.Path, "commit", "-m", "wip")

	got, err := f.mgr.Delete("demo", "feat-abandoned-work")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "abandoned" {
		t.Errorf("status = %q, want abandoned", got.Status)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.mgr.Create("demo", "login", "", ""); err != nil {
		t.Fatal(err)
	}
	first, err := f.mgr.Delete("demo", "feat-login")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.mgr.Delete("demo", "feat-login")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if second.Status != first.Status || second.CompletedAt != first.CompletedAt {
		t.Errorf("second delete changed the row: %+v vs %+v", second, first)
	}
}

func TestDeleteToleratesMissingDirectory(t *testing.T) {
	f := newFixture(t)
	w, _, err := f.mgr.Create("demo", "login", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(w.Path); err != nil {
		t.Fatal(err)
	}
	got, err := f.mgr.Delete("demo", "feat-login")
	if err != nil {
		t.Fatalf("delete with missing dir: %v", err)
	}
	if got.IsActive() {
		t.Error("worktree still active")
	}
}

func TestDeleteRefusesWhileAgentRunning(t *testing.T) {
	f := newFixture(t)
	w, _, err := f.mgr.Create("demo", "login", "", "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.mgr.db.Exec(
		`INSERT INTO agent_runs (id, worktree_id, prompt, status, started_at)
         VALUES (?, ?, 'p', 'running', ?)`, store.NewID(), w.ID, store.Now())
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.mgr.Delete("demo", "feat-login")
	if !errors.Is(err, ErrAgentRunning) {
		t.Fatalf("err = %v, want ErrAgentRunning", err)
	}

	// Once the run completes, delete goes through.
	if _, err := f.mgr.db.Exec(`UPDATE agent_runs SET status = 'completed'`); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Delete("demo", "feat-login"); err != nil {
		t.Fatalf("delete after completion: %v", err)
	}
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.mgr.Create("demo", "one", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.mgr.Create("demo", "two", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Delete("demo", "feat-one"); err != nil {
		t.Fatal(err)
	}

	// Active rows are never purged.
	n, err := f.mgr.Purge("demo", "feat-two")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("purged %d active rows", n)
	}

	n, err = f.mgr.Purge("demo", "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}

	rest, err := f.mgr.List("demo", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].Slug != "feat-two" {
		t.Errorf("remaining = %+v", rest)
	}
}

func TestListOrdersActiveFirst(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.mgr.Create("demo", "first", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.mgr.Create("demo", "second", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Delete("demo", "feat-first"); err != nil {
		t.Fatal(err)
	}

	all, err := f.mgr.List("demo", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Slug != "feat-second" || all[1].Slug != "feat-first" {
		t.Errorf("order = %+v", all)
	}

	active, err := f.mgr.List("demo", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Slug != "feat-second" {
		t.Errorf("active = %+v", active)
	}
}

func TestCreateInstallsDepsByLockfile(t *testing.T) {
	// installDeps picks the package manager from the lockfile; verify the
	// selection logic without actually running an install.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	// No lockfile: npm would be chosen. We only verify it doesn't panic when
	// the package manager is absent.
	installDeps(dir)
}

func TestSlugFromTicket(t *testing.T) {
	cases := []struct {
		sourceID, title, want string
	}{
		{"15", "TUI: create worktree", "15-tui-create-worktree"},
		{"7", "Fix crash!!!", "7-fix-crash"},
		{"123", "A very long ticket title that should get truncated at a dash boundary", "123-a-very-long-ticket-title-that"},
	}
	for _, c := range cases {
		got := SlugFromTicket(c.sourceID, c.title)
		if got != c.want {
			t.Errorf("SlugFromTicket(%q, %q) = %q, want %q", c.sourceID, c.title, got, c.want)
		}
		if len(got) > 40 {
			t.Errorf("slug %q exceeds 40 chars", got)
		}
	}
	if !strings.HasPrefix(SlugFromTicket("9", ""), "9-") {
		t.Error("empty title should still produce a prefixed slug")
	}
}
