package repo

import (
	"errors"
	"path/filepath"
	"testing"

	"conductor/internal/config"
	"conductor/internal/store"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "conductor.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cfg := config.Default()
	cfg.General.WorkspaceRoot = "/tmp/ws"
	return NewManager(db, cfg)
}

func TestAddAndGet(t *testing.T) {
	m := testManager(t)

	r, err := m.Add("demo", "/tmp/demo", "https://github.com/org/demo.git", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r.DefaultBranch != "main" {
		t.Errorf("default branch = %q", r.DefaultBranch)
	}
	if r.WorkspaceDir != filepath.Join("/tmp/ws", "demo") {
		t.Errorf("workspace dir = %q", r.WorkspaceDir)
	}

	got, err := m.GetBySlug("demo")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if got.ID != r.ID || got.RemoteURL != r.RemoteURL {
		t.Errorf("GetBySlug = %+v, want %+v", got, r)
	}

	byID, err := m.GetByID(r.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.Slug != "demo" {
		t.Errorf("GetByID slug = %q", byID.Slug)
	}
}

func TestAddRejectsDuplicateSlug(t *testing.T) {
	m := testManager(t)
	if _, err := m.Add("demo", "/a", "u", ""); err != nil {
		t.Fatal(err)
	}
	_, err := m.Add("demo", "/b", "v", "")
	if !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
}

func TestListOrdersBySlug(t *testing.T) {
	m := testManager(t)
	for _, slug := range []string{"zeta", "alpha", "mid"} {
		if _, err := m.Add(slug, "/p", "u-"+slug, ""); err != nil {
			t.Fatal(err)
		}
	}
	repos, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(repos) != 3 || repos[0].Slug != "alpha" || repos[2].Slug != "zeta" {
		t.Errorf("unexpected order: %+v", repos)
	}
}

func TestRemove(t *testing.T) {
	m := testManager(t)
	if _, err := m.Add("demo", "/p", "u", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("demo"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := m.GetBySlug("demo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after remove, err = %v, want ErrNotFound", err)
	}
	if err := m.Remove("demo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove err = %v, want ErrNotFound", err)
	}
}

func TestDeriveSlug(t *testing.T) {
	cases := map[string]string{
		"https://github.com/org/repo.git": "repo",
		"git@github.com:org/repo.git":     "repo",
		"https://github.com/org/repo":     "repo",
		"weird":                           "weird",
		"":                                "repo",
	}
	for url, want := range cases {
		if got := DeriveSlug(url); got != want {
			t.Errorf("DeriveSlug(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestDeriveLocalPath(t *testing.T) {
	cfg := config.Default()
	cfg.General.WorkspaceRoot = "/srv/work"
	if got := DeriveLocalPath(cfg, "demo"); got != "/srv/work/demo/main" {
		t.Errorf("DeriveLocalPath = %q", got)
	}
}
