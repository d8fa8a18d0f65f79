// Package forge abstracts the hosting-provider CLIs (gh, glab) used for
// pull/merge request operations. Conductor shells out rather than speaking
// the APIs directly: the CLIs own authentication and their output is the
// user-facing contract.
package forge

import (
	"strings"

	"conductor/internal/git"
)

// PR holds pull/merge request metadata fetched via gh or glab.
type PR struct {
	Number         int    // GitLab IID or GitHub PR number
	Title          string
	URL            string
	State          string // "open", "merged", "closed"
	Draft          bool
	PipelineStatus string // "success", "failed", "pending", ""
	Forge          string // "github" | "gitlab"
}

// Forge is a provider-specific CLI wrapper. dir is always the worktree the
// operation concerns; the CLIs infer the repository from it.
type Forge interface {
	Kind() string // "github" | "gitlab"
	// CreatePR opens a PR/MR for branch from dir and returns its URL.
	CreatePR(dir, branch string, draft bool) (string, error)
	// FetchPR returns the most relevant PR/MR for branch, or nil if none.
	FetchPR(dir, branch string) (*PR, error)
}

// Detect returns the Forge for the repo at repoPath, or nil if the remote is
// unrecognised or missing.
func Detect(repoPath string) Forge {
	remote, err := git.RemoteURL(repoPath)
	if err != nil {
		return nil
	}
	remote = strings.ToLower(remote)
	switch {
	case strings.Contains(remote, "github.com"):
		return &gitHub{}
	case strings.Contains(remote, "gitlab"):
		return &gitLab{}
	default:
		return nil
	}
}

func trimOutput(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "…"
	}
	return s
}
