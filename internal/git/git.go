// Package git shells out to the git CLI. Conductor never links a git
// library; the CLI is the contract, and its stderr is preserved verbatim in
// errors so users see the same diagnostics git would print.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrDirtyWorktree is returned when an operation requires a clean working
// tree and finds uncommitted changes.
var ErrDirtyWorktree = errors.New("uncommitted changes on base branch, please commit or stash first")

// run executes git with dir as the working directory, returning trimmed
// stdout. On failure the error carries git's stderr.
func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ok runs git and reports only whether it succeeded.
func ok(dir string, args ...string) bool {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.Run() == nil
}

// BranchExists reports whether a local branch exists.
func BranchExists(repoPath, branch string) bool {
	return ok(repoPath, "rev-parse", "--verify", "refs/heads/"+branch)
}

// DetectRemoteHead returns the remote's default branch from origin/HEAD,
// or "" if it is not set (plain clones often lack it).
func DetectRemoteHead(repoPath string) string {
	out, err := run(repoPath, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(out, "refs/remotes/origin/")
}

// ResolveBaseBranch picks the branch new worktrees fork from:
//  1. the configured default, if it exists locally
//  2. the remote HEAD
//  3. main, then master
//  4. the configured default regardless
func ResolveBaseBranch(repoPath, configuredDefault string) string {
	if BranchExists(repoPath, configuredDefault) {
		return configuredDefault
	}
	if head := DetectRemoteHead(repoPath); head != "" {
		return head
	}
	for _, name := range []string{"main", "master"} {
		if BranchExists(repoPath, name) {
			return name
		}
	}
	return configuredDefault
}

// EnsureBaseUpToDate fast-forwards the base branch from origin before a
// worktree is created. Returns non-fatal warnings (fetch failure, diverged
// base, failed checkout); a dirty working tree is the only hard error.
func EnsureBaseUpToDate(repoPath, baseBranch string) ([]string, error) {
	var warnings []string

	status, err := run(repoPath, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if status != "" {
		return nil, ErrDirtyWorktree
	}

	if !ok(repoPath, "fetch", "origin") {
		warnings = append(warnings, "could not fetch from origin; creating worktree from local state")
		return warnings, nil
	}

	if !ok(repoPath, "rev-parse", "--verify", "refs/remotes/origin/"+baseBranch) {
		// No remote tracking branch: nothing to fast-forward.
		return warnings, nil
	}

	current, _ := run(repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	originRef := "origin/" + baseBranch

	if current == baseBranch {
		if !ok(repoPath, "merge", "--ff-only", originRef) {
			warnings = append(warnings, fmt.Sprintf(
				"base branch '%s' has diverged from origin; consider `git pull --rebase`", baseBranch))
		}
		return warnings, nil
	}

	// Another branch (or a detached HEAD) is checked out: switch first.
	if !ok(repoPath, "checkout", baseBranch) {
		warnings = append(warnings, fmt.Sprintf(
			"could not checkout '%s'; creating worktree from local state", baseBranch))
		return warnings, nil
	}
	if !ok(repoPath, "merge", "--ff-only", originRef) {
		warnings = append(warnings, fmt.Sprintf(
			"base branch '%s' has diverged from origin; consider `git pull --rebase`", baseBranch))
	}
	return warnings, nil
}

// CreateBranch creates branch at base without checking it out.
func CreateBranch(repoPath, branch, base string) error {
	_, err := run(repoPath, "branch", branch, base)
	return err
}

// AddWorktree checks out branch into a new worktree at path.
func AddWorktree(repoPath, path, branch string) error {
	_, err := run(repoPath, "worktree", "add", path, branch)
	return err
}

// RemoveWorktree force-removes the worktree at path. Best-effort: a missing
// directory or already-pruned worktree is not an error worth surfacing.
func RemoveWorktree(repoPath, path string) {
	_, _ = run(repoPath, "worktree", "remove", path, "--force")
}

// DeleteBranch force-deletes a local branch, best-effort.
func DeleteBranch(repoPath, branch string) {
	_, _ = run(repoPath, "branch", "-D", branch)
}

// IsBranchMerged reports whether branch is reachable from defaultBranch.
// Squash merges are invisible here; callers layer ticket state on top.
func IsBranchMerged(repoPath, branch, defaultBranch string) bool {
	out, err := run(repoPath, "branch", "--merged", defaultBranch)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimPrefix(strings.TrimSpace(line), "* ") == branch {
			return true
		}
	}
	return false
}

// Push pushes branch to origin with an upstream set.
func Push(worktreePath, branch string) error {
	_, err := run(worktreePath, "push", "-u", "origin", branch)
	return err
}

// Status is a point-in-time summary of a worktree, computed on demand and
// never persisted.
type Status struct {
	Dirty  bool
	Ahead  int
	Behind int
}

// WorktreeStatus reports whether the worktree has uncommitted changes and
// how far its branch is from the upstream. Ahead/Behind stay zero when no
// upstream is configured.
func WorktreeStatus(worktreePath string) (Status, error) {
	var st Status
	porcelain, err := run(worktreePath, "status", "--porcelain")
	if err != nil {
		return st, err
	}
	st.Dirty = porcelain != ""

	counts, err := run(worktreePath, "rev-list", "--left-right", "--count", "@{upstream}...HEAD")
	if err != nil {
		// No upstream yet — a freshly created branch.
		return st, nil
	}
	fields := strings.Fields(counts)
	if len(fields) == 2 {
		st.Behind, _ = strconv.Atoi(fields[0])
		st.Ahead, _ = strconv.Atoi(fields[1])
	}
	return st, nil
}

// RemoteURL returns the origin remote URL for the repo at repoPath.
func RemoteURL(repoPath string) (string, error) {
	return run(repoPath, "remote", "get-url", "origin")
}

// BranchToSlug normalises a branch name into a filesystem/tmux-safe slug.
func BranchToSlug(branch string) string {
	if branch == "" {
		return "unknown"
	}
	s := strings.ToLower(branch)
	s = strings.ReplaceAll(s, "/", "-")
	return s
}
