package ticket

import (
	"encoding/json"
	"fmt"
)

// fetchGitHub is swapped out in tests; production always hits the gh CLI.
var fetchGitHub = FetchGitHubIssues

// SyncResult summarises one repo's sync pass.
type SyncResult struct {
	RepoSlug string
	Count    int // tickets upserted
	Closed   int // cached tickets no longer open upstream
	Merged   int // worktrees flipped to merged via closed tickets
}

// SyncRepo pulls every configured source for a repo and reconciles the
// cache. A repo with no configured sources falls back to auto-detecting
// GitHub from its remote URL; a repo that matches nothing syncs zero tickets
// without error.
func (s *Syncer) SyncRepo(sources *SourceManager, repoID, repoSlug, remoteURL string) (SyncResult, error) {
	res := SyncResult{RepoSlug: repoSlug}

	configured, err := sources.List(repoID)
	if err != nil {
		return res, err
	}

	if len(configured) == 0 {
		owner, name, ok := ParseGitHubRemote(remoteURL)
		if !ok {
			return res, nil
		}
		return s.syncGitHub(res, repoID, owner, name)
	}

	for _, src := range configured {
		switch src.SourceType {
		case "github":
			var cfg GitHubConfig
			if err := json.Unmarshal([]byte(src.ConfigJSON), &cfg); err != nil {
				return res, fmt.Errorf("%w: invalid github config: %v", ErrSync, err)
			}
			res, err = s.syncGitHub(res, repoID, cfg.Owner, cfg.Repo)
			if err != nil {
				return res, err
			}
		default:
			return res, fmt.Errorf("%w: unsupported source type %q", ErrSync, src.SourceType)
		}
	}
	return res, nil
}

func (s *Syncer) syncGitHub(res SyncResult, repoID, owner, name string) (SyncResult, error) {
	inputs, err := fetchGitHub(owner, name)
	if err != nil {
		return res, err
	}
	count, err := s.Upsert(repoID, inputs)
	if err != nil {
		return res, err
	}
	present := make([]string, 0, len(inputs))
	for _, in := range inputs {
		present = append(present, in.SourceID)
	}
	closed, err := s.CloseMissing(repoID, "github", present)
	if err != nil {
		return res, err
	}
	merged, err := s.MarkWorktreesMerged(repoID)
	if err != nil {
		return res, err
	}
	res.Count += count
	res.Closed += closed
	res.Merged += merged
	return res, nil
}
