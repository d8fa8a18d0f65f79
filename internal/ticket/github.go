package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ghIssue mirrors the fields requested from `gh issue list --json`.
type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	URL    string `json:"url"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
}

// FetchGitHubIssues lists open issues for owner/repo via the gh CLI and
// normalizes them for upsert.
func FetchGitHubIssues(owner, repoName string) ([]Input, error) {
	out, err := exec.Command(
		"gh", "issue", "list",
		"--repo", owner+"/"+repoName,
		"--state", "open",
		"--limit", "200",
		"--json", "number,title,body,labels,assignees,state,url",
	).Output()
	if err != nil {
		msg := err.Error()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			msg = strings.TrimSpace(string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("%w: gh: %s", ErrSync, msg)
	}

	var issues []ghIssue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("%w: parse gh output: %v", ErrSync, err)
	}

	inputs := make([]Input, 0, len(issues))
	for _, issue := range issues {
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.Name)
		}
		labelsJSON, _ := json.Marshal(labels)

		assignee := ""
		if len(issue.Assignees) > 0 {
			assignee = issue.Assignees[0].Login
		}

		raw, _ := json.Marshal(issue)
		inputs = append(inputs, Input{
			SourceType: "github",
			SourceID:   fmt.Sprint(issue.Number),
			Title:      issue.Title,
			Body:       issue.Body,
			State:      "open",
			Labels:     string(labelsJSON),
			Assignee:   assignee,
			URL:        issue.URL,
			RawJSON:    string(raw),
		})
	}
	return inputs, nil
}

// ParseGitHubRemote extracts owner and repo from a GitHub remote URL.
// Handles SSH (git@github.com:owner/repo.git) and HTTPS forms.
func ParseGitHubRemote(remoteURL string) (owner, repoName string, ok bool) {
	if rest, found := strings.CutPrefix(remoteURL, "git@github.com:"); found {
		rest = strings.TrimSuffix(rest, ".git")
		if o, r, found := strings.Cut(rest, "/"); found && o != "" && r != "" {
			return o, r, true
		}
		return "", "", false
	}

	if _, after, found := strings.Cut(remoteURL, "github.com/"); found {
		after = strings.TrimSuffix(after, ".git")
		if o, r, found := strings.Cut(after, "/"); found && o != "" && r != "" {
			return o, r, true
		}
	}
	return "", "", false
}
