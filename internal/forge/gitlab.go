package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

type gitLab struct{}

func (g *gitLab) Kind() string { return "gitlab" }

func (g *gitLab) CreatePR(dir, branch string, draft bool) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := []string{"mr", "create", "--fill", "--yes", "--source-branch", branch}
	if draft {
		args = append(args, "--draft")
	}

	cmd := exec.CommandContext(ctx, "glab", args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("glab mr create: %s", trimOutput([]byte(stderr.String())))
	}

	// glab prints a few status lines; the MR URL is the one that looks like one.
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// glabMR mirrors the fields we care about from glab's JSON output.
type glabMR struct {
	IID      int    `json:"iid"`
	Title    string `json:"title"`
	State    string `json:"state"`
	WebURL   string `json:"web_url"`
	Draft    bool   `json:"draft"`
	Pipeline *struct {
		Status string `json:"status"`
	} `json:"pipeline"`
}

func (g *gitLab) FetchPR(dir, branch string) (*PR, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx,
		"glab", "mr", "list",
		"--source-branch", branch,
		"-F", "json",
	)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return nil, nil
	}

	var mrs []glabMR
	if err := json.Unmarshal(out, &mrs); err != nil {
		return nil, nil
	}

	// prefer open MR; fall back to most recent (e.g. merged)
	var found *glabMR
	for i := range mrs {
		if mrs[i].State == "opened" {
			found = &mrs[i]
			break
		}
	}
	if found == nil && len(mrs) > 0 {
		found = &mrs[0]
	}
	if found == nil {
		return nil, nil
	}

	pr := &PR{
		Number: found.IID,
		Title:  found.Title,
		URL:    found.WebURL,
		State:  normaliseState(found.State),
		Draft:  found.Draft,
		Forge:  "gitlab",
	}
	if found.Pipeline != nil {
		pr.PipelineStatus = found.Pipeline.Status
	}
	return pr, nil
}

// normaliseState maps GitLab state strings to our unified model.
func normaliseState(s string) string {
	switch s {
	case "opened":
		return "open"
	default:
		return s // "merged", "closed" are already canonical
	}
}
