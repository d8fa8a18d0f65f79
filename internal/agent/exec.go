package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// claudeBin is a package var so tests can point it at a stub.
var claudeBin = "claude"

// Exec runs the coding agent to completion inside worktreePath and records
// the outcome on the run row. This is what the hidden `agent exec` subcommand
// calls from inside the tmux session; the parent process does not wait on it.
//
// The agent's stdout carries exactly one JSON result object. That object is
// the source of truth: a non-zero exit with parseable JSON is still whatever
// the JSON says, and a zero exit with garbage output is a failure.
func (m *Manager) Exec(runID, worktreePath, prompt, resumeSessionID string) error {
	args := []string{"-p", prompt, "--output-format", "json", "--permission-mode", "acceptEdits"}
	if resumeSessionID != "" {
		args = append(args, "--resume", resumeSessionID)
	}

	cmd := exec.Command(claudeBin, args...)
	cmd.Dir = worktreePath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	res, parseErr := parseResult(stdout.Bytes())
	if parseErr != nil {
		msg := fmt.Sprintf("agent produced no result: %v", parseErr)
		if runErr != nil {
			msg = fmt.Sprintf("agent exited: %v", runErr)
		}
		if tail := lastLines(stderr.String(), 5); tail != "" {
			msg += "\n" + tail
		}
		if _, err := m.MarkFailed(runID, msg); err != nil {
			return err
		}
		return fmt.Errorf("%s", msg)
	}

	if res.IsError {
		msg := res.Result
		if msg == "" {
			msg = "agent reported an error"
		}
		if _, err := m.MarkFailed(runID, msg); err != nil {
			return err
		}
		return nil
	}

	won, err := m.MarkCompleted(runID, res)
	if err != nil {
		return err
	}
	if !won {
		m.log.Printf("run %s finished but was already finalised", runID)
	}
	return nil
}

// parseResult extracts the result object from the agent's stdout, tolerating
// stray lines before the JSON.
func parseResult(out []byte) (Result, error) {
	var res Result
	idx := bytes.IndexByte(out, '{')
	if idx < 0 {
		return res, fmt.Errorf("no JSON object in output")
	}
	dec := json.NewDecoder(bytes.NewReader(out[idx:]))
	if err := dec.Decode(&res); err != nil {
		return res, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}

func lastLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
