// Package tmux wraps the tmux CLI on a dedicated socket. Each agent run gets
// its own detached session, so conductor never touches the user's personal
// tmux server and the dashboard does not need to run inside tmux itself.
package tmux

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const socketName = "conductor"

func command(args ...string) *exec.Cmd {
	return exec.Command("tmux", append([]string{"-L", socketName}, args...)...)
}

// SessionExists reports whether a named session exists on the conductor socket.
func SessionExists(name string) bool {
	return command("has-session", "-t", "="+name).Run() == nil
}

// SpawnSession creates a detached session named name running argv in dir.
// Fails if the session already exists.
func SpawnSession(name, dir string, argv ...string) error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}
	args := append([]string{"-L", socketName, "-f", cfgPath,
		"new-session", "-d", "-s", name, "-c", dir}, argv...)
	cmd := exec.Command("tmux", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux new-session: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// KillSession tears down a session. "Session not found" and "no server
// running" are not errors: the desired state is already true.
func KillSession(name string) error {
	out, err := command("kill-session", "-t", "="+name).CombinedOutput()
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(string(out))
	if strings.Contains(msg, "can't find session") ||
		strings.Contains(msg, "session not found") ||
		strings.Contains(msg, "no server running") {
		return nil
	}
	return fmt.Errorf("tmux kill-session: %s", msg)
}

// AttachCmd returns a command that attaches the terminal to a named session.
// Pass the result to tea.ExecProcess — the dashboard resumes when the user
// detaches (Ctrl+]) or the agent exits.
func AttachCmd(name string) *exec.Cmd {
	return command("attach-session", "-t", "="+name)
}

// CapturePane returns the current contents of a session's active pane,
// useful for showing a tail of agent output without attaching.
func CapturePane(name string) (string, error) {
	out, err := command("capture-pane", "-t", "="+name, "-p", "-J").Output()
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane: %w", err)
	}
	return string(out), nil
}

// configPath returns the conductor tmux config path, writing defaults if
// absent. The config adds Ctrl+] as a no-prefix detach key so users can
// return to the dashboard without knowing tmux shortcuts.
func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	p := filepath.Join(dir, "conductor", "tmux.conf")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	const conf = "# Conductor tmux config — do not edit manually\n" +
		"# Ctrl+] returns you to the dashboard without stopping the agent\n" +
		"bind-key -n C-] detach-client\n" +
		"# Mouse wheel / PageUp enters scroll mode so you can read long output\n" +
		"set -g mouse on\n" +
		"bind-key -n PageUp copy-mode\n"
	if err := os.WriteFile(p, []byte(conf), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return p, nil
}
