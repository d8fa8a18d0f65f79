package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"conductor/internal/agent"
	"conductor/internal/config"
	"conductor/internal/logging"
	"conductor/internal/repo"
	"conductor/internal/session"
	"conductor/internal/store"
	"conductor/internal/ticket"
	"conductor/internal/tmux"
	"conductor/internal/tui"
	"conductor/internal/worktree"
)

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	db        *sql.DB
	repos     *repo.Manager
	worktrees *worktree.Manager
	agents    *agent.Manager
	tickets   *ticket.Syncer
	sources   *ticket.SourceManager
	sessions  *session.Tracker
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDirs(cfg); err != nil {
		return nil, err
	}
	log, err := logging.New(config.LogDir())
	if err != nil {
		return nil, err
	}
	db, err := store.Open(config.DBPath())
	if err != nil {
		log.Close()
		return nil, err
	}
	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		repos:     repo.NewManager(db, cfg),
		worktrees: worktree.NewManager(db, cfg),
		agents:    agent.NewManager(db, log),
		tickets:   ticket.NewSyncer(db),
		sources:   ticket.NewSourceManager(db),
		sessions:  session.NewTracker(db),
	}, nil
}

func (a *app) close() {
	a.db.Close()
	a.log.Close()
}

func (a *app) deps() tui.Deps {
	return tui.Deps{
		Cfg:       a.cfg,
		Log:       a.log,
		Repos:     a.repos,
		Worktrees: a.worktrees,
		Agents:    a.agents,
		Tickets:   a.tickets,
		Sources:   a.sources,
	}
}

func main() {
	root := &cobra.Command{
		Use:          "conductor",
		Short:        "Orchestrate git worktrees and coding agents across repos",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard()
		},
	}

	root.AddCommand(repoCmd(), worktreeCmd(), ticketsCmd(), sessionCmd(), agentCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDashboard() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	deps := a.deps()
	d := tui.NewDispatcher(0)
	stop := make(chan struct{})

	p := tea.NewProgram(tui.New(deps, d), tea.WithAltScreen())
	go d.Forward(p.Send)
	go tui.SyncLoop(deps, d, stop)
	go tui.PollLoop(d, a.cfg.PollInterval(), stop)

	_, err = p.Run()
	close(stop)
	d.Close()
	return err
}

// — repo ————————————————————————————————————————————————————————————————————

func repoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "repo", Short: "Manage registered repositories"}

	var localPath, workspaceDir string
	add := &cobra.Command{
		Use:   "add <remote-url>",
		Short: "Register a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			remoteURL := args[0]
			slug := repo.DeriveSlug(remoteURL)
			if localPath == "" {
				localPath = repo.DeriveLocalPath(a.cfg, slug)
			}
			r, err := a.repos.Add(slug, localPath, remoteURL, workspaceDir)
			if err != nil {
				return err
			}
			fmt.Printf("registered %s\n  checkout:  %s\n  workspace: %s\n", r.Slug, r.LocalPath, r.WorkspaceDir)
			return nil
		},
	}
	add.Flags().StringVar(&localPath, "path", "", "path to the primary checkout")
	add.Flags().StringVar(&workspaceDir, "workspace", "", "directory for this repo's worktrees")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			repos, err := a.repos.List()
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				fmt.Println("no repos registered")
				return nil
			}
			for _, r := range repos {
				fmt.Printf("%-20s %s\n", r.Slug, r.RemoteURL)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <slug>",
		Short: "Remove a repository and its cached state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.repos.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, remove, sourcesCmd())
	return cmd
}

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sources", Short: "Manage a repo's issue sources"}

	var owner, ghRepo string
	add := &cobra.Command{
		Use:   "add <repo-slug> github",
		Short: "Add an issue source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.repos.GetBySlug(args[0])
			if err != nil {
				return err
			}
			if args[1] != "github" {
				return fmt.Errorf("unsupported source type %q (only github)", args[1])
			}
			if owner == "" || ghRepo == "" {
				if o, name, ok := ticket.ParseGitHubRemote(r.RemoteURL); ok {
					owner, ghRepo = o, name
				} else {
					return fmt.Errorf("cannot derive owner/repo from %s; pass --owner and --repo", r.RemoteURL)
				}
			}
			cfgJSON := fmt.Sprintf(`{"owner":%q,"repo":%q}`, owner, ghRepo)
			if _, err := a.sources.Add(r.ID, "github", cfgJSON); err != nil {
				return err
			}
			fmt.Printf("added github source %s/%s for %s\n", owner, ghRepo, r.Slug)
			return nil
		},
	}
	add.Flags().StringVar(&owner, "owner", "", "GitHub owner (derived from the remote when omitted)")
	add.Flags().StringVar(&ghRepo, "repo", "", "GitHub repo name (derived from the remote when omitted)")

	list := &cobra.Command{
		Use:   "list <repo-slug>",
		Short: "List a repo's issue sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.repos.GetBySlug(args[0])
			if err != nil {
				return err
			}
			sources, err := a.sources.List(r.ID)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				fmt.Println("no sources configured (GitHub is auto-detected from the remote)")
				return nil
			}
			for _, s := range sources {
				fmt.Printf("%-10s %s\n", s.SourceType, s.ConfigJSON)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <repo-slug> <type>",
		Short: "Remove an issue source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.repos.GetBySlug(args[0])
			if err != nil {
				return err
			}
			removed, err := a.sources.RemoveByType(r.ID, args[1])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no %s source configured for %s", args[1], r.Slug)
			}
			fmt.Printf("removed %s source from %s\n", args[1], r.Slug)
			return nil
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

// — worktree ————————————————————————————————————————————————————————————————

func worktreeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "worktree", Short: "Manage worktrees"}

	var fromBranch, ticketID string
	create := &cobra.Command{
		Use:   "create <repo-slug> [name]",
		Short: "Create a branch and worktree (name derived from --ticket when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			name := ""
			if len(args) > 1 {
				name = args[1]
			}
			if name == "" {
				if ticketID == "" {
					return fmt.Errorf("pass a name or --ticket to derive one")
				}
				tk, err := a.tickets.Get(ticketID)
				if err != nil {
					return err
				}
				name = worktree.SlugFromTicket(tk.SourceID, tk.Title)
			}
			w, warnings, err := a.worktrees.Create(args[0], name, fromBranch, ticketID)
			if err != nil {
				return err
			}
			for _, warn := range warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", warn)
			}
			if err := a.sessions.Touch(w.ID); err != nil {
				a.log.Printf("touch session: %v", err)
			}
			fmt.Printf("created %s\n  branch: %s\n  path:   %s\n", w.Slug, w.Branch, w.Path)
			return nil
		},
	}
	create.Flags().StringVar(&fromBranch, "from", "", "base branch (default: repo's default branch)")
	create.Flags().StringVar(&ticketID, "ticket", "", "ticket id to link")

	var all, withGit bool
	list := &cobra.Command{
		Use:   "list [repo-slug]",
		Short: "List worktrees",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			repoSlug := ""
			if len(args) > 0 {
				repoSlug = args[0]
			}
			worktrees, err := a.worktrees.List(repoSlug, !all)
			if err != nil {
				return err
			}
			if len(worktrees) == 0 {
				fmt.Println("no worktrees")
				return nil
			}
			latest, err := a.agents.LatestByWorktree()
			if err != nil {
				return err
			}
			for _, w := range worktrees {
				agentCol := "-"
				if run, ok := latest[w.ID]; ok {
					agentCol = run.Status
				}
				line := fmt.Sprintf("%-30s %-10s %-10s %s", w.Slug, w.Status, agentCol, w.Branch)
				if withGit && w.IsActive() {
					if st, err := a.worktrees.Status(&w); err == nil {
						parts := []string{}
						if st.Dirty {
							parts = append(parts, "dirty")
						}
						if st.Ahead > 0 {
							parts = append(parts, fmt.Sprintf("↑%d", st.Ahead))
						}
						if st.Behind > 0 {
							parts = append(parts, fmt.Sprintf("↓%d", st.Behind))
						}
						if len(parts) > 0 {
							line += "  [" + strings.Join(parts, " ") + "]"
						}
					}
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include merged and abandoned worktrees")
	list.Flags().BoolVar(&withGit, "git", false, "include live git status (dirty, ahead/behind)")

	del := &cobra.Command{
		Use:   "delete <repo-slug> <slug>",
		Short: "Remove a worktree and its branch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			w, err := a.worktrees.Delete(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", w.Slug, w.Status)
			return nil
		},
	}

	purge := &cobra.Command{
		Use:   "purge <repo-slug> [slug]",
		Short: "Permanently delete completed worktree records",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			slug := ""
			if len(args) > 1 {
				slug = args[1]
			}
			n, err := a.worktrees.Purge(args[0], slug)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d record(s)\n", n)
			return nil
		},
	}

	push := &cobra.Command{
		Use:   "push <repo-slug> <slug>",
		Short: "Push the worktree branch to origin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			w, err := a.worktrees.Push(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("pushed %s\n", w.Branch)
			return nil
		},
	}

	var draft bool
	pr := &cobra.Command{
		Use:   "pr <repo-slug> <slug>",
		Short: "Open a pull request for the worktree branch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.worktrees.Push(args[0], args[1]); err != nil {
				return err
			}
			url, err := a.worktrees.CreatePR(args[0], args[1], draft)
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}
	pr.Flags().BoolVar(&draft, "draft", false, "open as a draft")

	cmd.AddCommand(create, list, del, purge, push, pr)
	return cmd
}

// — tickets —————————————————————————————————————————————————————————————————

func ticketsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tickets", Short: "Sync and inspect tickets"}

	sync := &cobra.Command{
		Use:   "sync [repo-slug]",
		Short: "Pull tickets from configured sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			repos, err := a.repos.List()
			if err != nil {
				return err
			}
			for _, r := range repos {
				if len(args) > 0 && r.Slug != args[0] {
					continue
				}
				res, err := a.tickets.SyncRepo(a.sources, r.ID, r.Slug, r.RemoteURL)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d tickets (%d closed, %d worktrees merged)\n",
					res.RepoSlug, res.Count, res.Closed, res.Merged)
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list <repo-slug>",
		Short: "List cached tickets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.repos.GetBySlug(args[0])
			if err != nil {
				return err
			}
			tickets, err := a.tickets.List(r.ID)
			if err != nil {
				return err
			}
			if len(tickets) == 0 {
				fmt.Println("no tickets cached — run `conductor tickets sync`")
				return nil
			}
			for _, tk := range tickets {
				fmt.Printf("#%-6s %-8s %s\n", tk.SourceID, tk.State, tk.Title)
			}
			return nil
		},
	}

	cmd.AddCommand(sync, list)
	return cmd
}

// — session —————————————————————————————————————————————————————————————————

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Track work sessions"}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start a work session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.sessions.Start()
			if err != nil {
				return err
			}
			fmt.Printf("session started at %s\n", s.StartedAt)
			return nil
		},
	}

	var notes string
	end := &cobra.Command{
		Use:   "end",
		Short: "End the active work session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.sessions.End(notes)
			if err != nil {
				return err
			}
			slugs, _ := a.sessions.WorktreeSlugs(s.ID)
			fmt.Printf("session ended (%d worktree(s) touched)\n", len(slugs))
			return nil
		},
	}
	end.Flags().StringVar(&notes, "notes", "", "closing notes")

	attach := &cobra.Command{
		Use:   "attach <repo-slug> <worktree-slug>",
		Short: "Record a worktree against the active session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			w, err := findWorktree(a, args[0], args[1])
			if err != nil {
				return err
			}
			cur, err := a.sessions.Current()
			if err != nil {
				return err
			}
			if cur == nil {
				return session.ErrNoSession
			}
			if err := a.sessions.Touch(w.ID); err != nil {
				return err
			}
			fmt.Printf("attached %s to the current session\n", w.Slug)
			return nil
		},
	}

	current := &cobra.Command{
		Use:   "current",
		Short: "Show the active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.sessions.Current()
			if err != nil {
				return err
			}
			if s == nil {
				fmt.Println("no active session")
				return nil
			}
			slugs, _ := a.sessions.WorktreeSlugs(s.ID)
			fmt.Printf("active since %s\n", s.StartedAt)
			if len(slugs) > 0 {
				fmt.Printf("worktrees: %s\n", strings.Join(slugs, ", "))
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List past sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			sessions, err := a.sessions.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions recorded")
				return nil
			}
			for _, s := range sessions {
				end := "(active)"
				if s.EndedAt != "" {
					end = s.EndedAt
				}
				line := fmt.Sprintf("%s → %s", s.StartedAt, end)
				if s.Notes != "" {
					line += "  " + s.Notes
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.AddCommand(start, end, attach, current, list)
	return cmd
}

// — agent ———————————————————————————————————————————————————————————————————

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Run and inspect coding agents"}

	var prompt, resume string
	run := &cobra.Command{
		Use:   "run <repo-slug> <worktree-slug>",
		Short: "Start an agent in a detached tmux session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			w, err := findWorktree(a, args[0], args[1])
			if err != nil {
				return err
			}
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}
			sessionName := args[0] + "-" + w.Slug
			r, err := a.agents.Launch(w.ID, w.Path, sessionName, prompt, resume)
			if err != nil {
				return err
			}
			if err := a.sessions.Touch(w.ID); err != nil {
				a.log.Printf("touch session: %v", err)
			}
			fmt.Printf("run %s started — attach with: tmux -L conductor attach -t %s\n", r.ID, sessionName)
			return nil
		},
	}
	run.Flags().StringVar(&prompt, "prompt", "", "what the agent should do")
	run.Flags().StringVar(&resume, "resume", "", "session id of a previous run to continue")

	stop := &cobra.Command{
		Use:   "stop <repo-slug> <worktree-slug>",
		Short: "Stop the running agent for a worktree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			w, err := findWorktree(a, args[0], args[1])
			if err != nil {
				return err
			}
			r, err := a.agents.LatestForWorktree(w.ID)
			if err != nil {
				return err
			}
			if r == nil || r.Status != "running" {
				return fmt.Errorf("no running agent for %s", w.Slug)
			}
			won, err := a.agents.Cancel(r)
			if err != nil {
				return err
			}
			if !won {
				fmt.Println("agent had already finished; its result stands")
				return nil
			}
			fmt.Printf("cancelled run %s\n", r.ID)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list <repo-slug> <worktree-slug>",
		Short: "List a worktree's agent runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			w, err := findWorktree(a, args[0], args[1])
			if err != nil {
				return err
			}
			runs, err := a.agents.ListForWorktree(w.ID)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs")
				return nil
			}
			for _, r := range runs {
				line := fmt.Sprintf("%-10s %s", r.Status, r.StartedAt)
				if r.Status == "completed" {
					line += fmt.Sprintf("  $%.2f, %d turns", r.CostUSD, r.NumTurns)
				}
				if r.ResultText != "" {
					text := r.ResultText
					if i := strings.IndexByte(text, '\n'); i >= 0 {
						text = text[:i] + "…"
					}
					line += "  " + text
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	peek := &cobra.Command{
		Use:   "peek <repo-slug> <worktree-slug>",
		Short: "Print the running agent's pane without attaching",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			w, err := findWorktree(a, args[0], args[1])
			if err != nil {
				return err
			}
			r, err := a.agents.LatestForWorktree(w.ID)
			if err != nil {
				return err
			}
			if r == nil || r.Status != "running" || r.TmuxSession == "" {
				return fmt.Errorf("no running agent for %s", w.Slug)
			}
			pane, err := tmux.CapturePane(r.TmuxSession)
			if err != nil {
				return err
			}
			fmt.Print(pane)
			return nil
		},
	}

	var runID, worktreePath, execPrompt, execResume string
	exec := &cobra.Command{
		Use:    "exec",
		Hidden: true,
		Short:  "Run the agent to completion and record the result (internal)",
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if runID == "" || worktreePath == "" {
				return fmt.Errorf("--run-id and --worktree-path are required")
			}
			return a.agents.Exec(runID, worktreePath, execPrompt, execResume)
		},
	}
	exec.Flags().StringVar(&runID, "run-id", "", "agent run id")
	exec.Flags().StringVar(&worktreePath, "worktree-path", "", "worktree directory")
	exec.Flags().StringVar(&execPrompt, "prompt", "", "prompt to pass through")
	exec.Flags().StringVar(&execResume, "resume", "", "session id to resume")

	cmd.AddCommand(run, stop, list, peek, exec)
	return cmd
}

func findWorktree(a *app, repoSlug, slug string) (*worktree.Worktree, error) {
	worktrees, err := a.worktrees.List(repoSlug, false)
	if err != nil {
		return nil, err
	}
	for i := range worktrees {
		if worktrees[i].Slug == slug {
			return &worktrees[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", worktree.ErrNotFound, slug)
}
