package tui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"conductor/internal/agent"
	"conductor/internal/config"
	"conductor/internal/logging"
	"conductor/internal/repo"
	"conductor/internal/ticket"
	"conductor/internal/tmux"
	"conductor/internal/worktree"
)

// — state ———————————————————————————————————————————————————————————————————

type appState int

const (
	stateNormal appState = iota
	stateAddRepo
	stateNewWorktree
	stateAgentPrompt
	stateDeleteConfirm
)

// — styles ——————————————————————————————————————————————————————————————————

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	dimStyle  = lipgloss.NewStyle().Faint(true)
	boldStyle = lipgloss.NewStyle().Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	helpStyle = lipgloss.NewStyle().
			Faint(true).
			PaddingLeft(2)

	detailHeadStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().Faint(true)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("205")).
			Padding(1, 3).
			Width(58)

	deleteModalStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("196")).
				Padding(1, 3).
				Width(58)
)

// — spinner —————————————————————————————————————————————————————————————————

var spinnerFrames = []string{"|", "/", "-", "\\"}

type tickMsg struct{}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// — messages ————————————————————————————————————————————————————————————————

type refreshMsg struct{}

type dataLoadedMsg struct {
	repos     []repo.Repo
	worktrees []worktree.Worktree
	latest    map[string]agent.Run
	tickets   map[string]ticket.Ticket
	err       error
}

type repoAddedMsg struct {
	slug string
	err  error
}

type worktreeCreatedMsg struct {
	slug     string
	warnings []string
	err      error
}

type worktreeDeletedMsg struct {
	slug   string
	status string
	err    error
}

type agentLaunchedMsg struct {
	session string
	err     error
}

type attachExitedMsg struct {
	err error
}

type syncDoneMsg struct {
	results []ticket.SyncResult
	err     error
}

// — list item ———————————————————————————————————————————————————————————————

type worktreeItem struct {
	w           worktree.Worktree
	run         *agent.Run
	spinnerChar string
}

func (i worktreeItem) Title() string {
	indicator := " "
	if i.run != nil {
		switch i.run.Status {
		case "running":
			indicator = i.spinnerChar
		case "failed":
			indicator = "!"
		}
	}
	if !i.w.IsActive() {
		indicator = "·"
	}
	return indicator + " " + i.w.Slug
}

func (i worktreeItem) Description() string { return i.w.Branch }
func (i worktreeItem) FilterValue() string { return i.w.Slug }

// — model ———————————————————————————————————————————————————————————————————

// Deps bundles everything the dashboard touches. main wires it once.
type Deps struct {
	Cfg       *config.Config
	Log       *logging.Logger
	Repos     *repo.Manager
	Worktrees *worktree.Manager
	Agents    *agent.Manager
	Tickets   *ticket.Syncer
	Sources   *ticket.SourceManager
}

type Model struct {
	deps Deps
	disp *Dispatcher

	list      list.Model
	repos     []repo.Repo
	repoIdx   int
	worktrees []worktree.Worktree
	latest    map[string]agent.Run
	tickets   map[string]ticket.Ticket

	width   int
	height  int
	loading bool
	err     error
	status  string

	state        appState
	nameInput    textinput.Model
	inputErr     string
	resumeID     string
	spinnerFrame int
}

// New builds the dashboard model. d may be nil, in which case command
// results flow straight back through bubbletea instead of the dispatcher.
func New(deps Deps, d *Dispatcher) Model {
	delegate := list.NewDefaultDelegate()

	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = "Worktrees"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.Styles.Title = titleStyle

	ti := textinput.New()
	ti.CharLimit = 200

	return Model{
		deps:      deps,
		disp:      d,
		list:      l,
		loading:   true,
		nameInput: ti,
	}
}

// deliver routes a user-initiated command result through the dispatcher's
// high-priority lane so it drains ahead of queued poll chatter. Without a
// dispatcher the message goes straight back to bubbletea.
func deliver(d *Dispatcher, msg tea.Msg) tea.Msg {
	if d != nil {
		d.Push(msg)
		return nil
	}
	return msg
}

// — commands ————————————————————————————————————————————————————————————————

func fetchDataCmd(deps Deps, repoIdx int) tea.Cmd {
	return func() tea.Msg {
		// Repair orphaned runs before reading state, so the dashboard never
		// shows a spinner for a dead session.
		if _, err := deps.Agents.Reconcile(tmux.SessionExists); err != nil {
			deps.Log.Printf("reconcile: %v", err)
		}

		repos, err := deps.Repos.List()
		if err != nil {
			return dataLoadedMsg{err: err}
		}

		msg := dataLoadedMsg{repos: repos, latest: map[string]agent.Run{}, tickets: map[string]ticket.Ticket{}}
		if len(repos) == 0 {
			return msg
		}
		if repoIdx >= len(repos) {
			repoIdx = 0
		}

		worktrees, err := deps.Worktrees.List(repos[repoIdx].Slug, false)
		if err != nil {
			return dataLoadedMsg{err: err}
		}
		msg.worktrees = worktrees

		latest, err := deps.Agents.LatestByWorktree()
		if err != nil {
			return dataLoadedMsg{err: err}
		}
		msg.latest = latest

		for _, w := range worktrees {
			if w.TicketID == "" {
				continue
			}
			if tk, err := deps.Tickets.Get(w.TicketID); err == nil && tk != nil {
				msg.tickets[w.TicketID] = *tk
			}
		}
		return msg
	}
}

func addRepoCmd(deps Deps, d *Dispatcher, remoteURL string) tea.Cmd {
	return func() tea.Msg {
		slug := repo.DeriveSlug(remoteURL)
		r, err := deps.Repos.Add(slug, repo.DeriveLocalPath(deps.Cfg, slug), remoteURL, "")
		if err != nil {
			return deliver(d, repoAddedMsg{err: err})
		}
		return deliver(d, repoAddedMsg{slug: r.Slug})
	}
}

func createWorktreeCmd(deps Deps, d *Dispatcher, repoSlug, name string) tea.Cmd {
	return func() tea.Msg {
		w, warnings, err := deps.Worktrees.Create(repoSlug, name, "", "")
		if err != nil {
			return deliver(d, worktreeCreatedMsg{err: err})
		}
		return deliver(d, worktreeCreatedMsg{slug: w.Slug, warnings: warnings})
	}
}

func deleteWorktreeCmd(deps Deps, d *Dispatcher, id string) tea.Cmd {
	return func() tea.Msg {
		w, err := deps.Worktrees.DeleteByID(id)
		if err != nil {
			return deliver(d, worktreeDeletedMsg{err: err})
		}
		return deliver(d, worktreeDeletedMsg{slug: w.Slug, status: w.Status})
	}
}

func launchAgentCmd(deps Deps, d *Dispatcher, w worktree.Worktree, repoSlug, prompt, resumeID string) tea.Cmd {
	return func() tea.Msg {
		session := repoSlug + "-" + w.Slug
		if _, err := deps.Agents.Launch(w.ID, w.Path, session, prompt, resumeID); err != nil {
			return deliver(d, agentLaunchedMsg{err: err})
		}
		return deliver(d, agentLaunchedMsg{session: session})
	}
}

func syncNowCmd(deps Deps, d *Dispatcher) tea.Cmd {
	return func() tea.Msg {
		results, err := SyncAll(deps)
		return deliver(d, syncDoneMsg{results: results, err: err})
	}
}

func attachCmd(session string) tea.Cmd {
	return tea.ExecProcess(tmux.AttachCmd(session), func(err error) tea.Msg {
		return attachExitedMsg{err: err}
	})
}

func openURLCmd(url string) tea.Cmd {
	return func() tea.Msg {
		var cmd *exec.Cmd
		switch runtime.GOOS {
		case "darwin":
			cmd = exec.Command("open", url)
		case "windows":
			cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
		default:
			cmd = exec.Command("xdg-open", url)
		}
		cmd.Run()
		return nil
	}
}

// buildItems rebuilds the list items with the current spinner frame.
func (m *Model) buildItems() {
	char := spinnerFrames[m.spinnerFrame]
	items := make([]list.Item, len(m.worktrees))
	for i, w := range m.worktrees {
		item := worktreeItem{w: w, spinnerChar: char}
		if run, ok := m.latest[w.ID]; ok {
			item.run = &run
		}
		items[i] = item
	}
	m.list.SetItems(items)
}

// — tea.Model ———————————————————————————————————————————————————————————————

func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchDataCmd(m.deps, m.repoIdx), tickCmd(m.deps.Cfg.TickInterval()))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		lw, lh := m.listDimensions()
		m.list.SetSize(lw, lh)
		return m, nil

	case tickMsg:
		m.spinnerFrame = (m.spinnerFrame + 1) % len(spinnerFrames)
		if !m.loading && m.err == nil {
			m.buildItems()
		}
		return m, tickCmd(m.deps.Cfg.TickInterval())

	case refreshMsg:
		return m, fetchDataCmd(m.deps, m.repoIdx)

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.repos = msg.repos
		if m.repoIdx >= len(m.repos) {
			m.repoIdx = 0
		}
		m.worktrees = msg.worktrees
		m.latest = msg.latest
		m.tickets = msg.tickets
		m.buildItems()
		return m, nil

	case repoAddedMsg:
		if msg.err != nil {
			m.inputErr = msg.err.Error()
			return m, nil
		}
		m.closeModal()
		m.status = "registered repo " + msg.slug
		m.loading = true
		return m, fetchDataCmd(m.deps, m.repoIdx)

	case worktreeCreatedMsg:
		if msg.err != nil {
			m.inputErr = msg.err.Error()
			return m, nil
		}
		m.closeModal()
		m.status = "created " + msg.slug
		if len(msg.warnings) > 0 {
			m.status += " (" + strings.Join(msg.warnings, "; ") + ")"
		}
		m.loading = true
		return m, fetchDataCmd(m.deps, m.repoIdx)

	case worktreeDeletedMsg:
		m.state = stateNormal
		if msg.err != nil {
			m.status = errStyle.Render(msg.err.Error())
			return m, nil
		}
		m.status = fmt.Sprintf("%s %s", msg.slug, msg.status)
		m.loading = true
		return m, fetchDataCmd(m.deps, m.repoIdx)

	case agentLaunchedMsg:
		if msg.err != nil {
			m.inputErr = msg.err.Error()
			return m, nil
		}
		m.closeModal()
		return m, tea.Batch(fetchDataCmd(m.deps, m.repoIdx), attachCmd(msg.session))

	case attachExitedMsg:
		// Back from tmux: the run may have finished while attached.
		m.loading = true
		return m, fetchDataCmd(m.deps, m.repoIdx)

	case syncDoneMsg:
		if msg.err != nil {
			m.status = errStyle.Render("sync: " + msg.err.Error())
			return m, nil
		}
		total, closed := 0, 0
		for _, r := range msg.results {
			total += r.Count
			closed += r.Closed
		}
		m.status = fmt.Sprintf("synced %d tickets (%d closed)", total, closed)
		return m, fetchDataCmd(m.deps, m.repoIdx)
	}

	switch m.state {
	case stateAddRepo:
		return m.updateAddRepo(msg)
	case stateNewWorktree:
		return m.updateNewWorktree(msg)
	case stateAgentPrompt:
		return m.updateAgentPrompt(msg)
	case stateDeleteConfirm:
		return m.updateDeleteConfirm(msg)
	default:
		return m.updateNormal(msg)
	}
}

func (m Model) updateNormal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, fetchDataCmd(m.deps, m.repoIdx)
		case "tab":
			if len(m.repos) > 1 {
				m.repoIdx = (m.repoIdx + 1) % len(m.repos)
				m.loading = true
				return m, fetchDataCmd(m.deps, m.repoIdx)
			}
			return m, nil
		case "R":
			m.state = stateAddRepo
			m.inputErr = ""
			m.nameInput.Placeholder = "git@github.com:org/project.git"
			m.nameInput.Reset()
			m.nameInput.Focus()
			return m, textinput.Blink
		case "n":
			if len(m.repos) == 0 {
				m.status = "register a repo first (R)"
				return m, nil
			}
			m.state = stateNewWorktree
			m.inputErr = ""
			m.nameInput.Placeholder = "e.g. login-flow or fix-oauth-redirect"
			m.nameInput.Reset()
			m.nameInput.Focus()
			return m, textinput.Blink
		case "enter", "p":
			w := m.selectedWorktree()
			if w == nil || !w.IsActive() {
				return m, nil
			}
			if run := m.latestRun(w.ID); run != nil && run.Status == "running" {
				if run.TmuxSession != "" {
					return m, attachCmd(run.TmuxSession)
				}
				return m, nil
			}
			m.state = stateAgentPrompt
			m.inputErr = ""
			m.resumeID = ""
			if run := m.latestRun(w.ID); run != nil && run.Status == "completed" {
				m.resumeID = run.ClaudeSessionID
			}
			m.nameInput.Placeholder = "what should the agent do?"
			m.nameInput.Reset()
			m.nameInput.Focus()
			return m, textinput.Blink
		case "a":
			w := m.selectedWorktree()
			if w == nil {
				return m, nil
			}
			if run := m.latestRun(w.ID); run != nil && run.Status == "running" && run.TmuxSession != "" {
				return m, attachCmd(run.TmuxSession)
			}
			m.status = "no running agent to attach"
			return m, nil
		case "x":
			w := m.selectedWorktree()
			if w == nil {
				return m, nil
			}
			if run := m.latestRun(w.ID); run != nil && run.Status == "running" {
				m.deps.Agents.Cancel(run)
				m.loading = true
				return m, fetchDataCmd(m.deps, m.repoIdx)
			}
			return m, nil
		case "o":
			w := m.selectedWorktree()
			if w != nil && w.TicketID != "" {
				if tk, ok := m.tickets[w.TicketID]; ok && tk.URL != "" {
					return m, openURLCmd(tk.URL)
				}
			}
			return m, nil
		case "s":
			m.status = "syncing tickets…"
			return m, syncNowCmd(m.deps, m.disp)
		case "d":
			w := m.selectedWorktree()
			if w != nil && w.IsActive() {
				m.state = stateDeleteConfirm
				m.inputErr = ""
				return m, nil
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateAddRepo(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			m.closeModal()
			return m, nil
		case "enter":
			url := strings.TrimSpace(m.nameInput.Value())
			if url == "" {
				m.inputErr = "remote URL cannot be empty"
				return m, nil
			}
			m.inputErr = ""
			return m, addRepoCmd(m.deps, m.disp, url)
		}
	}
	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m Model) updateNewWorktree(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			m.closeModal()
			return m, nil
		case "enter":
			name := strings.TrimSpace(m.nameInput.Value())
			if name == "" {
				m.inputErr = "name cannot be empty"
				return m, nil
			}
			m.inputErr = ""
			return m, createWorktreeCmd(m.deps, m.disp, m.repos[m.repoIdx].Slug, name)
		}
	}
	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m Model) updateAgentPrompt(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			m.closeModal()
			return m, nil
		case "enter":
			prompt := strings.TrimSpace(m.nameInput.Value())
			if prompt == "" {
				m.inputErr = "prompt cannot be empty"
				return m, nil
			}
			w := m.selectedWorktree()
			if w == nil {
				m.closeModal()
				return m, nil
			}
			m.inputErr = ""
			return m, launchAgentCmd(m.deps, m.disp, *w, m.repos[m.repoIdx].Slug, prompt, m.resumeID)
		}
	}
	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m Model) updateDeleteConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "n", "N":
			m.state = stateNormal
			m.inputErr = ""
			return m, nil
		case "enter", "y", "Y":
			w := m.selectedWorktree()
			if w == nil {
				m.state = stateNormal
				return m, nil
			}
			return m, deleteWorktreeCmd(m.deps, m.disp, w.ID)
		}
	}
	return m, nil
}

func (m *Model) closeModal() {
	m.state = stateNormal
	m.inputErr = ""
	m.resumeID = ""
	m.nameInput.Reset()
	m.nameInput.Blur()
}

func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	if m.loading {
		return lipgloss.NewStyle().Padding(1, 2).Render("Loading…")
	}

	if m.err != nil {
		return lipgloss.NewStyle().Padding(1, 2).Render(
			fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit.", m.err),
		)
	}

	if len(m.repos) == 0 {
		return lipgloss.NewStyle().Padding(1, 2).Render(
			"No repos registered yet.\n\nPress R to add one, q to quit.",
		)
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.list.View(), m.renderDetail())
	base := lipgloss.JoinVertical(lipgloss.Left, body, m.renderHelp())

	switch m.state {
	case stateAddRepo:
		return m.renderInputModal("Add Repo", "Remote URL",
			"Registers the repo and derives its slug from the URL")
	case stateNewWorktree:
		return m.renderInputModal("New Worktree", "Name",
			"Creates a branch and worktree under "+m.deps.Cfg.General.WorkspaceRoot)
	case stateAgentPrompt:
		hint := "Starts claude in a detached tmux session"
		if m.resumeID != "" {
			hint = "Resumes the previous conversation"
		}
		return m.renderInputModal("Run Agent", "Prompt", hint)
	case stateDeleteConfirm:
		return m.renderDeleteConfirmOver(base)
	}
	return base
}

// — layout helpers ——————————————————————————————————————————————————————————

func (m Model) listDimensions() (width, height int) {
	return m.width / 3, m.height - 2
}

func (m Model) renderDetail() string {
	lw, _ := m.listDimensions()
	dw := m.width - lw
	dh := m.height - 2

	style := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		PaddingLeft(3).
		PaddingRight(2).
		Width(dw - 1).
		Height(dh)

	contentWidth := (dw - 1) - 3 - 2

	w := m.selectedWorktree()
	if w == nil {
		return style.Render(dimStyle.Render("No worktrees yet — press n"))
	}

	row := func(lbl, val string) string {
		return labelStyle.Render(lbl) + val + "\n"
	}

	var statusVal string
	switch w.Status {
	case "active":
		statusVal = okStyle.Render("active")
	case "merged":
		statusVal = dimStyle.Render("merged")
	default:
		statusVal = dimStyle.Render("abandoned")
	}

	sep := dimStyle.Render(strings.Repeat("─", max(contentWidth, 1)))

	var b strings.Builder
	b.WriteString(detailHeadStyle.Render(m.repos[m.repoIdx].Slug+" / "+w.Slug) + "\n\n")
	b.WriteString(row("Branch   ", w.Branch))
	b.WriteString(row("Path     ", w.Path))
	b.WriteString(row("Status   ", statusVal))
	b.WriteString("\n" + sep + "\n\n")

	if w.TicketID != "" {
		if tk, ok := m.tickets[w.TicketID]; ok {
			b.WriteString(renderTicket(tk, contentWidth))
		}
	} else {
		b.WriteString(dimStyle.Render("No ticket linked") + "\n")
	}
	b.WriteString("\n" + sep + "\n\n")

	if run := m.latestRun(w.ID); run != nil {
		b.WriteString(renderRun(run))
		if run.Status == "running" {
			b.WriteString("\n" + dimStyle.Render("Ctrl+] → back to the dashboard without stopping the agent\n"))
		}
	} else {
		b.WriteString(dimStyle.Render("No agent runs yet — press Enter\n"))
	}

	if m.status != "" {
		b.WriteString("\n" + dimStyle.Render(m.status) + "\n")
	}

	return style.Render(b.String())
}

func renderTicket(tk ticket.Ticket, contentWidth int) string {
	var b strings.Builder
	row := func(lbl, val string) string {
		return labelStyle.Render(lbl) + val + "\n"
	}

	title := tk.Title
	maxTitleLen := contentWidth - 9
	if maxTitleLen > 0 && len([]rune(title)) > maxTitleLen {
		title = string([]rune(title)[:maxTitleLen-1]) + "…"
	}

	b.WriteString(row("Ticket   ", "#"+tk.SourceID))
	b.WriteString("         " + title + "\n")
	if tk.State == "open" {
		b.WriteString(row("State    ", okStyle.Render("open")))
	} else {
		b.WriteString(row("State    ", dimStyle.Render("closed")))
	}
	return b.String()
}

func renderRun(run *agent.Run) string {
	var b strings.Builder
	row := func(lbl, val string) string {
		return labelStyle.Render(lbl) + val + "\n"
	}

	var statusVal string
	switch run.Status {
	case "running":
		statusVal = warnStyle.Render("● running")
	case "completed":
		statusVal = okStyle.Render("completed")
	case "failed":
		statusVal = errStyle.Render("failed")
	default:
		statusVal = dimStyle.Render(run.Status)
	}
	b.WriteString(row("Agent    ", statusVal))

	if run.Status == "completed" {
		b.WriteString(row("Cost     ", fmt.Sprintf("$%.2f · %d turns · %s",
			run.CostUSD, run.NumTurns, formatDuration(run.DurationMS))))
	}
	if run.ResultText != "" {
		line := run.ResultText
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i] + "…"
		}
		b.WriteString(row("Result   ", line))
	}
	return b.String()
}

func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

func (m Model) renderHelp() string {
	var text string
	switch m.state {
	case stateAddRepo, stateNewWorktree, stateAgentPrompt:
		text = "Enter confirm   Esc cancel"
	case stateDeleteConfirm:
		text = "y/Enter confirm   n/Esc cancel"
	default:
		text = "↑/↓ navigate   Enter run/attach   a attach   x stop   n new   d delete   s sync   Tab repo   R add repo   q quit"
	}
	sep := dimStyle.Render(strings.Repeat("─", m.width))
	return sep + "\n" + helpStyle.Render(text)
}

func (m Model) renderInputModal(title, label, hint string) string {
	var b strings.Builder
	b.WriteString(boldStyle.Render(title) + "\n\n")
	b.WriteString(label + "\n")
	b.WriteString(m.nameInput.View() + "\n")
	if m.inputErr != "" {
		b.WriteString("\n" + errStyle.Render(m.inputErr) + "\n")
	}
	b.WriteString("\n" + dimStyle.Render(hint))

	modal := modalStyle.Render(b.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal,
		lipgloss.WithWhitespaceBackground(lipgloss.Color("0")),
	)
}

func (m Model) renderDeleteConfirmOver(base string) string {
	w := m.selectedWorktree()
	var b strings.Builder
	b.WriteString(errStyle.Render("Delete Worktree") + "\n\n")
	if w != nil {
		b.WriteString(labelStyle.Render("Branch   ") + w.Branch + "\n")
		b.WriteString(labelStyle.Render("Path     ") + w.Path + "\n\n")
		if run := m.latestRun(w.ID); run != nil && run.Status == "running" {
			b.WriteString(warnStyle.Render("⚠  an agent is still running — stop it first (x)") + "\n\n")
		}
	}
	b.WriteString("Removes the git worktree and deletes the branch.\n")
	if m.inputErr != "" {
		b.WriteString("\n" + errStyle.Render(m.inputErr) + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("y/Enter to confirm · Esc/n to cancel"))

	modal := deleteModalStyle.Render(b.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal,
		lipgloss.WithWhitespaceBackground(lipgloss.Color("0")),
	)
}

func (m Model) selectedWorktree() *worktree.Worktree {
	if len(m.worktrees) == 0 {
		return nil
	}
	idx := m.list.Index()
	if idx < 0 || idx >= len(m.worktrees) {
		return nil
	}
	return &m.worktrees[idx]
}

func (m Model) latestRun(worktreeID string) *agent.Run {
	if run, ok := m.latest[worktreeID]; ok {
		return &run
	}
	return nil
}
