package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/matrixise/hotwallet-tracker/internal/dashboard"
)

// Refresher produces dashboard snapshots
type Refresher interface {
	Refresh(ctx context.Context, req dashboard.Request) (*dashboard.Snapshot, error)
}

// SnapshotLoaded carries the outcome of a refresh
type SnapshotLoaded struct {
	Snapshot *dashboard.Snapshot
	Err      error
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).MarginBottom(1)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type Model struct {
	ctx       context.Context
	refresher Refresher
	request   dashboard.Request

	spinner  spinner.Model
	snapshot *dashboard.Snapshot
	err      error
	loading  bool
	width    int
	quit     bool
}

// NewModel creates the watch model. Refreshes run on ctx with no deadline of
// their own; the service bounds the balance phase.
func NewModel(ctx context.Context, refresher Refresher, req dashboard.Request) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	if req.Sort == "" {
		req.Sort = dashboard.SortBalance
	}

	return Model{
		ctx:       ctx,
		refresher: refresher,
		request:   req,
		spinner:   sp,
		loading:   true,
		width:     120,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m Model) refresh() tea.Cmd {
	ctx, refresher, req := m.ctx, m.refresher, m.request
	if ctx == nil {
		ctx = context.Background()
	}
	return func() tea.Msg {
		snap, err := refresher.Refresh(ctx, req)
		return SnapshotLoaded{Snapshot: snap, Err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case SnapshotLoaded:
		m.loading = false
		m.err = msg.Err
		if msg.Err == nil {
			m.snapshot = msg.Snapshot
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quit = true
		return m, tea.Quit
	case "r":
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, tea.Batch(m.spinner.Tick, m.refresh())
	case "b":
		return m.resort(dashboard.SortBalance), nil
	case "u":
		return m.resort(dashboard.SortUSD), nil
	case "w":
		return m.resort(dashboard.SortWithdrawal), nil
	}
	return m, nil
}

// resort reorders the current snapshot without refetching
func (m Model) resort(key dashboard.SortKey) Model {
	m.request.Sort = key
	if m.snapshot == nil {
		return m
	}
	snap := *m.snapshot
	snap.Rows = append([]dashboard.Row(nil), m.snapshot.Rows...)
	dashboard.SortRows(snap.Rows, key)
	snap.Sort = key
	m.snapshot = &snap
	return m
}

// Snapshot returns the snapshot currently displayed
func (m Model) Snapshot() *dashboard.Snapshot {
	return m.snapshot
}

func (m Model) View() string {
	if m.quit {
		return "Bye.\n"
	}

	var s strings.Builder
	s.WriteString(headerStyle.Render(fmt.Sprintf("Hot wallet tracker · %s", strings.ToUpper(m.request.Network))))
	s.WriteString("\n")

	if m.loading {
		s.WriteString(fmt.Sprintf("%s Refreshing %s...\n\n", m.spinner.View(), m.request.Token))
	}
	if m.err != nil {
		s.WriteString(errorStyle.Render("Refresh failed: " + m.err.Error()))
		s.WriteString("\n\n")
	}
	if m.snapshot != nil {
		if err := dashboard.Render(&s, m.snapshot); err != nil {
			s.WriteString(errorStyle.Render(err.Error()))
		}
		s.WriteString("\n")
	}

	s.WriteString(helpStyle.Width(m.width).Render(
		fmt.Sprintf("sort: [b]alance [u]sd [w]ithdrawal (now %s) · [r]efresh · [q]uit", m.request.Sort)))
	s.WriteString("\n")
	return s.String()
}
