package cli

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"kilometers.ai/pluginhost/internal/application/services"
	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/interfaces/httpapi"
)

// DashboardFlags holds command-line flags for the dashboard command
type DashboardFlags struct {
	RefreshRate time.Duration
}

// NewDashboardCommand creates the dashboard command
func NewDashboardCommand(container *CLIContainer) *cobra.Command {
	flags := &DashboardFlags{}

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Terminal dashboard of preloaded plugins and registered transformers",
		Long: `Launch an interactive terminal dashboard that loads the catalog's plugins and
shows the preload result of every app plugin and the registered transformers.

Examples:
  km-pluginhost dashboard
  km-pluginhost dashboard --refresh 5s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container.Container()
			if err != nil {
				return err
			}
			return runDashboard(cmd.Context(), c.Host, flags)
		},
	}

	cmd.Flags().DurationVar(&flags.RefreshRate, "refresh", 2*time.Second, "Refresh rate for live updates")

	return cmd
}

// runDashboard starts the terminal dashboard
func runDashboard(ctx context.Context, host *services.HostService, flags *DashboardFlags) error {
	model := newDashboardModel(ctx, host, flags)

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}

type dashboardView int

const (
	viewPreloads dashboardView = iota
	viewTransformers
)

// dashboardModel holds the state for the Bubble Tea dashboard
type dashboardModel struct {
	ctx          context.Context
	host         *services.HostService
	flags        *DashboardFlags
	view         dashboardView
	snapshot     services.HostSnapshot
	transformers []httpapi.TransformerView
	selectedRow  int
	paused       bool
	reloading    bool
	lastUpdate   time.Time
	windowWidth  int
	windowHeight int
	err          error
}

// newDashboardModel creates a new dashboard model
func newDashboardModel(ctx context.Context, host *services.HostService, flags *DashboardFlags) dashboardModel {
	return dashboardModel{
		ctx:        ctx,
		host:       host,
		flags:      flags,
		view:       viewPreloads,
		reloading:  true,
		lastUpdate: time.Now(),
	}
}

// Init implements the Bubble Tea init method
func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(
		m.tickCmd(),
		m.reloadCmd(),
	)
}

// Update implements the Bubble Tea update method
func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case " ", "space":
			m.paused = !m.paused
			return m, nil

		case "tab":
			m.view = (m.view + 1) % 2
			m.selectedRow = 0
			return m, nil

		case "up", "k":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
			return m, nil

		case "down", "j":
			if m.selectedRow < m.rowCount()-1 {
				m.selectedRow++
			}
			return m, nil

		case "r":
			if m.reloading {
				return m, nil
			}
			m.reloading = true
			return m, m.reloadCmd()
		}

	case tickMsg:
		if !m.paused {
			return m, tea.Batch(
				m.tickCmd(),
				m.loadSnapshotCmd(),
			)
		}
		return m, m.tickCmd()

	case snapshotLoadedMsg:
		m.snapshot = msg.snapshot
		m.transformers = msg.transformers
		m.lastUpdate = time.Now()
		if m.selectedRow >= m.rowCount() {
			m.selectedRow = lo.Max([]int{m.rowCount() - 1, 0})
		}
		return m, nil

	case reloadedMsg:
		m.reloading = false
		m.err = msg.err
		return m, m.loadSnapshotCmd()
	}

	return m, nil
}

// View implements the Bubble Tea view method
func (m dashboardModel) View() string {
	header := m.renderHeader()

	var body string
	switch m.view {
	case viewTransformers:
		body = m.renderTransformerTable()
	default:
		body = m.renderPreloadTable()
	}

	footer := m.renderFooter()

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m dashboardModel) rowCount() int {
	if m.view == viewTransformers {
		return len(m.transformers)
	}
	return len(m.snapshot.Preloads)
}

// renderHeader renders the dashboard header
func (m dashboardModel) renderHeader() string {
	title := titleStyle.Render("Plugin Host Dashboard")

	info := fmt.Sprintf("Catalog: %s | Preloaded: %d (%d failed) | Transformers: %d",
		m.snapshot.Source,
		len(m.snapshot.Preloads),
		len(m.snapshot.FailedPreloads()),
		m.snapshot.Registered,
	)

	status := okStyle.Bold(true).Render("LIVE")
	switch {
	case m.reloading:
		status = mutedStyle.Bold(true).Render("LOADING")
	case m.paused:
		status = errorStyle.Bold(true).Render("PAUSED")
	}

	line1 := lipgloss.JoinHorizontal(lipgloss.Left, title, "  ", info, "  ", status)
	line2 := fmt.Sprintf("Last Update: %s | Reloads: %d | Refresh Rate: %v",
		m.lastUpdate.Format("15:04:05"),
		m.snapshot.Reloads,
		m.flags.RefreshRate,
	)

	lines := []string{line1, line2}
	if m.err != nil {
		lines = append(lines, errorStyle.Render(truncateString("Error: "+m.err.Error(), lo.Max([]int{m.windowWidth, 40}))))
	} else if m.snapshot.LastError != "" {
		lines = append(lines, errorStyle.Render(truncateString("Warning: "+m.snapshot.LastError, lo.Max([]int{m.windowWidth, 40}))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderPreloadTable renders one row per preloaded plugin
func (m dashboardModel) renderPreloadTable() string {
	if len(m.snapshot.Preloads) == 0 {
		return mutedStyle.Render("\n  No preloaded plugins.\n")
	}

	rows := []string{titleStyle.Render(fmt.Sprintf("%-30s │ %-6s │ %-4s │ %s", "PLUGIN", "STATUS", "EXT", "DETAILS"))}
	for _, r := range m.visible(len(m.snapshot.Preloads)) {
		result := m.snapshot.Preloads[r]
		status, details := "ok", extensionTitles(result.ExtensionConfigs)
		style := okStyle
		if result.Failed() {
			status, details, style = "failed", result.ErrorMessage(), errorStyle
		}

		row := fmt.Sprintf("%-30s │ %-6s │ %-4d │ %s",
			truncateString(result.PluginID, 30),
			status,
			len(result.ExtensionConfigs),
			truncateString(details, 60),
		)
		rows = append(rows, m.rowStyle(r, style).Render(row))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// renderTransformerTable renders the registered transformers
func (m dashboardModel) renderTransformerTable() string {
	if len(m.transformers) == 0 {
		return mutedStyle.Render("\n  No transformers registered.\n")
	}

	rows := []string{titleStyle.Render(fmt.Sprintf("%-24s │ %-24s │ %-24s │ %s", "ID", "NAME", "PLUGIN", "VERSION"))}
	for _, r := range m.visible(len(m.transformers)) {
		t := m.transformers[r]
		row := fmt.Sprintf("%-24s │ %-24s │ %-24s │ %s",
			truncateString(t.ID, 24),
			truncateString(t.Name, 24),
			truncateString(t.PluginID, 24),
			t.PluginVersion,
		)
		rows = append(rows, m.rowStyle(r, lipgloss.NewStyle()).Render(row))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// visible returns the indexes of the rows that fit the window
func (m dashboardModel) visible(n int) []int {
	maxRows := m.windowHeight - 8 // Account for header and footer
	if maxRows <= 0 || maxRows > n {
		maxRows = n
	}
	start := 0
	if m.selectedRow >= maxRows {
		start = m.selectedRow - maxRows + 1
	}
	return lo.RangeFrom(start, maxRows)
}

func (m dashboardModel) rowStyle(row int, style lipgloss.Style) lipgloss.Style {
	if row == m.selectedRow {
		return style.Background(lipgloss.Color("240"))
	}
	return style
}

// renderFooter renders the control instructions footer
func (m dashboardModel) renderFooter() string {
	return mutedStyle.Render("Controls: [Tab] Preloads/Transformers | [Space] Pause/Resume | [↑↓] Navigate | [r] Reload | [q] Quit")
}

// tickMsg is sent every refresh interval
type tickMsg time.Time

// tickCmd creates a tick command
func (m dashboardModel) tickCmd() tea.Cmd {
	return tea.Tick(m.flags.RefreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// snapshotLoadedMsg is sent when the host state has been read
type snapshotLoadedMsg struct {
	snapshot     services.HostSnapshot
	transformers []httpapi.TransformerView
}

// reloadedMsg is sent when a reload finished
type reloadedMsg struct {
	err error
}

// loadSnapshotCmd reads the current host state
func (m dashboardModel) loadSnapshotCmd() tea.Cmd {
	return func() tea.Msg {
		items := m.host.Registry().List()
		return snapshotLoadedMsg{
			snapshot: m.host.Snapshot(),
			transformers: lo.Map(items, func(item domain.TransformerRegistryItem, _ int) httpapi.TransformerView {
				return httpapi.NewTransformerView(item)
			}),
		}
	}
}

// reloadCmd reloads the catalog and its plugins
func (m dashboardModel) reloadCmd() tea.Cmd {
	return func() tea.Msg {
		_, err := m.host.Reload(m.ctx)
		return reloadedMsg{err: err}
	}
}
