package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/cronwatch/internal/core"
	"github.com/valter-silva-au/cronwatch/internal/observability"
)

var watchInterval time.Duration

type watchModel struct {
	activePanel int
	width       int
	height      int
	interval    time.Duration

	stats  *observability.Stats
	status *core.DaemonStatus

	loading bool
	err     error
}

// watchDataMsg carries freshly loaded data back to the model.
type watchDataMsg struct {
	stats  observability.Stats
	status core.DaemonStatus
	err    error
}

// watchTickMsg triggers the next automatic refresh.
type watchTickMsg time.Time

func newWatchModel(interval time.Duration) watchModel {
	return watchModel{interval: interval, loading: true}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(loadWatchData, m.tick())
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

// panelCount is the number of window panels plus the last-failure and
// daemon panels.
func (m watchModel) panelCount() int {
	n := 2
	if m.stats != nil {
		n += len(m.stats.Windows)
	}
	return n
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % m.panelCount()
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + m.panelCount()) % m.panelCount()
			return m, nil
		case "r":
			m.loading = true
			return m, loadWatchData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case watchTickMsg:
		return m, tea.Batch(loadWatchData, m.tick())

	case watchDataMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		stats, status := msg.stats, msg.status
		m.stats = &stats
		m.status = &status
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m watchModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" cronwatch ")
	help := helpStyle.Render(fmt.Sprintf("tab: switch panel | r: refresh | q: quit | auto-refresh every %s", m.interval))

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}
	if m.stats == nil {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	panels := make([]string, 0, m.panelCount())
	for _, w := range m.stats.Windows {
		panels = append(panels, renderWindow(w))
	}
	panels = append(panels, renderLastFailure(m.stats.LastFailure))
	panels = append(panels, m.renderDaemonPanel())

	availableWidth := m.width - 2
	var body string
	if availableWidth > 120 {
		colWidth := availableWidth/len(panels) - 4
		for i := range panels {
			panels[i] = m.applyPanelStyle(i, panels[i], colWidth)
		}
		body = lipgloss.JoinHorizontal(lipgloss.Top, panels...)
	} else {
		panelWidth := max(availableWidth-4, 20)
		for i := range panels {
			panels[i] = m.applyPanelStyle(i, panels[i], panelWidth)
		}
		body = lipgloss.JoinVertical(lipgloss.Left, panels...)
	}

	footer := fmt.Sprintf("Total entries: %d | as of %s", m.stats.TotalEntries, m.stats.AsOf.UTC().Format(displayTime))
	if m.loading {
		footer += " | refreshing..."
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s\n%s", title, body, footer, help)
}

func (m watchModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m watchModel) renderDaemonPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Daemon"))
	b.WriteString("\n")
	if m.status == nil {
		b.WriteString("Unknown.")
		return b.String()
	}
	b.WriteString(strings.TrimRight(renderDaemonStatus(*m.status), "\n"))
	return b.String()
}

func loadWatchData() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result watchDataMsg
	stats, err := Stats.ComputeStats(ctx, time.Now().UTC())
	if err != nil {
		result.err = fmt.Errorf("loading stats: %w", err)
		return result
	}
	result.stats = stats

	path, err := lockPath()
	if err != nil {
		result.err = err
		return result
	}
	status, err := core.ReadDaemonStatus(path)
	if err != nil {
		result.err = fmt.Errorf("reading daemon status: %w", err)
		return result
	}
	result.status = status
	return result
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live terminal view of cron statistics",
	Long: `Launch an interactive terminal view showing the 24h and 7d windows, the
last failure and the daemon status, refreshed automatically.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Stats == nil {
			return fmt.Errorf("aggregator not initialized")
		}
		if watchInterval <= 0 {
			return fmt.Errorf("--interval must be positive, got %s", watchInterval)
		}
		p := tea.NewProgram(newWatchModel(watchInterval), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "Refresh interval")
	rootCmd.AddCommand(watchCmd)
}
