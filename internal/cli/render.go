package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/cronwatch/internal/core"
	"github.com/valter-silva-au/cronwatch/internal/observability"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(0, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	rateGood = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	rateWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	rateBad  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const displayTime = "2006-01-02 15:04:05 UTC"

// commandContext returns the command's context, or Background when the
// command is invoked directly rather than through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func lockPath() (string, error) {
	if Config == nil {
		return "", fmt.Errorf("configuration not loaded")
	}
	return Config.Daemon.LockPath, nil
}

// renderWindow renders one window as a labelled block.
func renderWindow(w observability.WindowStats) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Last %s", w.Window)))
	b.WriteString("\n")
	row := func(label, value string) {
		b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-14s", label)), value))
	}
	row("Runs", fmt.Sprintf("%d", w.TotalRuns))
	row("Failures", fmt.Sprintf("%d", w.FailedRuns))
	row("Success rate", styleForRate(w).Render(formatRate(w)))
	row("Avg interval", formatInterval(w.AvgIntervalMinutes))
	return strings.TrimRight(b.String(), "\n")
}

// renderLastFailure renders the most recent failure, if any.
func renderLastFailure(last *models.CronEvent) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Last failure"))
	b.WriteString("\n")
	if last == nil {
		b.WriteString("No failures recorded.")
		return b.String()
	}
	sev := observability.ClassifySeverity(last.ExitCode)
	b.WriteString(fmt.Sprintf("%s %s\n", styleForSeverity(sev).Render(fmt.Sprintf("exit %d", last.ExitCode)), last.Timestamp.UTC().Format(displayTime)))
	b.WriteString(observability.Truncate(last.Message, observability.DefaultMaxMessage))
	return b.String()
}

// renderStats renders the stats report printed by "cronwatch stats".
func renderStats(stats observability.Stats) string {
	blocks := make([]string, 0, len(stats.Windows)+1)
	for _, w := range stats.Windows {
		blocks = append(blocks, panelStyle.Render(renderWindow(w)))
	}
	blocks = append(blocks, panelStyle.Render(renderLastFailure(stats.LastFailure)))

	var b strings.Builder
	b.WriteString(titleStyle.Render(" Cron Statistics "))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.JoinVertical(lipgloss.Left, blocks...))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("Total entries: %d\n", stats.TotalEntries))
	b.WriteString(helpStyle.Render(fmt.Sprintf("As of %s", stats.AsOf.UTC().Format(displayTime))))
	b.WriteString("\n")
	return b.String()
}

// renderDaemonStatus renders the lock-file view of the daemon.
func renderDaemonStatus(status core.DaemonStatus) string {
	var b strings.Builder
	switch {
	case status.Running:
		b.WriteString(rateGood.Render("Daemon: RUNNING"))
		b.WriteString(fmt.Sprintf(" (pid %d)\n", status.PID))
		if status.Started != nil {
			b.WriteString(fmt.Sprintf("  %-10s %s\n", "Started:", status.Started.UTC().Format(displayTime)))
			b.WriteString(fmt.Sprintf("  %-10s %s\n", "Uptime:", status.Uptime))
		}
		if status.RSSBytes > 0 {
			b.WriteString(fmt.Sprintf("  %-10s %.1f MiB\n", "Memory:", float64(status.RSSBytes)/(1<<20)))
		}
	case status.Stale:
		b.WriteString(rateWarn.Render("Daemon: NOT RUNNING"))
		b.WriteString(fmt.Sprintf(" (stale pid %d in lock file)\n", status.PID))
	default:
		b.WriteString(rateBad.Render("Daemon: NOT RUNNING"))
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("  %-10s %s\n", "Lock:", status.LockPath))
	return b.String()
}

func formatRate(w observability.WindowStats) string {
	if w.TotalRuns == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", w.SuccessRate*100)
}

func formatInterval(minutes *float64) string {
	if minutes == nil {
		return "n/a"
	}
	d := time.Duration(*minutes * float64(time.Minute)).Round(time.Second)
	return fmt.Sprintf("%.1f min (%s)", *minutes, d)
}

func styleForRate(w observability.WindowStats) lipgloss.Style {
	switch {
	case w.TotalRuns == 0:
		return labelStyle
	case w.SuccessRate >= 0.95:
		return rateGood
	case w.SuccessRate >= 0.8:
		return rateWarn
	default:
		return rateBad
	}
}

func styleForSeverity(severity observability.AlertSeverity) lipgloss.Style {
	if severity == observability.SeverityHigh {
		return severityHigh
	}
	return severityMedium
}
