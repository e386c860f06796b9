package metrics

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Dashboard renders the session report printed by `rainbow ask --stats`.
type Dashboard struct {
	collector *Collector
	width     int

	border lipgloss.Style
	header lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	good   lipgloss.Style
	warn   lipgloss.Style
	bad    lipgloss.Style
}

// NewDashboard creates a dashboard over the collector's session stats.
func NewDashboard(collector *Collector) *Dashboard {
	return &Dashboard{
		collector: collector,
		width:     80,
		border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10),
		value:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255")),
		good:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("82")),
		warn:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		bad:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

// SetWidth sets the outer width including the border.
func (d *Dashboard) SetWidth(w int) {
	d.width = w
}

// Render returns the bordered report.
func (d *Dashboard) Render() string {
	s := d.collector.GetSessionStats()

	var avgTurn float64
	if finished := s.Completed + s.Failed; finished > 0 {
		avgTurn = float64(s.TotalTurnMs) / float64(finished) / 1000.0
	}
	lastTool := s.LastTool
	if lastTool == "" {
		lastTool = "none"
	}

	rows := []string{
		d.header.Render("RAINBOW SESSION"),
		d.row("Turns", fmt.Sprintf("%d ok / %d failed", s.Completed, s.Failed), d.rate(successRate(s))),
		d.row("Latency", fmt.Sprintf("%.2fs avg", avgTurn), fmt.Sprintf("%d passes", s.Passes)),
		d.row("Model", withFailures(s.ModelCalls, s.ModelErrors),
			formatTokenCount(s.TokensIn)+" in / "+formatTokenCount(s.TokensOut)+" out"),
		d.row("Search", withFailures(s.Searches, s.SearchFailures), ""),
		d.row("Tools", withFailures(s.ToolCalls, s.ToolFailures), "last: "+lastTool),
	}
	return d.border.Width(d.width - 4).Render(strings.Join(rows, "\n"))
}

func (d *Dashboard) row(label, value, extra string) string {
	out := d.label.Render(label+":") + d.value.Render(value)
	if extra != "" {
		out += " │ " + extra
	}
	return out
}

func (d *Dashboard) rate(pct float64) string {
	formatted := fmt.Sprintf("%.0f%%", pct)
	switch {
	case pct >= 90:
		return d.good.Render(formatted)
	case pct >= 70:
		return d.warn.Render(formatted)
	default:
		return d.bad.Render(formatted)
	}
}

// successRate is the share of finished turns that completed; 100 with none finished.
func successRate(s *SessionStats) float64 {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 100
	}
	return float64(s.Completed) / float64(finished) * 100
}

func withFailures(total, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("%d", total)
	}
	return fmt.Sprintf("%d (%d failed)", total, failed)
}

// formatTokenCount formats large token counts with k/M suffixes.
func formatTokenCount(count int64) string {
	switch {
	case count < 1000:
		return fmt.Sprintf("%d", count)
	case count < 1000000:
		return fmt.Sprintf("%.1fk", float64(count)/1000.0)
	default:
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	}
}
