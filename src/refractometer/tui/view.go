package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dividat/refractometer/src/refractometer/acquisition"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("#A0A0A0"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	plotStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AFFF"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0A0A0"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	helpStyle  = lipgloss.NewStyle().Faint(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	stateStyles = map[acquisition.State]lipgloss.Style{
		acquisition.Idle:      lipgloss.NewStyle().Foreground(lipgloss.Color("#A0A0A0")),
		acquisition.Measuring: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FD75F")),
		acquisition.Stopped:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F")),
		acquisition.Faulted:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F5F")),
	}
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	snapshot := m.session.Snapshot()

	port := "none"
	if selected := m.selectedPort(); selected != "" {
		port = fmt.Sprintf("%s (%d/%d)", selected, m.portIndex+1, len(m.ports))
	}
	if snapshot.State == acquisition.Measuring {
		port = snapshot.Port
	}

	latest := "-"
	if snapshot.Latest != nil {
		latest = fmt.Sprintf("%.3f", snapshot.Latest.Value)
	}

	rows := []string{
		titleStyle.Render("Refractometer"),
		"",
		labelStyle.Render("Port") + valueStyle.Render(port),
		labelStyle.Render("Work point") + valueStyle.Render(m.workPoints.Selected()),
		labelStyle.Render("State") + stateStyles[snapshot.State].Render(snapshot.State.String()) +
			"  " + valueStyle.Render(FormatElapsed(snapshot.Elapsed)),
		labelStyle.Render("Latest") + valueStyle.Render(latest),
		"",
		plotStyle.Render(Plot(snapshot.History, m.config.PlotWidth, plotHeight)),
		"",
	}

	if m.errorMessage != "" {
		rows = append(rows, errorStyle.Render(m.errorMessage))
	} else {
		rows = append(rows, infoStyle.Render(m.infoMessage))
	}
	rows = append(rows, helpStyle.Render("p port · r refresh · w work point · s start · x stop · q quit"))

	return boxStyle.Render(strings.Join(rows, "\n"))
}

// FormatElapsed renders d as mm:ss.
func FormatElapsed(d time.Duration) string {
	seconds := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Plot draws the last width samples as columns height rows tall, scaled
// between their minimum and maximum, with the range on the left axis.
func Plot(samples []acquisition.Sample, width int, height int) string {
	if len(samples) == 0 {
		return "no samples"
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	low, high := math.Inf(1), math.Inf(-1)
	for _, sample := range samples {
		low = math.Min(low, sample.Value)
		high = math.Max(high, sample.Value)
	}
	// a flat series is drawn at half height
	if high == low {
		low, high = low-1, high+1
	}

	// column heights in rows, at least one so every sample is visible
	columns := make([]int, len(samples))
	for i, sample := range samples {
		level := int(math.Round((sample.Value - low) / (high - low) * float64(height)))
		columns[i] = max(level, 1)
	}

	var sb strings.Builder
	for row := height; row >= 1; row-- {
		switch row {
		case height:
			sb.WriteString(fmt.Sprintf("%9.3f ┤", high))
		case 1:
			sb.WriteString(fmt.Sprintf("%9.3f ┤", low))
		default:
			sb.WriteString(strings.Repeat(" ", 10) + "│")
		}
		for _, column := range columns {
			if column >= row {
				sb.WriteString("█")
			} else {
				sb.WriteString(" ")
			}
		}
		if row > 1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
