package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"bastion/core"

	"github.com/fatih/color"
)

const tableWidth = 72

// renderStatusTable displays the counters and, if loaded, recent events
func renderStatusTable(w io.Writer, report statusReport) {
	headerColor.Fprintln(w, "BASTION STATUS")
	headerColor.Fprintln(w, strings.Repeat("=", tableWidth))
	printField(w, "Threat indicators", fmt.Sprintf("%d", report.Counts.ThreatIndicators))
	printField(w, "Attack events", fmt.Sprintf("%d", report.Counts.AttackEvents))
	printField(w, "Critical events", formatCritical(report.Counts.CriticalEvents))

	if len(report.Recent) > 0 {
		fmt.Fprintln(w)
		printSection(w, "Recent Events")
		fmt.Fprintf(w, "  %-10s %-20s %-10s %s\n", "When", "Type", "Severity", "Payload")
		fmt.Fprintln(w, "  "+strings.Repeat("-", tableWidth-2))
		for _, e := range report.Recent {
			fmt.Fprintf(w, "  %-10s %-20s %-10s %s\n", formatTimeSince(e.Timestamp), e.EventType, formatSeverity(e.Severity), truncate(e.Payload, 40))
		}
	}

	if len(report.RecentAttacks) > 0 {
		fmt.Fprintln(w)
		printSection(w, "Recent Attacks")
		fmt.Fprintf(w, "  %-10s %-16s %-10s %-5s %s\n", "When", "Source", "Type", "Risk", "Payload")
		fmt.Fprintln(w, "  "+strings.Repeat("-", tableWidth-2))
		for _, a := range report.RecentAttacks {
			fmt.Fprintf(w, "  %-10s %-16s %-10s %-5d %s\n", formatTimeSince(a.Timestamp), a.AttackerIP, a.AttackType, a.RiskScore, truncate(a.Payload, 30))
		}
	}
	headerColor.Fprintln(w, strings.Repeat("=", tableWidth))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// printSection prints a section header
func printSection(w io.Writer, title string) {
	headerColor.Fprintf(w, "  %s\n", title)
	headerColor.Fprintln(w, "  "+strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

func formatCritical(n int64) string {
	if n == 0 {
		return "0"
	}
	return errorColor.Sprint(n)
}

// formatSeverity pads before coloring so escape codes do not break alignment
func formatSeverity(s core.Severity) string {
	padded := fmt.Sprintf("%-10s", s)
	switch s {
	case core.SeverityCritical:
		return color.New(color.FgRed).Sprint(padded)
	case core.SeverityWarning:
		return warningColor.Sprint(padded)
	default:
		return padded
	}
}

// formatTimeSince formats time as relative duration
func formatTimeSince(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}

	duration := time.Since(t)
	if duration < time.Minute {
		return fmt.Sprintf("%ds ago", int(duration.Seconds()))
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
