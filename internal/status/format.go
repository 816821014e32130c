package status

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FormatOptions controls output formatting.
type FormatOptions struct {
	NoColor bool
	Quiet   bool
}

// FormatDetailedRun formats a single run with full details.
func FormatDetailedRun(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	// Header
	b.WriteString(formatHeader(summary, opts))
	b.WriteString("\n\n")

	// Progress
	b.WriteString(formatProgress(summary, opts))
	b.WriteString("\n\n")

	// Executed actions
	if len(summary.Steps) > 0 || summary.InFlight != "" {
		b.WriteString(formatSteps(summary, opts))
		b.WriteString("\n")
	}

	// Errors
	if len(summary.Errors) > 0 {
		b.WriteString(formatErrors(summary, opts))
		b.WriteString("\n")
	}

	return b.String()
}

// FormatRunList formats a list of runs.
func FormatRunList(summaries []*RunSummary, opts FormatOptions) string {
	var b strings.Builder

	// Header
	b.WriteString(fmt.Sprintf("Found %d run(s):\n\n", len(summaries)))

	// Sort by started time (newest first)
	sorted := make([]*RunSummary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.After(sorted[j].StartedAt)
	})

	for i, summary := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(formatRunListItem(summary, opts))
	}

	return b.String()
}

func formatHeader(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	icon := getOutcomeIcon(summary.Outcome)
	color := getOutcomeColor(summary.Outcome, opts.NoColor)

	b.WriteString(fmt.Sprintf("Run:      %s\n", summary.ID))
	b.WriteString(fmt.Sprintf("Ticket:   %s (%s)\n", summary.Ticket, summary.Classification))
	if summary.Flow != "" {
		b.WriteString(fmt.Sprintf("Flow:     %s -> %s\n", summary.Flow, summary.Group))
	}
	b.WriteString(fmt.Sprintf("Outcome:  %s%s %s%s [%s]\n",
		color, icon, summary.Outcome, resetColor(opts.NoColor), summary.Stage))
	b.WriteString(fmt.Sprintf("Started:  %s", formatTime(summary.StartedAt)))

	if summary.DoneAt != nil {
		b.WriteString(fmt.Sprintf("\nFinished: %s", formatTime(*summary.DoneAt)))
		b.WriteString(fmt.Sprintf(" (took %s)", formatDuration(summary.DoneAt.Sub(summary.StartedAt))))
	} else {
		b.WriteString(fmt.Sprintf(" (%s ago)", formatDuration(time.Since(summary.StartedAt))))
	}

	if summary.Orphaned {
		b.WriteString(fmt.Sprintf("\n\n%s! No process holds this run.%s Run 'remedy resume %s' to continue it.",
			getColor("yellow", opts.NoColor), resetColor(opts.NoColor), summary.ID))
	}

	if len(summary.Variables) > 0 && !opts.Quiet {
		b.WriteString("\n\nVariables:")
		keys := make([]string, 0, len(summary.Variables))
		for k := range summary.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("\n  %s = %s", k, stringifyValue(summary.Variables[k])))
		}
	}

	return b.String()
}

func formatProgress(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	stats := summary.StepStats
	completed := stats.Done + stats.Failed + stats.Skipped
	total := stats.Total

	var percentage int
	if total > 0 {
		percentage = (completed * 100) / total
	}

	// Progress bar (25 characters wide)
	barWidth := 25
	filled := (percentage * barWidth) / 100
	progressBar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	b.WriteString(fmt.Sprintf("Progress: %s %d%% (%d/%d actions)\n",
		progressBar, percentage, stats.Done+stats.Failed, total))

	b.WriteString("\nActions:  ")

	parts := []string{}
	if stats.Done > 0 {
		parts = append(parts, fmt.Sprintf("%s✓ %d done%s",
			getColor("green", opts.NoColor), stats.Done, resetColor(opts.NoColor)))
	}
	if stats.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%s✗ %d failed%s",
			getColor("red", opts.NoColor), stats.Failed, resetColor(opts.NoColor)))
	}
	if stats.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%s○ %d pending%s",
			getColor("gray", opts.NoColor), stats.Pending, resetColor(opts.NoColor)))
	}
	if stats.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%s⊘ %d skipped%s",
			getColor("gray", opts.NoColor), stats.Skipped, resetColor(opts.NoColor)))
	}
	if len(parts) == 0 {
		parts = append(parts, "none")
	}

	b.WriteString(strings.Join(parts, ", "))

	return b.String()
}

func formatSteps(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	b.WriteString("Log:\n")
	for _, step := range summary.Steps {
		icon, color := "✓", getColor("green", opts.NoColor)
		if step.FailureCode != "" {
			icon, color = "✗", getColor("red", opts.NoColor)
		}
		b.WriteString(fmt.Sprintf("  %s%s%s %d. %s (%s)",
			color, icon, resetColor(opts.NoColor), step.Index+1, step.Action, formatDuration(step.Duration)))
		if step.FailureCode != "" {
			b.WriteString(fmt.Sprintf(" [%s]", step.FailureCode))
		}
		b.WriteString("\n")
		if step.Message != "" && !opts.Quiet {
			b.WriteString(fmt.Sprintf("     %s\n", step.Message))
		}
		if step.ArtifactRef != "" && !opts.Quiet {
			b.WriteString(fmt.Sprintf("     output: %s\n", step.ArtifactRef))
		}
	}
	if summary.InFlight != "" {
		b.WriteString(fmt.Sprintf("  %s●%s %s (in flight)\n",
			getColor("yellow", opts.NoColor), resetColor(opts.NoColor), summary.InFlight))
	}

	return b.String()
}

func formatErrors(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	errColor := getColor("red", opts.NoColor)
	reset := resetColor(opts.NoColor)

	b.WriteString(fmt.Sprintf("%sErrors:%s\n", errColor, reset))
	for _, err := range summary.Errors {
		b.WriteString(fmt.Sprintf("  %s✗%s %s\n", errColor, reset, err))
	}

	return b.String()
}

func formatRunListItem(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	icon := getOutcomeIcon(summary.Outcome)
	color := getOutcomeColor(summary.Outcome, opts.NoColor)

	b.WriteString(fmt.Sprintf("%s%s %s%s", color, icon, summary.ID, resetColor(opts.NoColor)))

	if !opts.Quiet {
		b.WriteString(fmt.Sprintf("\n  Ticket:   %s (%s)", summary.Ticket, summary.Classification))
		if summary.Flow != "" {
			b.WriteString(fmt.Sprintf("\n  Flow:     %s", summary.Flow))
		}
		b.WriteString(fmt.Sprintf("\n  Stage:    %s", summary.Stage))
		b.WriteString(fmt.Sprintf("\n  Progress: %d/%d actions",
			summary.StepStats.Done+summary.StepStats.Failed, summary.StepStats.Total))

		if summary.DoneAt != nil {
			b.WriteString(fmt.Sprintf("\n  Duration: %s", formatDuration(summary.DoneAt.Sub(summary.StartedAt))))
		} else if summary.Orphaned {
			b.WriteString("\n  Orphaned: resume to continue")
		} else {
			b.WriteString(fmt.Sprintf("\n  Running:  %s", formatDuration(time.Since(summary.StartedAt))))
		}
	}

	return b.String()
}

// Formatting helpers

func getOutcomeIcon(outcome string) string {
	switch outcome {
	case "completed":
		return "✓"
	case "failed":
		return "✗"
	case "active":
		return "●"
	default:
		return "?"
	}
}

func getOutcomeColor(outcome string, noColor bool) string {
	switch outcome {
	case "completed":
		return getColor("green", noColor)
	case "failed":
		return getColor("red", noColor)
	case "active":
		return getColor("yellow", noColor)
	default:
		return ""
	}
}

func getColor(name string, noColor bool) string {
	if noColor {
		return ""
	}

	switch name {
	case "red":
		return "\033[31m"
	case "green":
		return "\033[32m"
	case "yellow":
		return "\033[33m"
	case "cyan":
		return "\033[36m"
	case "gray":
		return "\033[90m"
	default:
		return ""
	}
}

func resetColor(noColor bool) string {
	if noColor {
		return ""
	}
	return "\033[0m"
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// stringifyValue renders a variable the way actions receive it.
func stringifyValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

