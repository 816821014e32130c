// Package status renders RunRecords for the command line.
package status

import (
	"time"

	"github.com/meow-stack/remedy/internal/types"
)

// RunSummary contains computed information about a run for display.
type RunSummary struct {
	ID             string         `json:"id"`
	Ticket         string         `json:"ticket"`
	Classification string         `json:"classification"`
	Flow           string         `json:"flow,omitempty"`
	Group          string         `json:"reassignment_group,omitempty"`
	Stage          types.RunStage `json:"stage"`
	Outcome        string         `json:"outcome"`
	Locked         bool           `json:"locked,omitempty"`
	Orphaned       bool           `json:"orphaned,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DoneAt         *time.Time     `json:"done_at,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
	LastNote       string         `json:"last_note,omitempty"`
	InFlight       string         `json:"in_flight,omitempty"`
	StepStats      StepStats      `json:"step_stats"`
	Steps          []StepSummary  `json:"steps,omitempty"`
	Errors         []string       `json:"errors,omitempty"`
}

// StepStats contains action count breakdown.
type StepStats struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Skipped int `json:"skipped"`
}

// StepSummary is one executed action.
type StepSummary struct {
	Index       int                `json:"index"`
	Action      string             `json:"action"`
	Status      types.ActionStatus `json:"status"`
	FailureCode string             `json:"failure_code,omitempty"`
	Message     string             `json:"message,omitempty"`
	Duration    time.Duration      `json:"duration"`
	ArtifactRef string             `json:"artifact_ref,omitempty"`
}

// NewRunSummary creates a summary from a record. locked reports whether a
// process currently holds the run; a non-terminated run without the lock
// is orphaned and can be resumed.
func NewRunSummary(rec *types.RunRecord, locked bool) *RunSummary {
	summary := &RunSummary{
		ID:             rec.TicketID,
		Ticket:         rec.Ticket.Number,
		Classification: rec.Classification,
		Flow:           rec.FlowName,
		Group:          rec.Group,
		Stage:          rec.Stage,
		Outcome:        rec.Outcome(),
		Locked:         locked,
		Orphaned:       !locked && !rec.Retired(),
		StartedAt:      rec.StartedAt,
		UpdatedAt:      rec.UpdatedAt,
		DoneAt:         rec.DoneAt,
		Variables:      rec.Variables,
		LastNote:       rec.LastNote,
		InFlight:       rec.InFlight,
		StepStats:      computeStepStats(rec),
	}
	if summary.Ticket == "" {
		summary.Ticket = rec.Ticket.SysID
	}

	for _, step := range rec.Log {
		summary.Steps = append(summary.Steps, StepSummary{
			Index:       step.Index,
			Action:      step.Action,
			Status:      step.Status,
			FailureCode: step.FailureCode,
			Message:     step.Message,
			Duration:    step.Duration,
			ArtifactRef: step.ArtifactRef,
		})
		if step.Failed() {
			msg := step.ErrorMessage
			if msg == "" {
				msg = step.Message
			}
			summary.Errors = append(summary.Errors, step.Action+": "+msg)
		}
	}
	if rec.FailureReason != "" && len(summary.Errors) == 0 {
		summary.Errors = append(summary.Errors, rec.FailureReason)
	}

	return summary
}

// computeStepStats tallies executed and remaining actions.
func computeStepStats(rec *types.RunRecord) StepStats {
	stats := StepStats{
		Total: len(rec.Actions),
	}

	for _, step := range rec.Log {
		if step.Failed() {
			stats.Failed++
		} else {
			stats.Done++
		}
	}
	remaining := stats.Total - len(rec.Log)
	if rec.Failed {
		stats.Skipped = remaining
	} else {
		stats.Pending = remaining
	}

	return stats
}
