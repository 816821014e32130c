package types

import (
	"fmt"
	"maps"
	"time"
)

// RunRecord is the durable state of one remediation run, keyed by TicketID.
//
// ActionIndex counts executed actions and never exceeds len(Actions).
// Variables and Log only grow. Failed and Completed are never both set.
type RunRecord struct {
	TicketID       string         `yaml:"ticket_id" json:"ticket_id"`
	Ticket         TicketRef      `yaml:"ticket" json:"ticket"`
	Payload        map[string]any `yaml:"payload" json:"payload"`
	Classification string         `yaml:"classification" json:"classification"`

	// Populated once the flow resolves.
	FlowName string   `yaml:"flow_name,omitempty" json:"flow_name,omitempty"`
	Group    string   `yaml:"reassignment_group,omitempty" json:"reassignment_group,omitempty"`
	Actions  []string `yaml:"actions,omitempty" json:"actions,omitempty"`

	ActionIndex int            `yaml:"action_index" json:"action_index"`
	Variables   map[string]any `yaml:"variables" json:"variables"`
	LastNote    string         `yaml:"last_note,omitempty" json:"last_note,omitempty"`
	Log         []StepRecord   `yaml:"log,omitempty" json:"log,omitempty"`

	Failed    bool     `yaml:"failed" json:"failed"`
	Completed bool     `yaml:"completed" json:"completed"`
	Stage     RunStage `yaml:"stage" json:"stage"`

	// InFlight names the action whose execution started but whose result
	// has not been recorded yet.
	InFlight      string `yaml:"in_flight,omitempty" json:"in_flight,omitempty"`
	FailureReason string `yaml:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	Reassigned    bool   `yaml:"reassigned,omitempty" json:"reassigned,omitempty"`

	StartedAt time.Time  `yaml:"started_at" json:"started_at"`
	UpdatedAt time.Time  `yaml:"updated_at" json:"updated_at"`
	DoneAt    *time.Time `yaml:"done_at,omitempty" json:"done_at,omitempty"`
}

// NewRunRecord creates a fresh record for a ticket.
func NewRunRecord(id string, ticket *Ticket) *RunRecord {
	now := time.Now()
	return &RunRecord{
		TicketID:       id,
		Ticket:         ticket.Ref,
		Payload:        ticket.Payload,
		Classification: ticket.Classification,
		Variables:      make(map[string]any),
		Stage:          StageInitializing,
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// SetFlow records the resolved flow and its ordered actions.
func (r *RunRecord) SetFlow(name, group string, actions []string) {
	r.FlowName = name
	r.Group = group
	r.Actions = append([]string(nil), actions...)
	r.ActionIndex = 0
}

// FlowResolved returns true once the action list is known.
func (r *RunRecord) FlowResolved() bool {
	return r.FlowName != ""
}

// NextAction returns the action at ActionIndex, if any remain.
func (r *RunRecord) NextAction() (string, bool) {
	if r.ActionIndex >= len(r.Actions) {
		return "", false
	}
	return r.Actions[r.ActionIndex], true
}

// Exhausted returns true once every action has executed.
func (r *RunRecord) Exhausted() bool {
	return r.FlowResolved() && r.ActionIndex >= len(r.Actions)
}

// MergeVariables adds or overwrites entries. Nothing is ever removed.
func (r *RunRecord) MergeVariables(vars map[string]any) {
	if r.Variables == nil {
		r.Variables = make(map[string]any, len(vars))
	}
	maps.Copy(r.Variables, vars)
}

// BeginAction checkpoints the action about to execute.
func (r *RunRecord) BeginAction() (string, error) {
	action, ok := r.NextAction()
	if !ok {
		return "", fmt.Errorf("run %s has no action left at index %d", r.TicketID, r.ActionIndex)
	}
	r.InFlight = action
	r.Stage = StageExecutingAction
	r.touch()
	return action, nil
}

// RecordStep appends the outcome of the action at ActionIndex, merges its
// variables and advances the index by exactly one.
func (r *RunRecord) RecordStep(step StepRecord, vars map[string]any, note string, failed bool) error {
	action, ok := r.NextAction()
	if !ok {
		return fmt.Errorf("run %s has no action left at index %d", r.TicketID, r.ActionIndex)
	}
	step.Action = action
	step.Index = r.ActionIndex
	r.Log = append(r.Log, step)
	r.MergeVariables(vars)
	r.LastNote = note
	r.ActionIndex++
	r.InFlight = ""
	if failed {
		r.Failed = true
	}
	r.touch()
	return nil
}

// Fail marks the run failed with a reason.
func (r *RunRecord) Fail(reason string) {
	r.Failed = true
	r.Completed = false
	if r.FailureReason == "" {
		r.FailureReason = reason
	}
	r.touch()
}

// Complete marks the run completed. A failed run stays failed.
func (r *RunRecord) Complete() {
	if r.Failed {
		return
	}
	r.Completed = true
	r.touch()
}

// Advance moves the run to a new stage.
func (r *RunRecord) Advance(stage RunStage) {
	r.Stage = stage
	r.touch()
}

// Terminate retires the run.
func (r *RunRecord) Terminate() {
	now := time.Now()
	r.Stage = StageTerminated
	r.DoneAt = &now
	r.UpdatedAt = now
}

// Retired returns true once the run reached its terminal stage.
func (r *RunRecord) Retired() bool {
	return r.Stage.IsTerminal()
}

// Outcome summarizes the run for display.
func (r *RunRecord) Outcome() string {
	switch {
	case r.Completed:
		return "completed"
	case r.Failed:
		return "failed"
	default:
		return "active"
	}
}

func (r *RunRecord) touch() {
	r.UpdatedAt = time.Now()
}
