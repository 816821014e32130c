package types

import "time"

// RunStage is the state-machine position of a run.
type RunStage string

const (
	StageInitializing     RunStage = "initializing"      // Ticket moving to WORK_IN_PROGRESS
	StageResolvingFlow    RunStage = "resolving_flow"    // Catalog lookup and action listing
	StageDeciding         RunStage = "deciding"          // Choosing the next transition
	StageExecutingAction  RunStage = "executing_action"  // Action process running
	StageRecordingNote    RunStage = "recording_note"    // Work note being appended
	StageErrorReassigning RunStage = "error_reassigning" // Ticket moving to the fallback team
	StageCompleting       RunStage = "completing"        // Ticket moving to CLOSED_COMPLETE
	StageTerminated       RunStage = "terminated"        // Retired, no further transitions
)

// Valid returns true if this is a recognized stage.
func (s RunStage) Valid() bool {
	switch s {
	case StageInitializing, StageResolvingFlow, StageDeciding, StageExecutingAction,
		StageRecordingNote, StageErrorReassigning, StageCompleting, StageTerminated:
		return true
	}
	return false
}

// IsTerminal returns true if no transition leaves this stage.
func (s RunStage) IsTerminal() bool {
	return s == StageTerminated
}

// StepRecord is one execution log entry, appended per executed action.
type StepRecord struct {
	ID           string        `yaml:"id" json:"id"`
	Action       string        `yaml:"action" json:"action"`
	Index        int           `yaml:"index" json:"index"`
	Status       ActionStatus  `yaml:"status" json:"status"`
	Message      string        `yaml:"message,omitempty" json:"message,omitempty"`
	ErrorMessage string        `yaml:"error_message,omitempty" json:"error_message,omitempty"`
	FailureCode  string        `yaml:"failure_code,omitempty" json:"failure_code,omitempty"` // ACTION_00x when the step failed the run
	ExitCode     int           `yaml:"exit_code" json:"exit_code"`
	ScriptDigest string        `yaml:"script_digest,omitempty" json:"script_digest,omitempty"`
	ArtifactRef  string        `yaml:"artifact_ref,omitempty" json:"artifact_ref,omitempty"`
	StartedAt    time.Time     `yaml:"started_at" json:"started_at"`
	Duration     time.Duration `yaml:"duration" json:"duration"`
}

// Failed returns true if this step failed the run.
func (s StepRecord) Failed() bool {
	return s.FailureCode != ""
}
