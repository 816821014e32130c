// Package orchestrator drives ticket remediation runs.
//
// A run walks a fixed state machine:
//
//	initializing -> resolving_flow -> deciding -> executing_action -> recording_note -> deciding ...
//	deciding -> error_reassigning -> terminated
//	deciding -> completing -> terminated
//
// The RunRecord is saved after every transition, so a crashed run resumes
// from the stage it last reached. Before an action starts its name is
// checkpointed as InFlight; a resume that finds InFlight set either replays
// the action or records it as interrupted, depending on configuration.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/meow-stack/remedy/internal/archive"
	"github.com/meow-stack/remedy/internal/catalog"
	"github.com/meow-stack/remedy/internal/config"
	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/logging"
	"github.com/meow-stack/remedy/internal/normalize"
	"github.com/meow-stack/remedy/internal/runner"
	"github.com/meow-stack/remedy/internal/ticket"
	"github.com/meow-stack/remedy/internal/types"
)

// ReassignmentGroupKey is the variable holding the team a failed run is handed to.
const ReassignmentGroupKey = "reassignment_group"

// NoteInterrupted is recorded for an action cut off by a crash when replay is disabled.
const NoteInterrupted = "action interrupted before completion"

// ActionRunner executes one action file.
type ActionRunner interface {
	Run(ctx context.Context, path string, in runner.Input) (*types.ActionResult, error)
}

// Archiver keeps raw action output out of the RunRecord.
type Archiver interface {
	Store(ctx context.Context, e *archive.Entry) (string, error)
}

// RunLoggerFunc opens the logger used for one run.
type RunLoggerFunc func(runID string) (*slog.Logger, io.Closer, error)

// Engine is the workflow engine. It is safe for concurrent use; each run is
// driven by the goroutine that called Start or Resume.
type Engine struct {
	cfg     *config.Config
	baseDir string
	flows   *catalog.Catalog
	store   RunStore
	tickets ticket.Controller
	actions ActionRunner
	archive Archiver
	logger  *slog.Logger

	runLogger RunLoggerFunc
	tracing   bool

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an Engine.
func New(cfg *config.Config, baseDir string, flows *catalog.Catalog, store RunStore, tickets ticket.Controller, actions ActionRunner, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		baseDir: baseDir,
		flows:   flows,
		store:   store,
		tickets: tickets,
		actions: actions,
		logger:  logger,
		tracing: true,
		active:  make(map[string]struct{}),
	}
}

// SetArchive enables archiving of raw action output.
func (e *Engine) SetArchive(a Archiver) {
	e.archive = a
}

// SetRunLogger replaces the per-run logger factory.
func (e *Engine) SetRunLogger(f RunLoggerFunc) {
	e.runLogger = f
}

// SetTracing toggles the per-run JSONL trace.
func (e *Engine) SetTracing(enabled bool) {
	e.tracing = enabled
}

// TracePath returns where the trace of runID is written.
func (e *Engine) TracePath(runID string) string {
	return filepath.Join(e.traceDir(), runID+".jsonl")
}

func (e *Engine) traceDir() string {
	return TraceDir(e.cfg.StateDir(e.baseDir))
}

func (e *Engine) lockDir() string {
	return LockDir(e.cfg.StateDir(e.baseDir))
}

// TraceDir returns the trace directory under a state directory.
func TraceDir(stateDir string) string {
	return filepath.Join(stateDir, "traces")
}

// LockDir returns the run lock directory under a state directory.
func LockDir(stateDir string) string {
	return filepath.Join(stateDir, "locks")
}

// List returns persisted records matching filter.
func (e *Engine) List(ctx context.Context, filter RunFilter) ([]*types.RunRecord, error) {
	return e.store.List(ctx, filter)
}

// Start begins a run for a validated ticket. An empty runID defaults to
// the ticket's identifier. A persisted run that has not terminated is
// resumed instead of restarted; a terminated one is rejected.
func (e *Engine) Start(ctx context.Context, runID string, t *types.Ticket) (*types.RunRecord, error) {
	if runID == "" {
		runID = t.DefaultRunID()
	}
	if err := ValidateRunID(runID); err != nil {
		return nil, errors.PayloadInvalid(err.Error())
	}

	release, err := e.acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := e.store.Load(ctx, runID)
	switch {
	case err == nil:
		if rec.Retired() {
			return rec, errors.RunRetired(runID)
		}
		return rec, e.drive(ctx, rec, true)
	case errors.HasCode(err, errors.CodeRunNotFound):
	default:
		return nil, errors.PersistenceFailed(runID, err)
	}

	rec = types.NewRunRecord(runID, t)
	return rec, e.drive(ctx, rec, false)
}

// Resume continues a persisted run from its last saved stage.
func (e *Engine) Resume(ctx context.Context, runID string) (*types.RunRecord, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, errors.PayloadInvalid(err.Error())
	}
	release, err := e.acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := e.store.Load(ctx, runID)
	if err != nil {
		if errors.HasCode(err, errors.CodeRunNotFound) {
			return nil, err
		}
		return nil, errors.PersistenceFailed(runID, err)
	}
	if rec.Retired() {
		return rec, errors.RunRetired(runID)
	}
	return rec, e.drive(ctx, rec, true)
}

// acquire claims runID in this process, across processes through the run
// lock, and across hosts when the store is a RunLocker.
func (e *Engine) acquire(ctx context.Context, runID string) (func(), error) {
	e.mu.Lock()
	if _, busy := e.active[runID]; busy {
		e.mu.Unlock()
		return nil, errors.RunInFlight(runID)
	}
	e.active[runID] = struct{}{}
	e.mu.Unlock()

	lock, err := AcquireRunLock(e.lockDir(), runID)
	if err != nil {
		e.forget(runID)
		return nil, errors.RunInFlight(runID).WithCause(err)
	}

	unlockStore := func() {}
	if locker, ok := e.store.(RunLocker); ok {
		unlock, err := locker.LockRun(ctx, runID)
		if err != nil {
			lock.Release()
			e.forget(runID)
			return nil, errors.RunInFlight(runID).WithCause(err)
		}
		unlockStore = unlock
	}

	return func() {
		unlockStore()
		lock.Release()
		e.forget(runID)
	}, nil
}

func (e *Engine) forget(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
}

// run bundles what one drive of a RunRecord needs.
type run struct {
	rec    *types.RunRecord
	log    *slog.Logger
	trace  RunTracer
	replay bool // InFlight found set on resume
}

func (e *Engine) open(rec *types.RunRecord) (*run, func()) {
	r := &run{rec: rec, trace: &NullTracer{}}
	var closers []io.Closer

	if e.runLogger != nil {
		logger, closer, err := e.runLogger(rec.TicketID)
		if err != nil {
			e.logger.Warn("run log unavailable", "run_id", rec.TicketID, "error", err)
		} else {
			r.log = logger
			closers = append(closers, closer)
		}
	}
	if r.log == nil {
		r.log = logging.WithRun(e.logger, rec.TicketID, rec.Ticket.Number)
	}

	if e.tracing {
		tr, err := NewTracer(e.traceDir(), rec.TicketID)
		if err != nil {
			r.log.Warn("trace unavailable", "error", err)
		} else {
			r.trace = tr
			closers = append(closers, tr)
		}
	}

	return r, func() {
		for _, c := range closers {
			c.Close()
		}
	}
}

// drive advances rec until it terminates or a fatal error stops it.
func (e *Engine) drive(ctx context.Context, rec *types.RunRecord, resumed bool) error {
	r, closeRun := e.open(rec)
	defer closeRun()

	if resumed {
		r.replay = rec.Stage == types.StageExecutingAction && rec.InFlight != ""
		r.log.Info("resuming run", "stage", rec.Stage, "action_index", rec.ActionIndex)
		r.trace.LogResume(string(rec.Stage), rec.ActionIndex)
	} else {
		r.log.Info("starting run", "classification", rec.Classification)
		r.trace.LogStart(rec.Classification, rec.Ticket.Number)
		if err := e.save(ctx, r); err != nil {
			return err
		}
	}

	for !rec.Retired() {
		from := rec.Stage
		var err error
		switch rec.Stage {
		case types.StageInitializing:
			err = e.initialize(ctx, r)
		case types.StageResolvingFlow:
			err = e.resolveFlow(ctx, r)
		case types.StageDeciding:
			err = e.decide(ctx, r)
		case types.StageExecutingAction:
			err = e.execute(ctx, r)
		case types.StageRecordingNote:
			err = e.recordNote(ctx, r)
		case types.StageErrorReassigning:
			err = e.reassign(ctx, r)
		case types.StageCompleting:
			err = e.complete(ctx, r)
		default:
			err = e.abort(ctx, r, fmt.Errorf("unknown stage %q", rec.Stage))
		}
		if err != nil {
			return err
		}

		if rec.Stage != from {
			r.trace.LogTransition(string(from), string(rec.Stage))
		}
		if err := e.save(ctx, r); err != nil {
			return err
		}
	}

	r.log.Info("run terminated",
		"outcome", rec.Outcome(),
		"actions_executed", len(rec.Log),
		"reassigned", rec.Reassigned,
	)
	return nil
}

func (e *Engine) save(ctx context.Context, r *run) error {
	// A cancelled caller must not lose the checkpoint of what already happened.
	if err := e.store.Save(context.WithoutCancel(ctx), r.rec); err != nil {
		perr := errors.PersistenceFailed(r.rec.TicketID, err)
		r.log.Error("saving run failed", "stage", r.rec.Stage, "error", err)
		r.trace.LogError(string(r.rec.Stage), perr)
		return perr
	}
	return nil
}

// abort fails and retires the run without any further ticket write.
func (e *Engine) abort(ctx context.Context, r *run, cause error) error {
	stage := r.rec.Stage
	r.log.Error("run aborted", "stage", stage, "error", cause)
	r.trace.LogError(string(stage), cause)

	r.rec.Fail(cause.Error())
	r.rec.Terminate()
	r.trace.LogTransition(string(stage), string(r.rec.Stage))
	if err := e.save(ctx, r); err != nil {
		return err
	}
	return cause
}

// interrupted reports whether a ticket write failed because the caller
// cancelled. The run then keeps its last saved stage and the write is
// repeated on resume.
func (e *Engine) interrupted(ctx context.Context, r *run, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	r.log.Warn("ticket write interrupted", "stage", r.rec.Stage, "error", err)
	r.trace.LogError(string(r.rec.Stage), err)
	return true
}

// lifecycleFailed stops the run after a failed ticket write. A write cut
// short by cancellation leaves the run resumable; any other failure retires it.
func (e *Engine) lifecycleFailed(ctx context.Context, r *run, err error) error {
	if e.interrupted(ctx, r, err) {
		return err
	}
	return e.abort(ctx, r, err)
}

func (e *Engine) initialize(ctx context.Context, r *run) error {
	state := types.TicketWorkInProgress
	err := e.tickets.SetState(ctx, r.rec.Ticket, state)
	r.trace.LogLifecycle(ticket.OpSetState, state.String(), err)
	if err != nil {
		return e.lifecycleFailed(ctx, r, err)
	}
	r.rec.Advance(types.StageResolvingFlow)
	return nil
}

func (e *Engine) resolveFlow(ctx context.Context, r *run) error {
	flow, err := e.flows.Resolve(r.rec.Classification)
	if err != nil {
		return e.abort(ctx, r, err)
	}
	actions, err := e.flows.Actions(flow.Name)
	if err != nil {
		return e.abort(ctx, r, err)
	}

	r.rec.SetFlow(flow.Name, flow.ReassignmentGroup, actions)
	r.rec.MergeVariables(map[string]any{ReassignmentGroupKey: flow.ReassignmentGroup})
	r.log.Info("flow resolved", "flow", flow.Name, "actions", len(actions))
	r.rec.Advance(types.StageDeciding)
	return nil
}

func (e *Engine) decide(ctx context.Context, r *run) error {
	switch {
	case r.rec.Failed:
		r.rec.Advance(types.StageErrorReassigning)
	case !r.rec.Exhausted():
		// The saved InFlight checkpoint precedes every action start.
		if _, err := r.rec.BeginAction(); err != nil {
			return e.abort(ctx, r, err)
		}
	default:
		r.rec.Advance(types.StageCompleting)
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, r *run) error {
	rec := r.rec
	if rec.InFlight == "" {
		if _, err := rec.BeginAction(); err != nil {
			return e.abort(ctx, r, err)
		}
	}
	action := rec.InFlight
	log := logging.WithAction(r.log, action, rec.ActionIndex)

	if r.replay {
		r.replay = false
		if !e.cfg.Resume.ReplayInterrupted {
			log.Warn("action was interrupted, recording it as failed")
			step := types.StepRecord{
				ID:           NewStepID(),
				Status:       types.ActionError,
				Message:      NoteInterrupted,
				ErrorMessage: NoteInterrupted,
				FailureCode:  errors.CodeActionExecutionFailed,
				ExitCode:     -1,
				StartedAt:    time.Now(),
			}
			return e.record(ctx, r, step, nil, NoteInterrupted, true)
		}
		log.Warn("action was interrupted, running it again")
	}

	path := e.flows.ActionPath(rec.FlowName, action)
	step := types.StepRecord{ID: NewStepID(), StartedAt: time.Now()}
	if digest, err := runner.Digest(path); err == nil {
		step.ScriptDigest = digest
	}
	r.trace.LogDispatch(step.ID, action, rec.ActionIndex, step.ScriptDigest)
	log.Info("executing action")

	result, err := e.actions.Run(ctx, path, runner.Input{Payload: rec.Payload, Variables: rec.Variables})
	if err != nil {
		if !errors.HasCode(err, errors.CodeActionNotExecutable) {
			// Cancelled: the InFlight checkpoint stays for a later resume.
			log.Warn("action interrupted", "error", err)
			r.trace.LogError(string(rec.Stage), err)
			return err
		}
		log.Error("action not executable", "error", err)
		step.Status = types.ActionError
		step.ErrorMessage = err.Error()
		step.FailureCode = errors.CodeActionNotExecutable
		step.ExitCode = -1
		step.Duration = time.Since(step.StartedAt)
		return e.record(ctx, r, step, nil, err.Error(), true)
	}

	outcome := normalize.Normalize(result, rec.Variables)
	step.Status = result.Status
	step.Message = outcome.Note
	step.ErrorMessage = outcome.Error
	step.ExitCode = result.ExitCode
	step.Duration = result.Duration
	if outcome.Failed {
		step.FailureCode = outcome.Code
	}
	step.ArtifactRef = e.archiveOutput(ctx, r, step, action, result)

	if outcome.Failed {
		log.Warn("action failed", "note", outcome.Note, "exit_code", result.ExitCode, "timed_out", result.TimedOut)
	} else {
		log.Info("action succeeded", "note", outcome.Note, "duration", result.Duration)
	}
	return e.record(ctx, r, step, outcome.Variables, outcome.Note, outcome.Failed)
}

func (e *Engine) record(ctx context.Context, r *run, step types.StepRecord, vars map[string]any, note string, failed bool) error {
	if err := r.rec.RecordStep(step, vars, note, failed); err != nil {
		return e.abort(ctx, r, err)
	}
	last := r.rec.Log[len(r.rec.Log)-1]
	r.trace.LogStep(last.ID, last.Action, string(last.Status), failed, note)
	r.rec.Advance(types.StageRecordingNote)
	return nil
}

func (e *Engine) archiveOutput(ctx context.Context, r *run, step types.StepRecord, action string, result *types.ActionResult) string {
	if e.archive == nil {
		return ""
	}
	ref, err := e.archive.Store(ctx, &archive.Entry{
		RunID:    r.rec.TicketID,
		StepID:   step.ID,
		Action:   action,
		Index:    r.rec.ActionIndex,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Duration: result.Duration,
		At:       step.StartedAt,
	})
	if err != nil {
		r.log.Warn("archiving action output failed", "action", action, "error", err)
		return ""
	}
	return ref
}

func (e *Engine) recordNote(ctx context.Context, r *run) error {
	err := e.tickets.AppendWorknote(ctx, r.rec.Ticket, r.rec.LastNote)
	r.trace.LogLifecycle(ticket.OpAppendWorknote, r.rec.LastNote, err)
	if err != nil {
		return e.lifecycleFailed(ctx, r, err)
	}
	r.rec.Advance(types.StageDeciding)
	return nil
}

// reassign hands the ticket to the fallback team. A failed write is logged
// and the run still terminates, unless the caller cancelled.
func (e *Engine) reassign(ctx context.Context, r *run) error {
	group, _ := r.rec.Variables[ReassignmentGroupKey].(string)
	if group == "" {
		r.log.Warn("no reassignment group, reassigning to empty group")
	}

	err := e.tickets.Reassign(ctx, r.rec.Ticket, group)
	r.trace.LogLifecycle(ticket.OpReassign, group, err)
	switch {
	case err == nil:
		r.rec.Reassigned = true
		r.log.Info("ticket reassigned", "group", group)
	case e.interrupted(ctx, r, err):
		return err
	default:
		r.log.Error("reassigning ticket failed", "group", group, "error", err)
	}
	r.rec.Terminate()
	return nil
}

func (e *Engine) complete(ctx context.Context, r *run) error {
	state := types.TicketClosedComplete
	err := e.tickets.SetState(ctx, r.rec.Ticket, state)
	r.trace.LogLifecycle(ticket.OpSetState, state.String(), err)
	if err != nil {
		return e.lifecycleFailed(ctx, r, err)
	}
	r.rec.Complete()
	r.rec.Terminate()
	return nil
}
