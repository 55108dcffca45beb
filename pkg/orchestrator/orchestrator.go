// Package orchestrator implements the fixed pipeline with one back-edge
// (component C9): Analyzer -> Planner -> Modifier -> Tester, looping
// back to Planner on a bounded number of quality-gate failures, then
// Publisher. It owns the Store/Bus side effects each stage's
// comment says the Orchestrator -- not the stage -- performs, and is
// the single writer of Feedback and Task records.
//
// Grounded on pkg/queue/worker.go's pollAndProcess (claim -> execute ->
// update terminal status -> publish terminal event, with every path,
// including nil/cancelled/timeout, converging on one terminal update)
// and pkg/agent/orchestrator/runner.go's per-unit cancellation registry
// (CancelAll/WaitAll), generalized from sub-agent goroutines to
// per-task contexts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opslane/feedbackpilot/pkg/clock"
	"github.com/opslane/feedbackpilot/pkg/events"
	"github.com/opslane/feedbackpilot/pkg/models"
	"github.com/opslane/feedbackpilot/pkg/stages"
)

// SnapshotRestorer is the subset of *workspace.Workspace the Orchestrator
// uses directly (independent of the Modifier's own WorkspaceOps) to
// implement the retry back-edge's snapshot/restore discipline.
type SnapshotRestorer interface {
	Snapshot(name string) (string, error)
	Restore(id string) error
}

// TaskStore is the subset of *store.Store the Orchestrator needs. It
// does not create Feedback rows -- that is Ingress's job -- only
// updates the one it's given and owns Task creation end to end.
type TaskStore interface {
	UpdateFeedback(id string, mutate func(*models.Feedback)) error
	CreateTask(t *models.Task) error
	UpdateTask(id string, mutate func(*models.Task)) error
	AppendStage(taskID string, stage models.Stage) error
}

// StageObserver is the subset of *metrics.Metrics the Orchestrator
// reports stage outcomes to. Optional: a nil value (metrics disabled)
// skips every call site below.
type StageObserver interface {
	ObserveStage(stageName models.StageName, status models.StageStatus)
}

// Config bounds the pipeline's retry back-edge.
type Config struct {
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Deps wires the five stage services and the supporting subsystems an
// Orchestrator composes. Every field is a narrow interface or a
// concrete stage type, never a store/breaker/bus -- stages stay
// ignorant of those per pkg/stages' own doc comment.
type Deps struct {
	Store     TaskStore
	Snapshots SnapshotRestorer
	Clock     clock.Clock
	IDs       clock.IDSource
	Analyzer  stages.Service
	Planner   stages.Service
	Modifier  stages.Service
	Tester    stages.Service
	Publisher stages.Service
	Config    Config

	// Metrics reports stage outcomes (component C11). May be nil.
	Metrics StageObserver
}

// Orchestrator runs one pipeline per Execute call. A single instance is
// shared across all concurrently running tasks; per-task state lives in
// the cancellation registry only.
type Orchestrator struct {
	deps Deps
	cfg  Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:    deps,
		cfg:     deps.Config.withDefaults(),
		cancels: make(map[string]context.CancelFunc),
	}
}

// outcome is the Orchestrator's internal classification of how a run
// ended; finish() translates it into the Task/Feedback terminal state
// and the final bus event pair.
type outcome struct {
	kind      string // "completed" | "needs_human" | "error" | "cancelled"
	errorKind models.ErrorKind
	errorMsg  string
	summary   string
	pr        *models.PRRecord
}

const (
	outcomeCompleted  = "completed"
	outcomeNeedsHuman = "needs_human"
	outcomeError      = "error"
	outcomeCancelled  = "cancelled"
)

// Cancel cancels one in-flight task's context, if it is still running.
func (o *Orchestrator) Cancel(taskID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[taskID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// CancelAll cancels every in-flight task. Called on process shutdown.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cancel := range o.cancels {
		cancel()
	}
}

func (o *Orchestrator) register(taskID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[taskID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(taskID string) {
	o.mu.Lock()
	delete(o.cancels, taskID)
	o.mu.Unlock()
}

// Execute runs one task for feedback to completion, emitting events on
// bus throughout and closing bus when done. Intended to be launched in
// its own goroutine by Ingress; disconnecting subscribers does not
// affect this run (per spec.md §4.9, §5 "Cancellation").
func (o *Orchestrator) Execute(ctx context.Context, feedback *models.Feedback, bus *events.Bus) {
	defer bus.Close()

	taskID := o.deps.IDs.NewID()
	task := &models.Task{
		ID:         taskID,
		FeedbackID: feedback.ID,
		CreatedAt:  o.deps.Clock.Now(),
		Status:     models.TaskStatusRunning,
	}
	if err := o.deps.Store.CreateTask(task); err != nil {
		slog.Error("orchestrator: failed to create task", "feedback_id", feedback.ID, "error", err)
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	o.register(taskID, cancel)
	defer o.unregister(taskID)
	defer cancel()

	bus.Emit(events.KindConnected, map[string]string{"task_id": taskID})

	out := o.run(taskCtx, task, feedback, bus)
	o.finish(task, feedback, out)
	o.emitTerminal(bus, out)
}

func (o *Orchestrator) emitTerminal(bus *events.Bus, out outcome) {
	switch out.kind {
	case outcomeError, outcomeCancelled:
		bus.Emit(events.KindError, map[string]string{"kind": string(out.errorKind), "message": out.errorMsg})
	default:
		bus.Emit(events.KindComplete, map[string]any{"needs_human": out.kind == outcomeNeedsHuman, "summary": out.summary})
	}
	bus.Emit(events.KindDone, nil)
}

// finish applies the terminal Task/Feedback transition for out. Always
// runs, on every exit path, per spec.md §4.8's "On any exit path the
// Orchestrator writes the feedback's terminal status".
func (o *Orchestrator) finish(task *models.Task, feedback *models.Feedback, out outcome) {
	now := o.deps.Clock.Now()

	switch out.kind {
	case outcomeCompleted:
		_ = o.deps.Store.UpdateTask(task.ID, func(t *models.Task) {
			t.Status = models.TaskStatusCompleted
			t.CompletedAt = now
		})
		_ = o.deps.Store.UpdateFeedback(feedback.ID, func(f *models.Feedback) {
			f.Status = models.FeedbackStatusCompleted
			f.Result = &models.FeedbackResult{Summary: out.summary, PR: out.pr}
		})
	case outcomeNeedsHuman:
		_ = o.deps.Store.UpdateTask(task.ID, func(t *models.Task) {
			t.Status = models.TaskStatusCompleted
			t.CompletedAt = now
		})
		_ = o.deps.Store.UpdateFeedback(feedback.ID, func(f *models.Feedback) {
			f.Status = models.FeedbackStatusNeedsHuman
			f.Result = &models.FeedbackResult{NeedsHuman: true, Summary: out.summary}
		})
	case outcomeCancelled:
		_ = o.deps.Store.UpdateTask(task.ID, func(t *models.Task) {
			t.Status = models.TaskStatusAborted
			t.CompletedAt = now
			t.ErrorKind = out.errorKind
			t.ErrorMsg = out.errorMsg
		})
		_ = o.deps.Store.UpdateFeedback(feedback.ID, func(f *models.Feedback) {
			f.Status = models.FeedbackStatusFailed
			f.Result = &models.FeedbackResult{ErrorKind: out.errorKind, ErrorMsg: out.errorMsg}
		})
	default: // outcomeError
		feedbackStatus := models.FeedbackStatusFailed
		needsHuman := out.errorKind == models.ErrorKindQualityGateFailed || out.errorKind == models.ErrorKindTestEnvironmentMissing
		if needsHuman {
			feedbackStatus = models.FeedbackStatusNeedsHuman
		}
		_ = o.deps.Store.UpdateTask(task.ID, func(t *models.Task) {
			t.Status = models.TaskStatusFailed
			t.CompletedAt = now
			t.ErrorKind = out.errorKind
			t.ErrorMsg = out.errorMsg
		})
		_ = o.deps.Store.UpdateFeedback(feedback.ID, func(f *models.Feedback) {
			f.Status = feedbackStatus
			f.Result = &models.FeedbackResult{NeedsHuman: needsHuman, ErrorKind: out.errorKind, ErrorMsg: out.errorMsg}
		})
	}
}

// run drives the stage graph and returns the classified outcome. It
// never panics: every stage failure is converted to an outcome value.
func (o *Orchestrator) run(ctx context.Context, task *models.Task, feedback *models.Feedback, bus *events.Bus) outcome {
	if ctx.Err() != nil {
		return cancelledOutcome()
	}

	analysisResult, err := o.runStage(ctx, bus, task, o.deps.Analyzer, stages.Input{Task: task, Feedback: feedback})
	if err != nil {
		return errorOutcome(err)
	}
	analysis, _ := analysisResult.Data.(stages.AnalysisResult)
	bus.Emit(events.KindIntent, analysis)
	if !analysisResult.Success {
		return outcome{kind: outcomeNeedsHuman, summary: analysisResult.Reason}
	}

	var lastSnapshotID string
	var plan stages.PlanResult
	var modify stages.ModifyResult
	var test stages.TestResult

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return cancelledOutcome()
		}
		if attempt > o.cfg.MaxRetries {
			return outcome{kind: outcomeError, errorKind: models.ErrorKindQualityGateFailed, errorMsg: "quality gate failed after max retries"}
		}

		planResult, err := o.runStage(ctx, bus, task, o.deps.Planner, stages.Input{Task: task, Feedback: feedback, Analysis: &analysis})
		if err != nil {
			return errorOutcome(err)
		}
		plan, _ = planResult.Data.(stages.PlanResult)
		bus.Emit(events.KindSuggestion, plan)

		if attempt > 0 && lastSnapshotID != "" {
			if err := o.deps.Snapshots.Restore(lastSnapshotID); err != nil {
				return outcome{kind: outcomeError, errorKind: models.ErrorKindWorkspace, errorMsg: fmt.Sprintf("restore pre-modification snapshot: %v", err)}
			}
		}
		if id, err := o.deps.Snapshots.Snapshot(fmt.Sprintf("%s-attempt-%d", task.ID, attempt)); err != nil {
			slog.Warn("orchestrator: snapshot before modify failed, retry baseline unavailable", "task_id", task.ID, "error", err)
		} else {
			lastSnapshotID = id
		}

		modifyResult, err := o.runStage(ctx, bus, task, o.deps.Modifier, stages.Input{Task: task, Feedback: feedback, Analysis: &analysis, Plan: &plan})
		if err != nil {
			return errorOutcome(err)
		}
		modify, _ = modifyResult.Data.(stages.ModifyResult)
		bus.Emit(events.KindCodeChunk, modify)

		testResult, err := o.runStage(ctx, bus, task, o.deps.Tester, stages.Input{Task: task, Feedback: feedback, Analysis: &analysis, Plan: &plan, Modify: &modify})
		if err != nil {
			return errorOutcome(err)
		}
		test, _ = testResult.Data.(stages.TestResult)
		bus.Emit(events.KindTestResult, test)

		if testResult.Success {
			break
		}
		if !test.CanRetry {
			return outcome{kind: outcomeError, errorKind: models.ErrorKindQualityGateFailed, errorMsg: testResult.Reason}
		}
	}

	publishResult, err := o.runStage(ctx, bus, task, o.deps.Publisher, stages.Input{Task: task, Feedback: feedback, Analysis: &analysis, Plan: &plan, Modify: &modify, Test: &test})
	if err != nil {
		return errorOutcome(err)
	}
	publish, _ := publishResult.Data.(stages.PublishResult)

	_ = o.deps.Store.AppendStage(task.ID, models.Stage{
		Name:      models.StageCreatePR,
		Status:    models.StageStatusCompleted,
		StartedAt: o.deps.Clock.Now(),
		EndedAt:   o.deps.Clock.Now(),
		Data:      publish.PR,
	})
	bus.Emit(events.KindPR, publish)

	pr := &models.PRRecord{URL: publish.PR.URL, Number: publish.PR.Number, Branch: publish.PR.Branch, Title: publish.PR.Title, Body: publish.PR.Body}
	return outcome{kind: outcomeCompleted, summary: publish.Changelog, pr: pr}
}

// runStage invokes one stage service, emitting its start event and
// writing the resulting Stage row on every path (success, soft
// failure, and hard error alike).
func (o *Orchestrator) runStage(ctx context.Context, bus *events.Bus, task *models.Task, svc stages.Service, in stages.Input) (stages.Result, error) {
	name := svc.StageName()
	startedAt := o.deps.Clock.Now()
	bus.Emit(events.KindStage, map[string]string{"name": string(name), "status": "started"})

	result, err := svc.Run(ctx, in)

	stage := models.Stage{Name: name, StartedAt: startedAt, EndedAt: o.deps.Clock.Now()}
	switch {
	case err != nil:
		stage.Status = models.StageStatusFailed
		stage.Reason = err.Error()
	case !result.Success:
		stage.Status = models.StageStatusFailed
		stage.Data = result.Data
		stage.Reason = result.Reason
	default:
		stage.Status = models.StageStatusCompleted
		stage.Data = result.Data
	}
	if appendErr := o.deps.Store.AppendStage(task.ID, stage); appendErr != nil {
		slog.Warn("orchestrator: failed to append stage record", "task_id", task.ID, "stage", name, "error", appendErr)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveStage(name, stage.Status)
	}

	return result, err
}

func cancelledOutcome() outcome {
	return outcome{kind: outcomeCancelled, errorKind: models.ErrorKindCancelled, errorMsg: "task cancelled by shutdown"}
}

func errorOutcome(err error) outcome {
	var stageErr *models.StageError
	if errors.As(err, &stageErr) {
		return outcome{kind: outcomeError, errorKind: stageErr.Kind, errorMsg: stageErr.Error()}
	}
	return outcome{kind: outcomeError, errorKind: models.ErrorKindModelTransient, errorMsg: err.Error()}
}
