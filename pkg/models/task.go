package models

import "time"

// TaskStatus is the terminal/non-terminal state of a Task.
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusAborted   TaskStatus = "aborted"
)

// StageName identifies one of the six canonical stages. Two of these
// (generate-changelog, create-pr) both belong to the Publisher service,
// which the spec treats as a single stage service producing one Stage
// record per sub-step so the timeline reads the same as the others.
type StageName string

const (
	StageAnalyzeIntent     StageName = "analyze-intent"
	StageGenerateSolution  StageName = "generate-solution"
	StageApplyChanges      StageName = "apply-changes"
	StageRunTests          StageName = "run-tests"
	StageGenerateChangelog StageName = "generate-changelog"
	StageCreatePR          StageName = "create-pr"
)

// StageStatus is the status of one Stage record. Transitions are
// monotonic: started -> {completed, failed, skipped}.
type StageStatus string

const (
	StageStatusStarted   StageStatus = "started"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// Stage is one step of a Task. Data carries whatever opaque blob that
// stage produced (analysis, plan, diff summary, test report, ...) as a
// concrete Go value rather than a free-form map, per the "dynamic config
// objects -> explicit records" design note.
type Stage struct {
	Name      StageName   `json:"name"`
	Status    StageStatus `json:"status"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Task is one run of the pipeline for one Feedback. A retry after a
// quality-gate failure creates a new Planner->...->Tester loop within the
// SAME task (back-edge), not a new task; a new Task is only created when
// Ingress launches a fresh pipeline run for a Feedback.
type Task struct {
	ID          string     `json:"id"`
	FeedbackID  string     `json:"feedback_id"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	Status      TaskStatus `json:"status"`
	Stages      []Stage    `json:"stages"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	ErrorMsg    string     `json:"error_message,omitempty"`
}

// Clone returns a deep copy safe to hand to a reader outside the Store's
// single-writer boundary.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Stages = append([]Stage(nil), t.Stages...)
	return &cp
}

// AppendStage appends a new stage record. Stages is append-only: callers
// never rewrite a prior entry, they append a new one (e.g. a retried
// Planner run appends a second generate-solution Stage).
func (t *Task) AppendStage(s Stage) {
	t.Stages = append(t.Stages, s)
}

// PlannerRunCount returns how many generate-solution stages this task has
// recorded so far, for checking the "Planner executions <= 1 +
// maxRetries" bound. The Orchestrator's retry loop enforces that bound
// with its own attempt counter, not through this method.
func (t *Task) PlannerRunCount() int {
	n := 0
	for _, s := range t.Stages {
		if s.Name == StageGenerateSolution {
			n++
		}
	}
	return n
}

// PRRecord is the opaque record of a proposed change published to an
// external hosting system. The spec treats PR creation as an interface;
// this revision's Publisher adapter is documented in DESIGN.md as a stub
// boundary, not a silently fabricated integration.
type PRRecord struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
	Branch string `json:"branch"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}
