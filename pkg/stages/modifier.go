package stages

import (
	"context"
	"fmt"
	"sync"

	"github.com/opslane/feedbackpilot/pkg/models"
	"github.com/opslane/feedbackpilot/pkg/workspace"
)

// ModifyResult is the Modifier's output.
type ModifyResult struct {
	Branch     string `json:"branch"`
	File       string `json:"file"`
	CommitHash string `json:"commit_hash"`
	LinesAdded int    `json:"lines_added"`
}

// WorkspaceOps is the subset of *workspace.Workspace the Modifier needs.
type WorkspaceOps interface {
	Ensure() error
	CheckoutNewBranch(name string) error
	WriteFile(path, content string, mode workspace.WriteMode) error
	Commit(message string) (string, error)
}

// NowMsSource returns the current time in epoch milliseconds, used for
// the branch-name timestamp suffix.
type NowMsSource func() int64

// Modifier applies the Planner's proposed change: Ensure ->
// CheckoutNewBranch -> WriteFile -> Commit. mu serializes whole Run
// calls, so two tasks' sequences never interleave on the shared tree.
type Modifier struct {
	ws    WorkspaceOps
	nowMs NowMsSource

	mu sync.Mutex
}

// NewModifier builds a Modifier.
func NewModifier(ws WorkspaceOps, nowMs NowMsSource) *Modifier {
	return &Modifier{ws: ws, nowMs: nowMs}
}

func (m *Modifier) StageName() models.StageName { return models.StageApplyChanges }

func (m *Modifier) Run(ctx context.Context, in Input) (Result, error) {
	if in.Plan == nil {
		return Result{}, fmt.Errorf("stages: modifier requires a plan result")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ws.Ensure(); err != nil {
		return Result{}, models.NewStageError(models.ErrorKindWorkspace, "ensure workspace", err)
	}

	branch := workspace.BranchName(in.Feedback.ID, m.nowMs())
	if err := m.ws.CheckoutNewBranch(branch); err != nil {
		return Result{}, models.NewStageError(models.ErrorKindWorkspace, "checkout branch", err)
	}

	mode := workspace.WriteReplace
	if in.Plan.Action == PlanActionInsert {
		mode = workspace.WriteInsert
	}
	if err := m.ws.WriteFile(in.Plan.File, in.Plan.CodeBlock, mode); err != nil {
		return Result{}, models.NewStageError(models.ErrorKindWorkspace, "write file", err)
	}

	hash, err := m.ws.Commit(fmt.Sprintf("feedbackpilot: %s", in.Plan.Description))
	if err != nil {
		return Result{}, models.NewStageError(models.ErrorKindWorkspace, "commit", err)
	}

	return Result{Success: true, Data: ModifyResult{
		Branch:     branch,
		File:       in.Plan.File,
		CommitHash: hash,
		LinesAdded: countLines(in.Plan.CodeBlock),
	}}, nil
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 1
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
