package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opslane/feedbackpilot/pkg/modelclient"
	"github.com/opslane/feedbackpilot/pkg/models"
)

// PlanAction is the kind of file mutation the Planner proposes.
type PlanAction string

const (
	PlanActionReplace PlanAction = "replace"
	PlanActionInsert  PlanAction = "insert"
	PlanActionDelete  PlanAction = "delete"
)

// PlanResult is the Planner's output: a single proposed file change.
type PlanResult struct {
	File        string     `json:"file"`
	Action      PlanAction `json:"action"`
	CodeBlock   string     `json:"code_block"`
	Description string     `json:"description"`
}

// Planner produces a concrete proposed change from the Analyzer's
// output. Re-run by the Orchestrator's retry back-edge on a
// quality-gate failure, with the same Input.Analysis; Input carries no
// attempt number, so the prompt is the same on every attempt.
type Planner struct {
	model Caller
	cfg   StageModelConfig
}

// NewPlanner builds a Planner.
func NewPlanner(model Caller, cfg StageModelConfig) *Planner {
	return &Planner{model: model, cfg: cfg}
}

func (p *Planner) StageName() models.StageName { return models.StageGenerateSolution }

func (p *Planner) Run(ctx context.Context, in Input) (Result, error) {
	if in.Analysis == nil {
		return Result{}, fmt.Errorf("stages: planner requires an analysis result")
	}

	messages := []modelclient.Message{
		{Role: "system", Content: "You propose one concrete source file change to address analyzed user feedback. Respond as JSON: {file, action, code_block, description}."},
		{Role: "user", Content: fmt.Sprintf("Feedback: %s\nIntent: %s\nSummary: %s", in.Feedback.Content, in.Analysis.Intent, in.Analysis.Summary)},
	}

	resp, err := p.model.Call(ctx, messages, modelclient.CallOpts{
		Model:      p.cfg.Model,
		MaxTokens:  p.cfg.MaxTokens,
		TaskID:     in.Task.ID,
		FeedbackID: in.Feedback.ID,
		CallType:   models.CallTypePlan,
	})
	if err != nil {
		return Result{}, err
	}

	var plan PlanResult
	if err := json.Unmarshal([]byte(resp.Content), &plan); err != nil {
		return Result{}, models.NewStageError(models.ErrorKindModelTransient, "could not parse plan", err)
	}

	return Result{Success: true, Data: plan}, nil
}
