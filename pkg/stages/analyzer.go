package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opslane/feedbackpilot/pkg/modelclient"
	"github.com/opslane/feedbackpilot/pkg/models"
)

// Intent classifies the kind of change a feedback is asking for.
type Intent string

const (
	IntentAccuracy Intent = "accuracy"
	IntentSpeed    Intent = "speed"
	IntentUI       Intent = "ui"
	IntentFunction Intent = "function"
	IntentLanguage Intent = "language"
	IntentOther    Intent = "other"
)

// Feasibility is the Analyzer's assessment of whether the feedback can
// be actioned automatically.
type Feasibility string

const (
	FeasibilityHigh   Feasibility = "high"
	FeasibilityMedium Feasibility = "medium"
	FeasibilityLow    Feasibility = "low"
)

// AnalysisResult is the Analyzer's output. Feasibility == low signals
// needs-human at the Orchestrator.
type AnalysisResult struct {
	Intent      Intent      `json:"intent"`
	Feasibility Feasibility `json:"feasibility"`
	Priority    string      `json:"priority"`
	Impact      string      `json:"impact"`
	Summary     string      `json:"summary"`
}

// Analyzer derives intent/feasibility/priority/impact from raw feedback
// content.
type Analyzer struct {
	model Caller
	cfg   StageModelConfig
}

// NewAnalyzer builds an Analyzer.
func NewAnalyzer(model Caller, cfg StageModelConfig) *Analyzer {
	return &Analyzer{model: model, cfg: cfg}
}

func (a *Analyzer) StageName() models.StageName { return models.StageAnalyzeIntent }

func (a *Analyzer) Run(ctx context.Context, in Input) (Result, error) {
	messages := []modelclient.Message{
		{Role: "system", Content: "You analyze user feedback about a software product. Respond as JSON: {intent, feasibility, priority, impact, summary}."},
		{Role: "user", Content: in.Feedback.Content},
	}

	resp, err := a.model.Call(ctx, messages, modelclient.CallOpts{
		Model:      a.cfg.Model,
		MaxTokens:  a.cfg.MaxTokens,
		TaskID:     in.Task.ID,
		FeedbackID: in.Feedback.ID,
		CallType:   models.CallTypeAnalyze,
	})
	if err != nil {
		return Result{}, err
	}

	var analysis AnalysisResult
	if err := json.Unmarshal([]byte(resp.Content), &analysis); err != nil {
		return Result{}, models.NewStageError(models.ErrorKindModelTransient, "could not parse analysis", err)
	}

	if analysis.Feasibility == FeasibilityLow {
		return Result{Success: false, Data: analysis, Reason: fmt.Sprintf("feasibility is low: %s", analysis.Summary)}, nil
	}
	return Result{Success: true, Data: analysis}, nil
}
