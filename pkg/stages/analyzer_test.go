package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslane/feedbackpilot/pkg/modelclient"
	"github.com/opslane/feedbackpilot/pkg/models"
)

type fakeCaller struct {
	content string
	err     error
}

func (f *fakeCaller) Call(ctx context.Context, messages []modelclient.Message, opts modelclient.CallOpts) (modelclient.Result, error) {
	if f.err != nil {
		return modelclient.Result{}, f.err
	}
	return modelclient.Result{Content: f.content}, nil
}

func testInput() Input {
	return Input{
		Task:     &models.Task{ID: "task-1", FeedbackID: "fb-1"},
		Feedback: &models.Feedback{ID: "fb-1", Content: "translation is wrong"},
	}
}

func TestAnalyzer_Run_HighFeasibility(t *testing.T) {
	a := NewAnalyzer(&fakeCaller{content: `{"intent":"accuracy","feasibility":"high","priority":"p1","impact":"medium","summary":"fix translation"}`}, StageModelConfig{Model: "m1", MaxTokens: 100})

	result, err := a.Run(context.Background(), testInput())
	require.NoError(t, err)
	assert.True(t, result.Success)

	analysis, ok := result.Data.(AnalysisResult)
	require.True(t, ok)
	assert.Equal(t, IntentAccuracy, analysis.Intent)
	assert.Equal(t, FeasibilityHigh, analysis.Feasibility)
}

func TestAnalyzer_Run_LowFeasibilityFails(t *testing.T) {
	a := NewAnalyzer(&fakeCaller{content: `{"intent":"other","feasibility":"low","summary":"too vague"}`}, StageModelConfig{Model: "m1"})

	result, err := a.Run(context.Background(), testInput())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "too vague")
}

func TestAnalyzer_Run_UnparsableResponse(t *testing.T) {
	a := NewAnalyzer(&fakeCaller{content: "not json"}, StageModelConfig{Model: "m1"})

	_, err := a.Run(context.Background(), testInput())
	require.Error(t, err)

	var stageErr *models.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.ErrorKindModelTransient, stageErr.Kind)
}

func TestAnalyzer_StageName(t *testing.T) {
	a := NewAnalyzer(&fakeCaller{}, StageModelConfig{})
	assert.Equal(t, models.StageAnalyzeIntent, a.StageName())
}
