package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslane/feedbackpilot/pkg/models"
)

func TestPlanner_Run_Success(t *testing.T) {
	p := NewPlanner(&fakeCaller{content: `{"file":"src/translator.js","action":"replace","code_block":"x()","description":"fix translation lookup"}`}, StageModelConfig{Model: "m1"})

	in := testInput()
	in.Analysis = &AnalysisResult{Intent: IntentAccuracy, Feasibility: FeasibilityHigh, Summary: "fix translation"}

	result, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, result.Success)

	plan, ok := result.Data.(PlanResult)
	require.True(t, ok)
	assert.Equal(t, "src/translator.js", plan.File)
	assert.Equal(t, PlanActionReplace, plan.Action)
}

func TestPlanner_Run_RequiresAnalysis(t *testing.T) {
	p := NewPlanner(&fakeCaller{}, StageModelConfig{})

	_, err := p.Run(context.Background(), testInput())
	require.Error(t, err)
}

func TestPlanner_Run_UnparsableResponse(t *testing.T) {
	p := NewPlanner(&fakeCaller{content: "nope"}, StageModelConfig{})

	in := testInput()
	in.Analysis = &AnalysisResult{Intent: IntentAccuracy, Feasibility: FeasibilityHigh}

	_, err := p.Run(context.Background(), in)
	require.Error(t, err)

	var stageErr *models.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.ErrorKindModelTransient, stageErr.Kind)
}
