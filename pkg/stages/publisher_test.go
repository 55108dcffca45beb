package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_Run_Success(t *testing.T) {
	p := NewPublisher(&fakeCaller{content: `{"changelog":"Fixed the German translation lookup."}`}, StageModelConfig{Model: "m1"}, "https://github.com/acme/widgets", func() int { return 42 })

	in := testInput()
	in.Plan = &PlanResult{File: "src/translator.js", Description: "fix translation"}
	in.Modify = &ModifyResult{Branch: "feedback-abcd1234-1700000000000", File: "src/translator.js", CommitHash: "deadbeef"}

	result, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, result.Success)

	pub, ok := result.Data.(PublishResult)
	require.True(t, ok)
	assert.Equal(t, "Fixed the German translation lookup.", pub.Changelog)
	assert.Equal(t, 42, pub.PR.Number)
	assert.Equal(t, "https://github.com/acme/widgets/pull/42", pub.PR.URL)
	assert.Equal(t, "feedback-abcd1234-1700000000000", pub.PR.Branch)
}

func TestPublisher_Run_RequiresPlanAndModify(t *testing.T) {
	p := NewPublisher(&fakeCaller{}, StageModelConfig{}, "https://github.com/acme/widgets", func() int { return 1 })

	_, err := p.Run(context.Background(), testInput())
	require.Error(t, err)
}
