package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslane/feedbackpilot/pkg/testharness"
)

type fakeHarness struct {
	report testharness.Report
	err    error
}

func (f *fakeHarness) Run(ctx context.Context, taskID, feedbackID, planDescription, model string) (testharness.Report, error) {
	return f.report, f.err
}

type fakeRetryLimiter struct {
	allow bool
}

func (f *fakeRetryLimiter) IncrementRetry(service, taskID string) bool {
	return f.allow
}

func testInputWithPlan() Input {
	in := testInput()
	in.Plan = &PlanResult{File: "f.go", Action: PlanActionReplace, CodeBlock: "x", Description: "fix thing"}
	return in
}

func TestTester_Run_AllPass(t *testing.T) {
	h := &fakeHarness{report: testharness.Report{Passed: true, TestsRun: 3, TestsPassed: 3}}
	tt := NewTester(h, &fakeRetryLimiter{}, "m1", "tester")

	result, err := tt.Run(context.Background(), testInputWithPlan())
	require.NoError(t, err)
	assert.True(t, result.Success)

	tr, ok := result.Data.(TestResult)
	require.True(t, ok)
	assert.True(t, tr.Passed)
}

func TestTester_Run_FailureAllowsRetry(t *testing.T) {
	h := &fakeHarness{report: testharness.Report{Passed: false, TestsRun: 3, TestsPassed: 1, TestsFailed: 2}}
	tt := NewTester(h, &fakeRetryLimiter{allow: true}, "m1", "tester")

	result, err := tt.Run(context.Background(), testInputWithPlan())
	require.NoError(t, err)
	assert.False(t, result.Success)

	tr, ok := result.Data.(TestResult)
	require.True(t, ok)
	assert.True(t, tr.CanRetry)
}

func TestTester_Run_FailureRetriesExhausted(t *testing.T) {
	h := &fakeHarness{report: testharness.Report{Passed: false, TestsRun: 3, TestsPassed: 0, TestsFailed: 3}}
	tt := NewTester(h, &fakeRetryLimiter{allow: false}, "m1", "tester")

	result, err := tt.Run(context.Background(), testInputWithPlan())
	require.NoError(t, err)
	assert.False(t, result.Success)

	tr, ok := result.Data.(TestResult)
	require.True(t, ok)
	assert.False(t, tr.CanRetry)
}

func TestTester_Run_RequiresPlan(t *testing.T) {
	tt := NewTester(&fakeHarness{}, &fakeRetryLimiter{}, "m1", "tester")

	_, err := tt.Run(context.Background(), testInput())
	require.Error(t, err)
}
