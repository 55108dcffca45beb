package testharness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslane/feedbackpilot/pkg/modelclient"
)

type fakeModel struct {
	content string
	err     error
}

func (f fakeModel) Call(ctx context.Context, messages []modelclient.Message, opts modelclient.CallOpts) (modelclient.Result, error) {
	if f.err != nil {
		return modelclient.Result{}, f.err
	}
	return modelclient.Result{Content: f.content}, nil
}

type fakeRunner struct {
	statuses map[string]CaseStatus // name -> status; default passed
}

func (f fakeRunner) Run(ctx context.Context, browserPath string, c Case) CaseResult {
	status, ok := f.statuses[c.Name]
	if !ok {
		status = CaseStatusPassed
	}
	result := CaseResult{Name: c.Name, Status: status}
	if status == CaseStatusFailed {
		result.Error = "assertion failed"
	}
	return result
}

func casesJSON(t *testing.T, cases []Case) string {
	t.Helper()
	raw, err := json.Marshal(cases)
	require.NoError(t, err)
	return string(raw)
}

func TestHarness_Run_AllPass(t *testing.T) {
	cases := []Case{{Name: "case-1"}, {Name: "case-2"}, {Name: "case-3"}}
	model := fakeModel{content: casesJSON(t, cases)}
	h := New(model, BrowserLocator{ChromePath: "/bin/sh"}, GateConfig{MinCases: 3}, fakeRunner{})

	report, err := h.Run(context.Background(), "task-1", "fb-1", "add a button", "test-model")
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, 3, report.TestsRun)
	assert.Equal(t, 3, report.TestsPassed)
}

func TestHarness_Run_BelowMinCasesFails(t *testing.T) {
	cases := []Case{{Name: "case-1"}}
	model := fakeModel{content: casesJSON(t, cases)}
	h := New(model, BrowserLocator{ChromePath: "/bin/sh"}, GateConfig{MinCases: 3}, fakeRunner{})

	report, err := h.Run(context.Background(), "task-1", "fb-1", "add a button", "test-model")
	require.NoError(t, err)
	assert.False(t, report.Passed)
}

func TestHarness_Run_PartialFailureFailsGate(t *testing.T) {
	cases := []Case{{Name: "case-1"}, {Name: "case-2"}, {Name: "case-3"}}
	model := fakeModel{content: casesJSON(t, cases)}
	runner := fakeRunner{statuses: map[string]CaseStatus{"case-2": CaseStatusFailed}}
	h := New(model, BrowserLocator{ChromePath: "/bin/sh"}, GateConfig{MinCases: 3}, runner)

	report, err := h.Run(context.Background(), "task-1", "fb-1", "add a button", "test-model")
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, 2, report.TestsPassed)
	assert.Equal(t, 1, report.TestsFailed)
}

func TestHarness_Run_MissingBrowserDegradesGracefully(t *testing.T) {
	model := fakeModel{content: "[]"}
	h := New(model, BrowserLocator{ChromePath: "/nonexistent/path/to/chrome", ConventionalPaths: []string{"/nonexistent/other"}}, GateConfig{}, fakeRunner{})

	report, err := h.Run(context.Background(), "task-1", "fb-1", "add a button", "test-model")
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.True(t, report.EnvironmentMissing)
	assert.NotEmpty(t, report.Reason)
}

func TestBrowserLocator_PrefersChromePath(t *testing.T) {
	loc := BrowserLocator{ChromePath: "/bin/sh"}
	assert.Equal(t, "/bin/sh", loc.Locate())
}
