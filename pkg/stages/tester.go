package stages

import (
	"context"

	"github.com/opslane/feedbackpilot/pkg/models"
	"github.com/opslane/feedbackpilot/pkg/testharness"
)

// TestResult is the Tester's output.
type TestResult struct {
	Passed   bool               `json:"passed"`
	CanRetry bool               `json:"can_retry"`
	Report   testharness.Report `json:"report"`
}

// Harness is the subset of *testharness.Harness the Tester needs.
type Harness interface {
	Run(ctx context.Context, taskID, feedbackID, planDescription, model string) (testharness.Report, error)
}

// RetryLimiter is the subset of *breaker.Breaker the Tester needs to
// enforce the bounded retry back-edge.
type RetryLimiter interface {
	IncrementRetry(service, taskID string) bool
}

// Tester runs the synthesized test suite against the Modifier's change
// and evaluates the quality gate. A failing gate is not itself a
// terminal error: Run reports Success=false with CanRetry set so the
// Orchestrator can loop back to the Planner, bounded by the breaker's
// max-retries counter.
type Tester struct {
	harness Harness
	retry   RetryLimiter
	model   string
	service string
}

// NewTester builds a Tester. service names the breaker category used
// for retry accounting (conventionally "tester").
func NewTester(harness Harness, retry RetryLimiter, model, service string) *Tester {
	return &Tester{harness: harness, retry: retry, model: model, service: service}
}

func (t *Tester) StageName() models.StageName { return models.StageRunTests }

func (t *Tester) Run(ctx context.Context, in Input) (Result, error) {
	if in.Plan == nil {
		return Result{}, models.NewStageError(models.ErrorKindQualityGateFailed, "tester requires a plan result", nil)
	}

	report, err := t.harness.Run(ctx, in.Task.ID, in.Feedback.ID, in.Plan.Description, t.model)
	if err != nil {
		return Result{}, models.NewStageError(models.ErrorKindQualityGateFailed, "test synthesis failed", err)
	}

	if report.Passed {
		return Result{Success: true, Data: TestResult{Passed: true, Report: report}}, nil
	}

	canRetry := t.retry.IncrementRetry(t.service, in.Task.ID)
	reason := report.Reason
	if reason == "" && report.EnvironmentMissing {
		reason = "no headless browser binary available"
	} else if reason == "" {
		reason = "quality gate did not pass"
	}

	return Result{
		Success: false,
		Data:    TestResult{Passed: false, CanRetry: canRetry, Report: report},
		Reason:  reason,
	}, nil
}
