// Package stages implements the five stage services (component C8):
// Analyzer, Planner, Modifier, Tester, Publisher. Each has the same
// shape -- one resolved input in, at most one Model call plus at most
// one Workspace/TestHarness action, one structured Result out --
// grounded on pkg/agent/controller/single_call.go's "one config in, one
// LLM call, one result out" shape, generalized to five stage kinds and
// composed by table lookup in the Orchestrator (C9) instead of the
// teacher's per-strategy controller dispatch (spec.md §9's redesign:
// "prototype-based dispatch -> interface + variants").
//
// Services do not know about each other and touch neither the Store nor
// the bus: the Orchestrator writes the Stage row (start/end/status/data)
// and emits the matching stage event around each Service.Run call, so
// each concrete service only produces its own Data payload.
package stages

import (
	"context"

	"github.com/opslane/feedbackpilot/pkg/modelclient"
	"github.com/opslane/feedbackpilot/pkg/models"
)

// Caller is the subset of modelclient.Client each stage service needs;
// an interface so tests can inject a fake instead of a real
// breaker-gated HTTP client.
type Caller interface {
	Call(ctx context.Context, messages []modelclient.Message, opts modelclient.CallOpts) (modelclient.Result, error)
}

// StageModelConfig resolves which model and token budget a stage's
// calls use. One value per stage kind, set from process configuration.
type StageModelConfig struct {
	Model     string
	MaxTokens int
}

// Input is the resolved context one stage invocation runs against.
type Input struct {
	Task     *models.Task
	Feedback *models.Feedback

	// Plan is populated from the Planner's last result when invoking the
	// Modifier, and so on down the pipeline; stages that don't need a
	// prior stage's output leave the corresponding field nil.
	Analysis *AnalysisResult
	Plan     *PlanResult
	Modify   *ModifyResult
	Test     *TestResult
}

// Result is the outcome of one stage invocation.
type Result struct {
	Success bool
	Data    any
	Reason  string
}

// Service is the common shape every stage implements.
type Service interface {
	StageName() models.StageName
	Run(ctx context.Context, in Input) (Result, error)
}

// StageRecorder is implemented by the Store; every service writes one
// Stage row per invocation. The Orchestrator, not the service itself,
// performs this write (and the matching bus emit) around each
// Service.Run call, so services stay free of Store/Bus plumbing
// concerns per spec.md §4.7 ("services do not know about each other" --
// extended here to "don't know about the Store or Bus either").
type StageRecorder interface {
	AppendStage(taskID string, stage models.Stage) error
}
