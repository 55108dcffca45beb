package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opslane/feedbackpilot/pkg/modelclient"
	"github.com/opslane/feedbackpilot/pkg/models"
)

// PullRequest is an opaque stand-in for a real Git-hosting PR record.
// Publisher.Run fabricates one locally rather than calling out to a
// hosting API -- the actual hosting call is an interface left for a
// later revision to implement against a real provider.
type PullRequest struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
	Branch string `json:"branch"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// PublishResult is the Publisher's output. It covers both the
// generate-changelog and create-pr stages in spec; the Orchestrator
// records both Stage rows from this single result.
type PublishResult struct {
	Changelog string      `json:"changelog"`
	PR        PullRequest `json:"pr"`
}

// PRNumberSource issues sequential PR numbers; swapped for a real
// hosting-API client in a later revision.
type PRNumberSource func() int

// Publisher synthesizes a changelog entry from the completed pipeline
// and fabricates a PR record pointing at the Modifier's branch.
type Publisher struct {
	model   Caller
	cfg     StageModelConfig
	prNum   PRNumberSource
	repoURL string
}

// NewPublisher builds a Publisher. repoURL is used to build the PR's
// URL; prNum issues the fabricated PR number.
func NewPublisher(model Caller, cfg StageModelConfig, repoURL string, prNum PRNumberSource) *Publisher {
	return &Publisher{model: model, cfg: cfg, repoURL: repoURL, prNum: prNum}
}

func (p *Publisher) StageName() models.StageName { return models.StageGenerateChangelog }

func (p *Publisher) Run(ctx context.Context, in Input) (Result, error) {
	if in.Plan == nil || in.Modify == nil {
		return Result{}, fmt.Errorf("stages: publisher requires a plan and modify result")
	}

	messages := []modelclient.Message{
		{Role: "system", Content: "You write a one-paragraph changelog entry for a code change. Respond as JSON: {changelog}."},
		{Role: "user", Content: fmt.Sprintf("File: %s\nDescription: %s\nCommit: %s", in.Modify.File, in.Plan.Description, in.Modify.CommitHash)},
	}

	resp, err := p.model.Call(ctx, messages, modelclient.CallOpts{
		Model:      p.cfg.Model,
		MaxTokens:  p.cfg.MaxTokens,
		TaskID:     in.Task.ID,
		FeedbackID: in.Feedback.ID,
		CallType:   models.CallTypeChangelog,
	})
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Changelog string `json:"changelog"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return Result{}, models.NewStageError(models.ErrorKindModelTransient, "could not parse changelog", err)
	}

	number := p.prNum()
	pr := PullRequest{
		URL:    fmt.Sprintf("%s/pull/%d", p.repoURL, number),
		Number: number,
		Branch: in.Modify.Branch,
		Title:  in.Plan.Description,
		Body:   parsed.Changelog,
	}

	return Result{Success: true, Data: PublishResult{Changelog: parsed.Changelog, PR: pr}}, nil
}
