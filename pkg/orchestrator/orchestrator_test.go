package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslane/feedbackpilot/pkg/clock"
	"github.com/opslane/feedbackpilot/pkg/events"
	"github.com/opslane/feedbackpilot/pkg/models"
	"github.com/opslane/feedbackpilot/pkg/stages"
)

type fakeStore struct {
	mu        sync.Mutex
	feedbacks map[string]*models.Feedback
	tasks     map[string]*models.Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{feedbacks: make(map[string]*models.Feedback), tasks: make(map[string]*models.Task)}
}

func (s *fakeStore) seedFeedback(f *models.Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedbacks[f.ID] = f
}

func (s *fakeStore) UpdateFeedback(id string, mutate func(*models.Feedback)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feedbacks[id]
	if !ok {
		return models.ErrNotFound
	}
	mutate(f)
	return nil
}

func (s *fakeStore) CreateTask(t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *fakeStore) UpdateTask(id string, mutate func(*models.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return models.ErrNotFound
	}
	mutate(t)
	return nil
}

func (s *fakeStore) AppendStage(taskID string, stage models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return models.ErrNotFound
	}
	t.AppendStage(stage)
	return nil
}

func (s *fakeStore) feedback(id string) *models.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedbacks[id]
}

func (s *fakeStore) task(id string) *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

type fakeSnapshotter struct {
	mu          sync.Mutex
	snapshotted int
	restored    []string
}

func (f *fakeSnapshotter) Snapshot(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotted++
	return name, nil
}

func (f *fakeSnapshotter) Restore(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, id)
	return nil
}

type scriptedStage struct {
	name    models.StageName
	results []stages.Result // consumed in order across calls; last one repeats
	errs    []error
	calls   int
}

func (s *scriptedStage) StageName() models.StageName { return s.name }

func (s *scriptedStage) Run(ctx context.Context, in stages.Input) (stages.Result, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

func drain(t *testing.T, sub <-chan events.Event, n int) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case ev := <-sub:
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d/%d", i+1, n)
		}
	}
	return out
}

func kindsOf(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

func newHappyPathOrchestrator() (*Orchestrator, *fakeStore) {
	store := newFakeStore()
	o := New(Deps{
		Store:     store,
		Snapshots: &fakeSnapshotter{},
		Clock:     clock.NewFake(time.Now()),
		IDs:       clock.NewFakeIDs("task"),
		Analyzer: &scriptedStage{name: models.StageAnalyzeIntent, results: []stages.Result{
			{Success: true, Data: stages.AnalysisResult{Intent: stages.IntentAccuracy, Feasibility: stages.FeasibilityHigh, Summary: "fix translation"}},
		}},
		Planner: &scriptedStage{name: models.StageGenerateSolution, results: []stages.Result{
			{Success: true, Data: stages.PlanResult{File: "src/translator.js", Action: stages.PlanActionReplace, Description: "fix translation lookup"}},
		}},
		Modifier: &scriptedStage{name: models.StageApplyChanges, results: []stages.Result{
			{Success: true, Data: stages.ModifyResult{Branch: "feedback-abcd1234-1700000000000", File: "src/translator.js", CommitHash: "deadbeef", LinesAdded: 4}},
		}},
		Tester: &scriptedStage{name: models.StageRunTests, results: []stages.Result{
			{Success: true, Data: stages.TestResult{Passed: true}},
		}},
		Publisher: &scriptedStage{name: models.StageGenerateChangelog, results: []stages.Result{
			{Success: true, Data: stages.PublishResult{Changelog: "Fixed translation", PR: stages.PullRequest{URL: "https://github.com/acme/widgets/pull/1", Number: 1, Branch: "feedback-abcd1234-1700000000000"}}},
		}},
	})
	return o, store
}

func TestOrchestrator_HappyPath(t *testing.T) {
	o, store := newHappyPathOrchestrator()
	feedback := &models.Feedback{ID: "fb-1", Content: "translation is wrong"}
	store.seedFeedback(feedback)

	bus := events.NewBus("task-x")
	sub := bus.Subscribe()

	o.Execute(context.Background(), feedback, bus)

	evs := drain(t, sub, 9)
	assert.Equal(t, []events.Kind{
		events.KindConnected,
		events.KindStage,
		events.KindIntent,
		events.KindStage,
		events.KindSuggestion,
		events.KindStage,
		events.KindCodeChunk,
		events.KindStage,
		events.KindTestResult,
	}, kindsOf(evs))

	more := drain(t, sub, 4)
	assert.Equal(t, []events.Kind{events.KindStage, events.KindPR, events.KindComplete, events.KindDone}, kindsOf(more))

	got := store.feedback("fb-1")
	require.NotNil(t, got)
	assert.Equal(t, models.FeedbackStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	require.NotNil(t, got.Result.PR)
	assert.Equal(t, 1, got.Result.PR.Number)
}

func TestOrchestrator_LowFeasibilityNeedsHuman(t *testing.T) {
	store := newFakeStore()
	o := New(Deps{
		Store:     store,
		Snapshots: &fakeSnapshotter{},
		Clock:     clock.NewFake(time.Now()),
		IDs:       clock.NewFakeIDs("task"),
		Analyzer: &scriptedStage{name: models.StageAnalyzeIntent, results: []stages.Result{
			{Success: false, Data: stages.AnalysisResult{Feasibility: stages.FeasibilityLow}, Reason: "too vague"},
		}},
		Planner:   &scriptedStage{name: models.StageGenerateSolution},
		Modifier:  &scriptedStage{name: models.StageApplyChanges},
		Tester:    &scriptedStage{name: models.StageRunTests},
		Publisher: &scriptedStage{name: models.StageGenerateChangelog},
	})

	feedback := &models.Feedback{ID: "fb-2"}
	store.seedFeedback(feedback)

	bus := events.NewBus("task-y")
	sub := bus.Subscribe()
	o.Execute(context.Background(), feedback, bus)

	evs := drain(t, sub, 5)
	assert.Equal(t, []events.Kind{events.KindConnected, events.KindStage, events.KindIntent, events.KindComplete, events.KindDone}, kindsOf(evs))

	got := store.feedback("fb-2")
	assert.Equal(t, models.FeedbackStatusNeedsHuman, got.Status)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.NeedsHuman)
}

func TestOrchestrator_RetryThenExhaust(t *testing.T) {
	store := newFakeStore()
	snaps := &fakeSnapshotter{}

	planner := &scriptedStage{name: models.StageGenerateSolution, results: []stages.Result{
		{Success: true, Data: stages.PlanResult{File: "f.go", Description: "attempt 1"}},
		{Success: true, Data: stages.PlanResult{File: "f.go", Description: "attempt 2"}},
		{Success: true, Data: stages.PlanResult{File: "f.go", Description: "attempt 3"}},
		{Success: true, Data: stages.PlanResult{File: "f.go", Description: "attempt 4"}},
	}}
	tester := &scriptedStage{name: models.StageRunTests, results: []stages.Result{
		{Success: false, Data: stages.TestResult{Passed: false, CanRetry: true}},
		{Success: false, Data: stages.TestResult{Passed: false, CanRetry: true}},
		{Success: false, Data: stages.TestResult{Passed: false, CanRetry: true}},
		{Success: false, Data: stages.TestResult{Passed: false, CanRetry: false}, Reason: "quality gate did not pass"},
	}}

	o := New(Deps{
		Store:     store,
		Snapshots: snaps,
		Clock:     clock.NewFake(time.Now()),
		IDs:       clock.NewFakeIDs("task"),
		Analyzer: &scriptedStage{name: models.StageAnalyzeIntent, results: []stages.Result{
			{Success: true, Data: stages.AnalysisResult{Feasibility: stages.FeasibilityHigh}},
		}},
		Planner: planner,
		Modifier: &scriptedStage{name: models.StageApplyChanges, results: []stages.Result{
			{Success: true, Data: stages.ModifyResult{File: "f.go", CommitHash: "c1"}},
		}},
		Tester:    tester,
		Publisher: &scriptedStage{name: models.StageGenerateChangelog},
		Config:    Config{MaxRetries: 3},
	})

	feedback := &models.Feedback{ID: "fb-3"}
	store.seedFeedback(feedback)

	bus := events.NewBus("task-z")
	sub := bus.Subscribe()
	o.Execute(context.Background(), feedback, bus)

	// drain everything
	var last events.Event
	for {
		select {
		case ev := <-sub:
			last = ev
			if ev.Kind == events.KindDone {
				goto done
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for done event")
		}
	}
done:
	assert.Equal(t, events.KindDone, last.Kind)

	assert.Equal(t, 4, planner.calls)
	assert.Equal(t, 4, tester.calls)

	got := store.feedback("fb-3")
	assert.Equal(t, models.FeedbackStatusNeedsHuman, got.Status)
}

func TestOrchestrator_CancelledBeforeStart(t *testing.T) {
	o, store := newHappyPathOrchestrator()
	feedback := &models.Feedback{ID: "fb-4"}
	store.seedFeedback(feedback)

	bus := events.NewBus("task-c")
	sub := bus.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o.Execute(ctx, feedback, bus)

	evs := drain(t, sub, 3)
	assert.Equal(t, []events.Kind{events.KindConnected, events.KindError, events.KindDone}, kindsOf(evs))

	got := store.feedback("fb-4")
	assert.Equal(t, models.FeedbackStatusFailed, got.Status)
}
