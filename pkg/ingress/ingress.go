// Package ingress implements component C10: the single entry point that
// turns a raw feedback submission into a running pipeline. It validates
// the input, creates the Feedback record, opens a per-task event bus,
// and launches the Orchestrator asynchronously -- mirroring
// pkg/api/handler_alert.go's submitAlertHandler request flow (bind ->
// validate -> size-check -> transform -> call service -> map errors ->
// respond), generalized from one HTTP handler body into a package both
// the non-streaming and streaming endpoints call into, so they share one
// validation/launch path instead of duplicating it.
package ingress

import (
	"context"
	"strings"

	"github.com/opslane/feedbackpilot/pkg/clock"
	"github.com/opslane/feedbackpilot/pkg/events"
	"github.com/opslane/feedbackpilot/pkg/models"
)

// FeedbackStore is the subset of *store.Store Ingress needs to create a
// Feedback row. It never creates Tasks -- that is the Orchestrator's job.
type FeedbackStore interface {
	CreateFeedback(f *models.Feedback) error
}

// Pipeline is the subset of *orchestrator.Orchestrator Ingress launches.
type Pipeline interface {
	Execute(ctx context.Context, feedback *models.Feedback, bus *events.Bus)
}

// Ingress wires validation, Feedback creation, bus creation, and
// asynchronous pipeline launch behind one Submit call.
type Ingress struct {
	store    FeedbackStore
	pipeline Pipeline
	clock    clock.Clock
	ids      clock.IDSource
}

// New builds an Ingress.
func New(store FeedbackStore, pipeline Pipeline, c clock.Clock, ids clock.IDSource) *Ingress {
	return &Ingress{store: store, pipeline: pipeline, clock: c, ids: ids}
}

// Submission is what Submit returns: the created Feedback's id and the
// subscriber's receive-only event channel. The caller (an HTTP handler)
// consumes the stream to completion; disconnecting does not cancel the
// pipeline, per spec.md §4.9.
type Submission struct {
	FeedbackID string
	Stream     <-chan events.Event
	bus        *events.Bus
}

// Close releases the subscription. Safe to call after the stream has
// been fully drained, or early on a caller-side disconnect -- either way
// the pipeline keeps running to its own terminal state (spec.md §5
// "Cancellation": subscriber disconnect does not cancel the task).
func (s Submission) Close() {
	if s.bus != nil {
		s.bus.Close()
	}
}

// Submit validates content, creates a Feedback record, and launches the
// pipeline in its own goroutine against ctx. Callers pass a context that
// a subscriber disconnect does not cancel; a process shutdown cancels the
// run through the Orchestrator's CancelAll (see pkg/shutdown). Returns models.ErrValidation if content is
// empty or whitespace-only after trimming, per spec.md §8 property 8 and
// S8 ("Ingress validation").
func (in *Ingress) Submit(ctx context.Context, content, userID, language string) (Submission, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Submission{}, models.ErrValidation
	}
	if len(content) > models.MaxFeedbackContentLength {
		// Slicing by byte offset can split a multi-byte rune mid-sequence
		// (feedback content is explicitly multilingual, e.g. Chinese), so
		// truncate by rune count instead.
		runes := []rune(content)
		if len(runes) > models.MaxFeedbackContentLength {
			runes = runes[:models.MaxFeedbackContentLength]
		}
		content = string(runes)
	}

	feedback := &models.Feedback{
		ID:        in.ids.NewID(),
		UserID:    userID,
		Content:   content,
		Language:  language,
		CreatedAt: in.clock.Now(),
		Status:    models.FeedbackStatusPending,
	}
	if err := in.store.CreateFeedback(feedback); err != nil {
		return Submission{}, err
	}

	bus := events.NewBus(feedback.ID)
	go in.pipeline.Execute(ctx, feedback, bus)

	return Submission{FeedbackID: feedback.ID, Stream: bus.Subscribe(), bus: bus}, nil
}
