// Package models defines the fixed-field records that flow through the
// pipeline: Feedback, Task, Stage, token-usage and breaker-event rows, and
// the error kinds stages and the orchestrator use to classify failures.
package models

import "time"

// MaxFeedbackContentLength is the hard cap applied to Feedback.Content.
// Content longer than this is truncated by Ingress before a Feedback is
// ever created.
const MaxFeedbackContentLength = 280

// FeedbackStatus is the lifecycle state of a Feedback record.
type FeedbackStatus string

// Feedback lifecycle states, in roughly the order a happy-path run visits
// them.
const (
	FeedbackStatusPending     FeedbackStatus = "pending"
	FeedbackStatusAnalyzing   FeedbackStatus = "analyzing"
	FeedbackStatusGenerating  FeedbackStatus = "generating"
	FeedbackStatusModifying   FeedbackStatus = "modifying"
	FeedbackStatusTesting     FeedbackStatus = "testing"
	FeedbackStatusPublishing  FeedbackStatus = "publishing"
	FeedbackStatusCompleted   FeedbackStatus = "completed"
	FeedbackStatusNeedsHuman  FeedbackStatus = "needs-human"
	FeedbackStatusFailed      FeedbackStatus = "failed"
)

// Feedback is the unit of user input the pipeline tries to turn into a
// code change. Created by Ingress, mutated only by the Orchestrator, and
// never deleted outright (the Store evicts the oldest once its retention
// cap is reached).
type Feedback struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Content   string         `json:"content"`
	Language  string         `json:"language"`
	CreatedAt time.Time      `json:"created_at"`
	Status    FeedbackStatus `json:"status"`

	// Result is set on any terminal transition. Nil while the feedback is
	// still in flight.
	Result *FeedbackResult `json:"result,omitempty"`
}

// FeedbackResult is the terminal outcome recorded on a Feedback.
type FeedbackResult struct {
	NeedsHuman bool       `json:"needs_human"`
	Summary    string     `json:"summary,omitempty"`
	PR         *PRRecord  `json:"pr,omitempty"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	ErrorMsg   string     `json:"error_message,omitempty"`
}

// Clone returns a deep-enough copy for handing to callers outside the
// Store's single-writer boundary.
func (f *Feedback) Clone() *Feedback {
	if f == nil {
		return nil
	}
	cp := *f
	if f.Result != nil {
		r := *f.Result
		cp.Result = &r
	}
	return &cp
}
