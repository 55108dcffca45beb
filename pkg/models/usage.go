package models

import "time"

// CallType tags the purpose of a model call, used both for breaker
// admission and for the tokens-by-call-type aggregate.
type CallType string

const (
	CallTypeAnalyze       CallType = "analyze"
	CallTypePlan          CallType = "plan"
	CallTypeTestSynthesis CallType = "test-synthesis"
	CallTypeTestScore     CallType = "test-score"
	CallTypeChangelog     CallType = "changelog"
)

// TokenUsage is one external-model call record, success or failure.
// Append-only.
type TokenUsage struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	FeedbackID      string    `json:"feedback_id"`
	Model           string    `json:"model"`
	PromptTokens    int       `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	CallType        CallType  `json:"call_type"`
	Timestamp       time.Time `json:"timestamp"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
}

// TotalTokens is prompt + completion tokens for this call.
func (u TokenUsage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// BreakerEventType enumerates the admission decisions worth recording
// (every outcome other than a plain "allowed").
type BreakerEventType string

const (
	BreakerEventCircuitOpen      BreakerEventType = "circuit-open"
	BreakerEventDailyLimit       BreakerEventType = "daily-limit"
	BreakerEventTaskLimit        BreakerEventType = "task-limit"
	BreakerEventConcurrencyLimit BreakerEventType = "concurrency-limit"
	BreakerEventMaxRetries       BreakerEventType = "max-retries"
)

// UsageSnapshot is the observed-usage snapshot attached to a BreakerEvent.
type UsageSnapshot struct {
	DailyTokensUsed   int `json:"daily_tokens_used"`
	ConcurrentTasks   int `json:"concurrent_tasks"`
	TaskTokensUsed    int `json:"task_tokens_used,omitempty"`
	RetryCount        int `json:"retry_count,omitempty"`
}

// BreakerEvent is one admission decision other than "allowed". Append-only
// except for the Resolved/ResolutionNote fields, which an operator may set
// later (e.g. via a diagnostic endpoint) to annotate how the event was
// handled.
type BreakerEvent struct {
	ID             string           `json:"id"`
	Timestamp      time.Time        `json:"timestamp"`
	Service        string           `json:"service"`
	Action         string           `json:"action"`
	EventType      BreakerEventType `json:"event_type"`
	Observed       UsageSnapshot    `json:"observed"`
	TaskID         string           `json:"task_id,omitempty"`
	Resolved       bool             `json:"resolved"`
	ResolutionNote string           `json:"resolution_note,omitempty"`
}
