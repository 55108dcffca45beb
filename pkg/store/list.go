package store

import (
	"sort"
	"time"

	"github.com/opslane/feedbackpilot/pkg/models"
)

// Page bounds a list query. Limit <= 0 means "use a sane default" (50);
// Offset < 0 is treated as 0.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalized() (limit, offset int) {
	limit, offset = p.Limit, p.Offset
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// FeedbackFilter narrows ListFeedback.
type FeedbackFilter struct {
	Status   models.FeedbackStatus // empty = any
	Language string                // empty = any
	Page     Page
}

// ListFeedback returns the filtered page (newest first) and the total
// count of rows matching the filter (ignoring pagination).
func (s *Store) ListFeedback(f FeedbackFilter) ([]*models.Feedback, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Feedback
	for i := len(s.feedbackOrder) - 1; i >= 0; i-- {
		fb, ok := s.feedback[s.feedbackOrder[i]]
		if !ok {
			continue
		}
		if f.Status != "" && fb.Status != f.Status {
			continue
		}
		if f.Language != "" && fb.Language != f.Language {
			continue
		}
		matched = append(matched, fb.Clone())
	}

	total := len(matched)
	limit, offset := f.Page.normalized()
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	FeedbackID string
	Status     models.TaskStatus
	Page       Page
}

// ListTasks returns the filtered page (newest first) and total count.
func (s *Store) ListTasks(f TaskFilter) ([]*models.Task, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Task
	for i := len(s.taskOrder) - 1; i >= 0; i-- {
		t, ok := s.tasks[s.taskOrder[i]]
		if !ok {
			continue
		}
		if f.FeedbackID != "" && t.FeedbackID != f.FeedbackID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		matched = append(matched, t.Clone())
	}

	total := len(matched)
	limit, offset := f.Page.normalized()
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total
}

// TokenUsageFilter narrows ListTokenUsage.
type TokenUsageFilter struct {
	TaskID     string
	FeedbackID string
	Since      time.Time // zero = no lower bound
	Until      time.Time // zero = no upper bound
	Page       Page
}

// TokenUsageAggregates are computed on read over the filtered slice, per
// spec.md §4.2 ("Derived aggregates ... are computed on read").
type TokenUsageAggregates struct {
	TotalPromptTokens     int            `json:"total_prompt_tokens"`
	TotalCompletionTokens int            `json:"total_completion_tokens"`
	ByModel               map[string]int `json:"by_model"`
	ByCallType            map[string]int `json:"by_call_type"`
	SuccessCount          int            `json:"success_count"`
	FailureCount          int            `json:"failure_count"`
}

// ListTokenUsage returns the filtered, paginated rows (newest first), the
// total match count, and aggregates computed over every matching row
// (not just the current page).
func (s *Store) ListTokenUsage(f TokenUsageFilter) ([]models.TokenUsage, int, TokenUsageAggregates) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := TokenUsageAggregates{
		ByModel:    map[string]int{},
		ByCallType: map[string]int{},
	}

	var matched []models.TokenUsage
	for i := len(s.tokenUsage) - 1; i >= 0; i-- {
		u := s.tokenUsage[i]
		if f.TaskID != "" && u.TaskID != f.TaskID {
			continue
		}
		if f.FeedbackID != "" && u.FeedbackID != f.FeedbackID {
			continue
		}
		if !f.Since.IsZero() && u.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && u.Timestamp.After(f.Until) {
			continue
		}
		matched = append(matched, u)

		agg.TotalPromptTokens += u.PromptTokens
		agg.TotalCompletionTokens += u.CompletionTokens
		agg.ByModel[u.Model] += u.TotalTokens()
		agg.ByCallType[string(u.CallType)] += u.TotalTokens()
		if u.Success {
			agg.SuccessCount++
		} else {
			agg.FailureCount++
		}
	}

	total := len(matched)
	limit, offset := f.Page.normalized()
	if offset >= total {
		return nil, total, agg
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, agg
}

// BreakerEventFilter narrows ListBreakerEvents.
type BreakerEventFilter struct {
	Service        string
	UnresolvedOnly bool
	Page           Page
}

// ListBreakerEvents returns the filtered page (newest first) and total
// count.
func (s *Store) ListBreakerEvents(f BreakerEventFilter) ([]models.BreakerEvent, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.BreakerEvent
	for i := len(s.breakerEvents) - 1; i >= 0; i-- {
		e := s.breakerEvents[i]
		if f.Service != "" && e.Service != f.Service {
			continue
		}
		if f.UnresolvedOnly && e.Resolved {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	limit, offset := f.Page.normalized()
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total
}

// sortTimeDesc sorts ts newest first. No code in the module, tests
// included, calls it.
func sortTimeDesc(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].After(ts[j]) })
}
