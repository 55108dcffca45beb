// Grounded on pkg/api/handler_session.go's list-with-filter-and-pagination
// handlers, applied here to the breaker's own observability surface
// (status, token usage, events) plus a diagnostic admission check.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opslane/feedbackpilot/pkg/breaker"
	"github.com/opslane/feedbackpilot/pkg/models"
	"github.com/opslane/feedbackpilot/pkg/store"
)

// listFeedbackHandler implements GET /feedback.
func (s *Server) listFeedbackHandler(c *gin.Context) {
	filter := store.FeedbackFilter{
		Status:   models.FeedbackStatus(c.Query("status")),
		Language: c.Query("language"),
		Page:     pageFromQuery(c),
	}
	list, total := s.store.ListFeedback(filter)
	c.JSON(http.StatusOK, ListResponse{List: list, Total: total})
}

// circuitStatusHandler implements GET /circuit/status.
func (s *Server) circuitStatusHandler(c *gin.Context) {
	services, usage := s.breaker.Status()
	c.JSON(http.StatusOK, BreakerSnapshot{Services: services, Usage: usage})
}

// circuitCheckHandler implements the diagnostic POST /circuit/check: runs
// the breaker's admission decision for a hypothetical call, per spec.md
// §6. It calls Peek rather than Check, so a probe never reserves tokens
// or registers a concurrency slot -- important because a caller can pass
// a live task's real taskId, and mutating that task's reservation here
// would corrupt its in-flight pipeline run.
func (s *Server) circuitCheckHandler(c *gin.Context) {
	var req CircuitCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.ErrValidation)
		return
	}

	result := s.breaker.Peek(req.Service, req.Action, req.EstimatedTokens, req.TaskID)
	if result.Decision != breaker.Allowed {
		c.JSON(http.StatusServiceUnavailable, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// tokenUsageHandler implements GET /circuit/token-usage.
func (s *Server) tokenUsageHandler(c *gin.Context) {
	filter := store.TokenUsageFilter{
		TaskID:     c.Query("taskId"),
		FeedbackID: c.Query("feedbackId"),
		Page:       pageFromQuery(c),
	}
	list, total, agg := s.store.ListTokenUsage(filter)
	c.JSON(http.StatusOK, gin.H{
		"list":       list,
		"total":      total,
		"aggregates": agg,
	})
}

// breakerEventsHandler implements GET /circuit/events.
func (s *Server) breakerEventsHandler(c *gin.Context) {
	filter := store.BreakerEventFilter{
		Service:        c.Query("service"),
		UnresolvedOnly: c.Query("unresolvedOnly") == "true",
		Page:           pageFromQuery(c),
	}
	list, total := s.store.ListBreakerEvents(filter)
	c.JSON(http.StatusOK, ListResponse{List: list, Total: total})
}
