// Grounded on pkg/api/handler_alert.go's submitAlertHandler request flow
// (bind -> validate -> size-check -> transform -> call service -> map
// errors -> respond); the streaming variant pumps Ingress's event
// channel as SSE frames instead of gin's JSON renderer, and the
// non-streaming variant drains the same channel internally so both
// handlers share one Ingress.Submit call path.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opslane/feedbackpilot/pkg/events"
	"github.com/opslane/feedbackpilot/pkg/models"
	"github.com/opslane/feedbackpilot/pkg/store"
)

// processHandler implements POST /agent/process: submits the feedback,
// blocks until the pipeline reaches its terminal state, and returns one
// JSON response carrying whatever analysis/plan data the run produced
// plus the current breaker snapshot.
func (s *Server) processHandler(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.ErrValidation)
		return
	}

	// The pipeline must outlive this request: WithoutCancel keeps a client
	// disconnect from cancelling it. Process shutdown still reaches it
	// through the Orchestrator's CancelAll.
	sub, err := s.ingress.Submit(context.WithoutCancel(c.Request.Context()), req.Content, req.UserID, req.Language)
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Close()

	var analysis, plan json.RawMessage
	status := string(models.FeedbackStatusCompleted)

	// Bus.Close only closes the internal done signal, not sub.Stream
	// itself (see pkg/events), so this loop must break explicitly on the
	// terminal event rather than rely on channel closure.
	for ev := range sub.Stream {
		switch ev.Kind {
		case events.KindIntent:
			analysis = ev.Data
		case events.KindSuggestion:
			plan = ev.Data
		case events.KindComplete:
			var payload struct {
				NeedsHuman bool `json:"needs_human"`
			}
			_ = json.Unmarshal(ev.Data, &payload)
			if payload.NeedsHuman {
				status = string(models.FeedbackStatusNeedsHuman)
			}
		case events.KindError:
			status = string(models.FeedbackStatusFailed)
		}
		if ev.Kind == events.KindDone {
			break
		}
	}

	services, usage := s.breaker.Status()
	resp := ProcessResponse{
		FeedbackID:      sub.FeedbackID,
		Status:          status,
		BreakerSnapshot: BreakerSnapshot{Services: services, Usage: usage},
	}
	if len(analysis) > 0 {
		resp.Analysis = json.RawMessage(analysis)
	}
	if len(plan) > 0 {
		resp.Plan = json.RawMessage(plan)
	}
	c.JSON(http.StatusOK, resp)
}

// processStreamHandler implements POST /agent/process/stream: submits
// the feedback and relays every bus event as an SSE frame, terminating
// with "done" after "complete" or "error" per spec.md §4.1's invariants.
func (s *Server) processStreamHandler(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.ErrValidation)
		return
	}

	sub, err := s.ingress.Submit(context.WithoutCancel(c.Request.Context()), req.Content, req.UserID, req.Language)
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			// Per spec.md §4.9: disconnection does not cancel the
			// pipeline. Just stop relaying frames to this response.
			return false
		case ev, ok := <-sub.Stream:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), json.RawMessage(ev.Data))
			return ev.Kind != events.KindDone
		}
	})
}

// taskLogsHandler implements GET /agent/task-logs.
func (s *Server) taskLogsHandler(c *gin.Context) {
	filter := store.TaskFilter{
		FeedbackID: c.Query("feedbackId"),
		Status:     models.TaskStatus(c.Query("status")),
		Page:       pageFromQuery(c),
	}
	if taskID := c.Query("taskId"); taskID != "" {
		// Task lookup by id filters the requested page of ListTasks by id
		// (the Store has no separate GetTask path exposed here): a task
		// outside that page is not returned, and Total stays the count of
		// tasks matching the feedbackId/status filters.
		tasks, total := s.store.ListTasks(filter)
		filtered := make([]*models.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.ID == taskID {
				filtered = append(filtered, t)
			}
		}
		c.JSON(http.StatusOK, ListResponse{List: filtered, Total: total})
		return
	}

	tasks, total := s.store.ListTasks(filter)
	c.JSON(http.StatusOK, ListResponse{List: tasks, Total: total})
}

func pageFromQuery(c *gin.Context) store.Page {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return store.Page{Limit: limit, Offset: offset}
}
