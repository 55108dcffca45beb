// Package api implements the HTTP transport (spec.md §6): gin.HandlerFunc
// methods on a Server, grounded on pkg/api/server.go's Server struct (one
// field per injected service, NewServer wiring them together) and
// pkg/api/handlers.go's route-registration style -- rebuilt against
// gin-gonic/gin (the teacher's declared go.mod dependency) instead of
// echo, since this revision's route surface is the five-stage pipeline's
// REST/SSE API, not the teacher's alert/chat/session surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opslane/feedbackpilot/pkg/breaker"
	"github.com/opslane/feedbackpilot/pkg/ingress"
	"github.com/opslane/feedbackpilot/pkg/metrics"
	"github.com/opslane/feedbackpilot/pkg/models"
	"github.com/opslane/feedbackpilot/pkg/store"
	"github.com/opslane/feedbackpilot/pkg/version"
)

// Store is the subset of *store.Store the API layer reads from. All
// writes happen through Ingress/Orchestrator, never directly here.
type Store interface {
	ListFeedback(f store.FeedbackFilter) ([]*models.Feedback, int)
	ListTasks(f store.TaskFilter) ([]*models.Task, int)
	ListTokenUsage(f store.TokenUsageFilter) ([]models.TokenUsage, int, store.TokenUsageAggregates)
	ListBreakerEvents(f store.BreakerEventFilter) ([]models.BreakerEvent, int)
	ResolveBreakerEvent(id, note string) error
}

// Breaker is the subset of *breaker.Breaker the diagnostic endpoints use.
type Breaker interface {
	Peek(service, action string, estimatedTokens int, taskID string) breaker.CheckResult
	Status() ([]breaker.ServiceStatus, models.UsageSnapshot)
}

// Server is the HTTP API server for feedbackpilot.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	ingress   *ingress.Ingress
	store     Store
	breaker   Breaker
	metrics   *metrics.Metrics
	startedAt time.Time
}

// Config configures the Server.
type Config struct {
	Addr string
}

// NewServer builds a Server and registers every route spec.md §6 names.
func NewServer(cfg Config, in *ingress.Ingress, st Store, br Breaker, m *metrics.Metrics, startedAt time.Time) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:    router,
		ingress:   in,
		store:     st,
		breaker:   br,
		metrics:   m,
		startedAt: startedAt,
	}
	s.registerRoutes()
	s.httpServer = &http.Server{Addr: cfg.Addr, Handler: router}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthHandler)
	if s.metrics != nil {
		s.router.GET("/metrics", s.metricsHandler)
	}

	agent := s.router.Group("/agent")
	agent.POST("/process", s.processHandler)
	agent.POST("/process/stream", s.processStreamHandler)
	agent.GET("/task-logs", s.taskLogsHandler)

	s.router.GET("/feedback", s.listFeedbackHandler)

	circuit := s.router.Group("/circuit")
	circuit.GET("/status", s.circuitStatusHandler)
	circuit.POST("/check", s.circuitCheckHandler)
	circuit.GET("/token-usage", s.tokenUsageHandler)
	circuit.GET("/events", s.breakerEventsHandler)
}

// Run starts the HTTP server and blocks until it returns an error other
// than http.ErrServerClosed.
func (s *Server) Run() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) metricsHandler(c *gin.Context) {
	s.metrics.Refresh()
	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startedAt).String(),
		"version": version.Full(),
	})
}
