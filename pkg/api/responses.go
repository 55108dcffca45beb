package api

import (
	"github.com/opslane/feedbackpilot/pkg/breaker"
	"github.com/opslane/feedbackpilot/pkg/models"
)

// ProcessResponse is the body of the non-streaming POST /agent/process
// response, per spec.md §6: "{feedbackId, status, analysis?, plan?,
// breakerSnapshot}".
type ProcessResponse struct {
	FeedbackID      string         `json:"feedbackId"`
	Status          string         `json:"status"`
	Analysis        any            `json:"analysis,omitempty"`
	Plan            any            `json:"plan,omitempty"`
	BreakerSnapshot BreakerSnapshot `json:"breakerSnapshot"`
}

// BreakerSnapshot is the observability view over breaker.Status(),
// shared by /circuit/status and embedded in ProcessResponse.
type BreakerSnapshot struct {
	Services []breaker.ServiceStatus `json:"services"`
	Usage    models.UsageSnapshot    `json:"usage"`
}

// ListResponse wraps any paginated list with its total match count, per
// spec.md §6's "{list, total}" shape.
type ListResponse struct {
	List  any `json:"list"`
	Total int `json:"total"`
}

// ErrorResponse is the JSON body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
