package models

import "errors"

// ErrorKind classifies why a task or stage failed, per spec.md §7's error
// handling table. The orchestrator and stage services pass these around as
// the discriminator for retry/abort decisions; HTTP handlers map them to
// status codes.
type ErrorKind string

const (
	// ErrorKindValidation originates at Ingress: fail fast, no Task created.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindBreakerBlocked means a stage's Breaker.Check denied the call.
	// The orchestrator never retries this kind -- the breaker already owns
	// its own cooldown.
	ErrorKindBreakerBlocked ErrorKind = "breaker-blocked"

	// ErrorKindModelTransient covers model-call timeouts, 5xxs, and network
	// errors.
	ErrorKindModelTransient ErrorKind = "model-transient"

	// ErrorKindWorkspace covers clone/checkout/write/commit failures.
	ErrorKindWorkspace ErrorKind = "workspace-error"

	// ErrorKindQualityGateFailed is raised by the Tester when the quality
	// gate does not pass; bounded-retried via the Planner back-edge.
	ErrorKindQualityGateFailed ErrorKind = "quality-gate-failed"

	// ErrorKindTestEnvironmentMissing is a structured sub-reason folded
	// into ErrorKindQualityGateFailed's retry handling (no browser binary
	// available).
	ErrorKindTestEnvironmentMissing ErrorKind = "test-environment-missing"

	// ErrorKindCancelled marks a task unwound by a process-wide shutdown.
	ErrorKindCancelled ErrorKind = "cancelled"
)

// Sentinel errors used across package boundaries with errors.Is/As.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrBreakerBlocked    = errors.New("blocked by circuit breaker")
	ErrMaxRetriesReached = errors.New("maximum retries reached")
)

// StageError is a typed error a stage service returns. It always carries
// an ErrorKind so the orchestrator never has to string-match messages.
type StageError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *StageError) Unwrap() error { return e.Cause }

// NewStageError builds a StageError, wrapping an optional cause.
func NewStageError(kind ErrorKind, message string, cause error) *StageError {
	return &StageError{Kind: kind, Message: message, Cause: cause}
}
