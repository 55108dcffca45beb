// Package clock provides the monotonic time source and unique ID
// generator (component C1) used by the breaker's rolling windows and by
// every record that needs an opaque unique identifier.
//
// Production code takes a Clock so tests can inject a fake one instead of
// sleeping real wall-clock time -- the same seam pkg/events/manager.go's
// teacher-side "timeNow/timeNewTicker" test variables provide, expressed
// here as an interface instead of package-level vars since multiple
// independent components (breaker, store) each need their own fake clock
// in tests.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time.Now and time.NewTicker so tests can control the
// passage of time deterministically (used heavily by breaker trip/recovery
// tests and the store's flush-tick test).
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Ticker mirrors the subset of *time.Ticker production code needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock backed by the standard library.
type Real struct{}

// NewReal returns the production Clock.
func NewReal() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// IDSource generates opaque unique identifiers for Feedback, Task,
// TokenUsage and BreakerEvent records.
type IDSource interface {
	NewID() string
}

// UUIDSource generates RFC 4122 v4 IDs via google/uuid, the same library
// the teacher uses for WebSocket connection IDs (pkg/events/manager.go).
type UUIDSource struct{}

// NewUUIDSource returns the production IDSource.
func NewUUIDSource() UUIDSource { return UUIDSource{} }

func (UUIDSource) NewID() string { return uuid.New().String() }
