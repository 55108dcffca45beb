// Package breaker implements the circuit breaker (component C4): the
// single policy point that rations large-model tokens across concurrent
// tasks by daily quota, per-task quota, concurrency cap, and a
// rolling-failure trip, with half-open probing for recovery.
//
// Reservation and release follow the same reserve-under-lock,
// release-on-error-path, commit-under-lock discipline
// pkg/agent/orchestrator/runner.go's Dispatch applies to agent
// concurrency slots, here applied to token budgets instead. Trip
// detection over the rolling 60s window is delegated to
// github.com/joeycumines/go-catrate rather than a hand-rolled ring
// buffer, since it already is the idiomatic per-category sliding-window
// limiter this exact problem calls for.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/opslane/feedbackpilot/pkg/clock"
	"github.com/opslane/feedbackpilot/pkg/models"
)

// CircuitState is the per-service circuit position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// Config holds the fixed thresholds spec.md §4.3 names.
type Config struct {
	MaxDailyTokens        int
	MaxTaskTokens         int
	MaxConcurrentTasks    int
	MaxRetries            int
	TokenWindow           time.Duration // rolling daily-bucket window, ~24h
	HalfOpenProbeInterval time.Duration // ~10m
	TripFailureThreshold  int           // ~5 non-allowed events in 60s
}

func (c Config) withDefaults() Config {
	if c.TokenWindow <= 0 {
		c.TokenWindow = 24 * time.Hour
	}
	if c.HalfOpenProbeInterval <= 0 {
		c.HalfOpenProbeInterval = 10 * time.Minute
	}
	if c.TripFailureThreshold <= 0 {
		c.TripFailureThreshold = 5
	}
	return c
}

// taskEntry tracks one in-flight task's reservation. Scoped to a single
// Check/Release pair -- modelclient releases immediately after every
// call (modelclient.go), so this entry does not survive across a
// stage's multiple calls. Retry counts live separately in retryEntry,
// which does survive across them.
type taskEntry struct {
	tokensUsed int
	createdAt  time.Time
}

// retryEntry tracks a task's retry count across its whole pipeline run,
// independent of the reservation taskEntry above.
type retryEntry struct {
	count     int
	createdAt time.Time
}

// circuitEntry is per-service circuit position state.
type circuitEntry struct {
	state         CircuitState
	nextAllowedAt time.Time
}

// Decision is the outcome of a Check call.
type Decision string

const (
	Allowed           Decision = "allowed"
	DeniedCircuitOpen Decision = "circuit-open"
	DeniedDailyLimit  Decision = "daily-limit"
	DeniedConcurrency Decision = "concurrency-limit"
	DeniedTaskLimit   Decision = "task-limit"
)

// CheckResult is returned from Check.
type CheckResult struct {
	Allowed  bool
	Decision Decision
	Snapshot models.UsageSnapshot
}

// EventRecorder is implemented by the Store; Breaker calls it for every
// non-default admission outcome, per spec.md §4.1's BreakerEvent record.
type EventRecorder interface {
	AppendBreakerEvent(models.BreakerEvent)
}

// Breaker is the single policy point. One Breaker instance per process;
// callers pass a service tag ("llm", "git", ...) to separate circuits and
// catrate categories, per spec.md §4.3.
type Breaker struct {
	cfg   Config
	clock clock.Clock
	ids   clock.IDSource
	store EventRecorder
	trip  *catrate.Limiter

	mu sync.Mutex

	dailyTokensUsed int
	dailyWindowEnds time.Time
	tasks           map[string]*taskEntry
	retries         map[string]*retryEntry
	circuits        map[string]*circuitEntry

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Breaker. store may be nil in tests that don't care about
// the audit trail.
func New(cfg Config, c clock.Clock, ids clock.IDSource, store EventRecorder) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		cfg:             cfg,
		clock:           c,
		ids:             ids,
		store:           store,
		trip:            catrate.NewLimiter(map[time.Duration]int{time.Minute: cfg.TripFailureThreshold}),
		dailyWindowEnds: c.Now().Add(cfg.TokenWindow),
		tasks:           make(map[string]*taskEntry),
		retries:         make(map[string]*retryEntry),
		circuits:        make(map[string]*circuitEntry),
	}
}

// Start launches the housekeeping loop (daily-bucket reset, stale-task
// expiry). Call Stop to shut it down.
func (b *Breaker) Start(ctx context.Context) {
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	go b.housekeep(ctx)
}

// Stop halts the housekeeping loop.
func (b *Breaker) Stop() {
	if b.stopCh == nil {
		return
	}
	close(b.stopCh)
	<-b.doneCh
}

func (b *Breaker) housekeep(ctx context.Context) {
	defer close(b.doneCh)
	ticker := b.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C():
			b.tick()
		}
	}
}

// tick performs one housekeeping pass: resets the daily bucket when its
// window closes and expires task entries older than 1h (leak guard),
// per spec.md §4.3.
func (b *Breaker) tick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if !now.Before(b.dailyWindowEnds) {
		b.dailyTokensUsed = 0
		b.dailyWindowEnds = now.Add(b.cfg.TokenWindow)
	}

	const staleAfter = time.Hour
	for id, t := range b.tasks {
		if now.Sub(t.createdAt) > staleAfter {
			delete(b.tasks, id)
		}
	}
	for id, r := range b.retries {
		if now.Sub(r.createdAt) > staleAfter {
			delete(b.retries, id)
		}
	}
}

func (b *Breaker) circuitFor(service string) *circuitEntry {
	c, ok := b.circuits[service]
	if !ok {
		c = &circuitEntry{state: CircuitClosed}
		b.circuits[service] = c
	}
	return c
}

func (b *Breaker) snapshotLocked(taskID string) models.UsageSnapshot {
	snap := models.UsageSnapshot{
		DailyTokensUsed: b.dailyTokensUsed,
		ConcurrentTasks: len(b.tasks),
	}
	if t, ok := b.tasks[taskID]; ok {
		snap.TaskTokensUsed = t.tokensUsed
	}
	if r, ok := b.retries[taskID]; ok {
		snap.RetryCount = r.count
	}
	return snap
}

// Check performs ordered admission control for one prospective call and,
// on allow, pre-reserves the estimated tokens (and registers the task if
// new), exactly per spec.md §4.3's ordered test.
func (b *Breaker) Check(service, action string, estimatedTokens int, taskID string) CheckResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	circuit := b.circuitFor(service)

	if circuit.state == CircuitOpen {
		if now.Before(circuit.nextAllowedAt) {
			return b.denyLocked(service, action, taskID, DeniedCircuitOpen)
		}
		circuit.state = CircuitHalfOpen
	}

	if b.dailyTokensUsed+estimatedTokens > b.cfg.MaxDailyTokens {
		return b.denyLocked(service, action, taskID, DeniedDailyLimit)
	}

	_, taskExists := b.tasks[taskID]
	if !taskExists && len(b.tasks) >= b.cfg.MaxConcurrentTasks {
		return b.denyLocked(service, action, taskID, DeniedConcurrency)
	}

	if taskExists && b.tasks[taskID].tokensUsed+estimatedTokens > b.cfg.MaxTaskTokens {
		return b.denyLocked(service, action, taskID, DeniedTaskLimit)
	}

	// admit: pre-reserve
	b.dailyTokensUsed += estimatedTokens
	if taskExists {
		b.tasks[taskID].tokensUsed += estimatedTokens
	} else {
		b.tasks[taskID] = &taskEntry{tokensUsed: estimatedTokens, createdAt: now}
	}

	return CheckResult{Allowed: true, Decision: Allowed, Snapshot: b.snapshotLocked(taskID)}
}

// Peek reports the same ordered admission decision Check would make,
// without reserving tokens, registering a task entry, or recording a
// BreakerEvent. Used by the diagnostic /circuit/check endpoint so a
// probe can evaluate "would this be allowed" without touching any real
// task's reservation, even when passed a live taskID.
func (b *Breaker) Peek(service, action string, estimatedTokens int, taskID string) CheckResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	circuit := b.circuitFor(service)

	state := circuit.state
	if state == CircuitOpen && !now.Before(circuit.nextAllowedAt) {
		state = CircuitHalfOpen
	}
	if state == CircuitOpen {
		return CheckResult{Allowed: false, Decision: DeniedCircuitOpen, Snapshot: b.snapshotLocked(taskID)}
	}

	if b.dailyTokensUsed+estimatedTokens > b.cfg.MaxDailyTokens {
		return CheckResult{Allowed: false, Decision: DeniedDailyLimit, Snapshot: b.snapshotLocked(taskID)}
	}

	t, taskExists := b.tasks[taskID]
	if !taskExists && len(b.tasks) >= b.cfg.MaxConcurrentTasks {
		return CheckResult{Allowed: false, Decision: DeniedConcurrency, Snapshot: b.snapshotLocked(taskID)}
	}

	if taskExists && t.tokensUsed+estimatedTokens > b.cfg.MaxTaskTokens {
		return CheckResult{Allowed: false, Decision: DeniedTaskLimit, Snapshot: b.snapshotLocked(taskID)}
	}

	return CheckResult{Allowed: true, Decision: Allowed, Snapshot: b.snapshotLocked(taskID)}
}

// denyLocked records the trip-detection event against the service's
// catrate category and the circuit state transition, then emits a
// BreakerEvent. Caller holds b.mu.
func (b *Breaker) denyLocked(service, action, taskID string, decision Decision) CheckResult {
	circuit := b.circuitFor(service)

	if circuit.state == CircuitHalfOpen {
		circuit.state = CircuitOpen
		circuit.nextAllowedAt = b.clock.Now().Add(b.cfg.HalfOpenProbeInterval)
	} else if _, ok := b.trip.Allow(service); !ok {
		circuit.state = CircuitOpen
		circuit.nextAllowedAt = b.clock.Now().Add(b.cfg.HalfOpenProbeInterval)
		decision = DeniedCircuitOpen
	}

	snap := b.snapshotLocked(taskID)
	b.recordEvent(service, action, decisionToEventType(decision), taskID, snap)
	return CheckResult{Allowed: false, Decision: decision, Snapshot: snap}
}

func decisionToEventType(d Decision) models.BreakerEventType {
	switch d {
	case DeniedDailyLimit:
		return models.BreakerEventDailyLimit
	case DeniedConcurrency:
		return models.BreakerEventConcurrencyLimit
	case DeniedTaskLimit:
		return models.BreakerEventTaskLimit
	default:
		return models.BreakerEventCircuitOpen
	}
}

func (b *Breaker) recordEvent(service, action string, evType models.BreakerEventType, taskID string, snap models.UsageSnapshot) {
	if b.store == nil {
		return
	}
	b.store.AppendBreakerEvent(models.BreakerEvent{
		ID:        b.ids.NewID(),
		Timestamp: b.clock.Now(),
		Service:   service,
		Action:    action,
		EventType: evType,
		Observed:  snap,
		TaskID:    taskID,
	})
}

// Release reconciles a task's reservation with its actual token spend,
// drops the task entry, and releases its concurrency slot. success
// governs half-open recovery: a successful release in half-open closes
// the circuit.
func (b *Breaker) Release(service string, taskID string, actualTokens int, success bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return fmt.Errorf("breaker: release of unknown task %s", taskID)
	}

	delta := actualTokens - t.tokensUsed
	b.dailyTokensUsed += delta
	if b.dailyTokensUsed < 0 {
		b.dailyTokensUsed = 0
	}
	delete(b.tasks, taskID)

	circuit := b.circuitFor(service)
	if circuit.state == CircuitHalfOpen && success {
		circuit.state = CircuitClosed
		circuit.nextAllowedAt = time.Time{}
	}

	return nil
}

// IncrementRetry bumps a task's retry counter. Unlike the reservation in
// tasks, the retryEntry is keyed only by taskID and survives across the
// whole pipeline run, since Check/Release pairs come and go around each
// individual model call. Returns false once the new count exceeds
// MaxRetries, recording a max-retries BreakerEvent.
func (b *Breaker) IncrementRetry(service, taskID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.retries[taskID]
	if !ok {
		r = &retryEntry{createdAt: b.clock.Now()}
		b.retries[taskID] = r
	}
	r.count++
	if r.count > b.cfg.MaxRetries {
		snap := b.snapshotLocked(taskID)
		b.recordEvent(service, "retry", models.BreakerEventMaxRetries, taskID, snap)
		return false
	}
	return true
}

// GetRetryCount returns the current retry count for a task, or 0 if the
// task has never called IncrementRetry.
func (b *Breaker) GetRetryCount(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.retries[taskID]; ok {
		return r.count
	}
	return 0
}

// ServiceStatus is the public snapshot returned by Status: the circuit
// position and next-allowed time per service tag. catrate's trip-window
// occupancy is not reported.
type ServiceStatus struct {
	Service       string
	State         CircuitState
	NextAllowedAt time.Time
}

// Status reports the circuit position for every service tag seen so far,
// plus the shared usage snapshot.
func (b *Breaker) Status() ([]ServiceStatus, models.UsageSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ServiceStatus, 0, len(b.circuits))
	for svc, c := range b.circuits {
		out = append(out, ServiceStatus{Service: svc, State: c.state, NextAllowedAt: c.nextAllowedAt})
	}
	return out, models.UsageSnapshot{
		DailyTokensUsed: b.dailyTokensUsed,
		ConcurrentTasks: len(b.tasks),
	}
}
