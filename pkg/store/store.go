// Package store is a facade over an append-only/bounded record set (Store,
// component C3): Feedback, Task, TokenUsage and BreakerEvent rows, backed
// by either a plain in-memory map or the same map flushed periodically to
// a single JSON document on disk.
//
// This is the one subsystem of feedbackpilot that does NOT reach for the
// teacher's entgo.io/ent + pgx + golang-migrate stack -- see DESIGN.md for
// why: spec.md §6 names a literal single-JSON-document persisted-state
// layout, which rules out a relational, migrated store. The bounded-cap,
// oldest-evicted retention policy mirrors the same idiom tarsy applies to
// its breaker's recent-event ring and Stage lists.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opslane/feedbackpilot/pkg/clock"
	"github.com/opslane/feedbackpilot/pkg/models"
)

// Mode selects the persistence backend.
type Mode string

const (
	ModeMemory Mode = "memory"
	ModeFile   Mode = "file"
)

// Config configures a Store.
type Config struct {
	Mode Mode

	// DataDir is where <DataDir>/database.json lives in file mode. Ignored
	// in memory mode.
	DataDir string

	// FlushInterval is how often file mode rewrites the document. Per
	// spec.md §6, this must be >= 30s; values below that are clamped up.
	FlushInterval time.Duration

	// Caps bound each list's retention; the oldest records are evicted once
	// a cap is exceeded. Zero means "use the package default".
	FeedbackCap     int
	TaskCap         int
	TokenUsageCap   int
	BreakerEventCap int
}

// Default retention caps, per spec.md §4.2 ("O(10^3-10^4) records").
const (
	defaultFeedbackCap     = 5000
	defaultTaskCap         = 5000
	defaultTokenUsageCap   = 10000
	defaultBreakerEventCap = 10000

	minFlushInterval = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.FeedbackCap <= 0 {
		c.FeedbackCap = defaultFeedbackCap
	}
	if c.TaskCap <= 0 {
		c.TaskCap = defaultTaskCap
	}
	if c.TokenUsageCap <= 0 {
		c.TokenUsageCap = defaultTokenUsageCap
	}
	if c.BreakerEventCap <= 0 {
		c.BreakerEventCap = defaultBreakerEventCap
	}
	if c.FlushInterval < minFlushInterval {
		c.FlushInterval = minFlushInterval
	}
	return c
}

// Store is the append-only/bounded facade. All mutation happens under mu;
// readers receive deep-enough copies so they never observe a record
// being concurrently mutated by the Orchestrator (the single writer for
// Feedback/Task).
type Store struct {
	cfg   Config
	clock clock.Clock

	mu            sync.RWMutex
	feedback      map[string]*models.Feedback
	feedbackOrder []string // oldest first, for cap eviction
	tasks         map[string]*models.Task
	taskOrder     []string
	tokenUsage    []models.TokenUsage
	breakerEvents []models.BreakerEvent
	dirty         bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Store. In file mode, it attempts to load an existing
// document at <DataDir>/database.json; a missing or unreadable file is not
// fatal -- the store simply starts empty, matching tarsy's own tolerant
// ".env not found, continuing" posture in cmd/tarsy/main.go.
func New(cfg Config, c clock.Clock) (*Store, error) {
	cfg = cfg.withDefaults()
	s := &Store{
		cfg:      cfg,
		clock:    c,
		feedback: make(map[string]*models.Feedback),
		tasks:    make(map[string]*models.Task),
	}

	if cfg.Mode == ModeFile {
		if err := s.loadFromDisk(); err != nil {
			slog.Warn("store: failed to load existing database.json, starting empty",
				"data_dir", cfg.DataDir, "error", err)
		}
	}

	return s, nil
}

// Start launches the background flush loop (file mode only). No-op in
// memory mode. Safe to call once; call Stop to shut it down.
func (s *Store) Start(ctx context.Context) {
	if s.cfg.Mode != ModeFile {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.flushLoop(ctx)
}

// Stop signals the flush loop to exit and performs one final flush so
// no writes since the last tick are lost.
func (s *Store) Stop() {
	if s.cfg.Mode != ModeFile || s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	if err := s.flushToDisk(); err != nil {
		slog.Error("store: final flush failed", "error", err)
	}
}

func (s *Store) flushLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := s.clock.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C():
			s.mu.Lock()
			dirty := s.dirty
			s.mu.Unlock()
			if !dirty {
				continue
			}
			if err := s.flushToDisk(); err != nil {
				slog.Error("store: periodic flush failed", "error", err)
			}
		}
	}
}

// markDirtyAndMaybeFlush marks the store dirty; in file mode, a terminal
// transition additionally triggers an out-of-band flush so completed work
// survives a crash between ticks (spec.md §6: "rewritten ... on terminal
// transitions").
func (s *Store) markDirtyAndMaybeFlush(terminal bool) {
	s.dirty = true
	if terminal && s.cfg.Mode == ModeFile {
		go func() {
			if err := s.flushToDisk(); err != nil {
				slog.Error("store: terminal-transition flush failed", "error", err)
			}
		}()
	}
}

func isTerminalFeedback(status models.FeedbackStatus) bool {
	switch status {
	case models.FeedbackStatusCompleted, models.FeedbackStatusNeedsHuman, models.FeedbackStatusFailed:
		return true
	default:
		return false
	}
}

func isTerminalTask(status models.TaskStatus) bool {
	switch status {
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusAborted:
		return true
	default:
		return false
	}
}

// ────────────────────────────────────────────────────────────
// Feedback
// ────────────────────────────────────────────────────────────

// CreateFeedback inserts a new Feedback row. Evicts the oldest feedback
// (and its now-orphaned tasks stay, since Task.FeedbackID is just a
// reference) once FeedbackCap is exceeded.
func (s *Store) CreateFeedback(f *models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.feedback[f.ID]; exists {
		return fmt.Errorf("store: feedback %s already exists", f.ID)
	}
	s.feedback[f.ID] = f.Clone()
	s.feedbackOrder = append(s.feedbackOrder, f.ID)
	s.evictFeedbackLocked()
	s.markDirtyAndMaybeFlush(false)
	return nil
}

func (s *Store) evictFeedbackLocked() {
	for len(s.feedbackOrder) > s.cfg.FeedbackCap {
		oldest := s.feedbackOrder[0]
		s.feedbackOrder = s.feedbackOrder[1:]
		delete(s.feedback, oldest)
	}
}

// GetFeedback returns a copy of the Feedback record, or models.ErrNotFound.
func (s *Store) GetFeedback(id string) (*models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.feedback[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return f.Clone(), nil
}

// UpdateFeedback applies mutate to the stored Feedback under the write
// lock and persists the result. mutate must not retain the pointer past
// its call.
func (s *Store) UpdateFeedback(id string, mutate func(*models.Feedback)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feedback[id]
	if !ok {
		return models.ErrNotFound
	}
	mutate(f)
	s.markDirtyAndMaybeFlush(isTerminalFeedback(f.Status))
	return nil
}

// ────────────────────────────────────────────────────────────
// Task
// ────────────────────────────────────────────────────────────

// CreateTask inserts a new Task row.
func (s *Store) CreateTask(t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("store: task %s already exists", t.ID)
	}
	s.tasks[t.ID] = t.Clone()
	s.taskOrder = append(s.taskOrder, t.ID)
	s.evictTaskLocked()
	s.markDirtyAndMaybeFlush(false)
	return nil
}

func (s *Store) evictTaskLocked() {
	for len(s.taskOrder) > s.cfg.TaskCap {
		oldest := s.taskOrder[0]
		s.taskOrder = s.taskOrder[1:]
		delete(s.tasks, oldest)
	}
}

// GetTask returns a copy of the Task record, or models.ErrNotFound.
func (s *Store) GetTask(id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return t.Clone(), nil
}

// UpdateTask applies mutate to the stored Task under the write lock.
func (s *Store) UpdateTask(id string, mutate func(*models.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return models.ErrNotFound
	}
	mutate(t)
	s.markDirtyAndMaybeFlush(isTerminalTask(t.Status))
	return nil
}

// AppendStage appends a Stage record to a Task's (append-only) stage list.
func (s *Store) AppendStage(taskID string, stage models.Stage) error {
	return s.UpdateTask(taskID, func(t *models.Task) {
		t.AppendStage(stage)
	})
}

// ────────────────────────────────────────────────────────────
// Token usage
// ────────────────────────────────────────────────────────────

// AppendTokenUsage appends one token-usage record. Append-only; oldest
// evicted once TokenUsageCap is exceeded.
func (s *Store) AppendTokenUsage(u models.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenUsage = append(s.tokenUsage, u)
	if over := len(s.tokenUsage) - s.cfg.TokenUsageCap; over > 0 {
		s.tokenUsage = s.tokenUsage[over:]
	}
	s.markDirtyAndMaybeFlush(false)
}

// ────────────────────────────────────────────────────────────
// Breaker events
// ────────────────────────────────────────────────────────────

// AppendBreakerEvent appends one breaker event. Append-only except for
// later Resolve calls against the same ID.
func (s *Store) AppendBreakerEvent(e models.BreakerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakerEvents = append(s.breakerEvents, e)
	if over := len(s.breakerEvents) - s.cfg.BreakerEventCap; over > 0 {
		s.breakerEvents = s.breakerEvents[over:]
	}
	s.markDirtyAndMaybeFlush(false)
}

// ResolveBreakerEvent sets the resolved flag and note on an existing
// breaker event. These are the only mutable fields on an otherwise
// append-only record.
func (s *Store) ResolveBreakerEvent(id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.breakerEvents {
		if s.breakerEvents[i].ID == id {
			s.breakerEvents[i].Resolved = true
			s.breakerEvents[i].ResolutionNote = note
			s.markDirtyAndMaybeFlush(false)
			return nil
		}
	}
	return models.ErrNotFound
}
