package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opslane/feedbackpilot/pkg/models"
)

// documentVersion is bumped if the on-disk shape ever changes
// incompatibly; New tolerates a missing or zero value (pre-versioning).
const documentVersion = 1

// document is the single JSON document persisted at
// <DataDir>/database.json, per spec.md §6.
type document struct {
	Version       int                  `json:"version"`
	Feedback      []*models.Feedback   `json:"feedback"`
	Tasks         []*models.Task       `json:"tasks"`
	TokenUsage    []models.TokenUsage  `json:"tokenUsage"`
	BreakerEvents []models.BreakerEvent `json:"breakerEvents"`
	Settings      map[string]string    `json:"settings"`
}

func (s *Store) dbPath() string {
	return filepath.Join(s.cfg.DataDir, "database.json")
}

// loadFromDisk reads <DataDir>/database.json, if present, and populates
// the in-memory maps/slices and order slices. A missing file is not an
// error: New treats it as "start empty".
func (s *Store) loadFromDisk() error {
	raw, err := os.ReadFile(s.dbPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read %s: %w", s.dbPath(), err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("store: parse %s: %w", s.dbPath(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.feedback = make(map[string]*models.Feedback, len(doc.Feedback))
	s.feedbackOrder = s.feedbackOrder[:0]
	for _, f := range doc.Feedback {
		s.feedback[f.ID] = f
		s.feedbackOrder = append(s.feedbackOrder, f.ID)
	}

	s.tasks = make(map[string]*models.Task, len(doc.Tasks))
	s.taskOrder = s.taskOrder[:0]
	for _, t := range doc.Tasks {
		s.tasks[t.ID] = t
		s.taskOrder = append(s.taskOrder, t.ID)
	}

	s.tokenUsage = doc.TokenUsage
	s.breakerEvents = doc.BreakerEvents
	s.evictFeedbackLocked()
	s.evictTaskLocked()

	return nil
}

// flushToDisk atomically rewrites <DataDir>/database.json: marshal to a
// temp file in the same directory, fsync, then os.Rename over the real
// path. This mirrors the same atomic-swap idiom pkg/database/client.go
// uses for its connection-pool handoff, applied here to a file instead
// of an in-memory pointer.
func (s *Store) flushToDisk() error {
	s.mu.Lock()
	doc := document{
		Version:       documentVersion,
		Feedback:      make([]*models.Feedback, 0, len(s.feedbackOrder)),
		Tasks:         make([]*models.Task, 0, len(s.taskOrder)),
		TokenUsage:    append([]models.TokenUsage(nil), s.tokenUsage...),
		BreakerEvents: append([]models.BreakerEvent(nil), s.breakerEvents...),
		Settings:      map[string]string{},
	}
	for _, id := range s.feedbackOrder {
		doc.Feedback = append(doc.Feedback, s.feedback[id])
	}
	for _, id := range s.taskOrder {
		doc.Tasks = append(doc.Tasks, s.tasks[id])
	}
	s.dirty = false
	s.mu.Unlock()

	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", s.cfg.DataDir, err)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal document: %w", err)
	}

	tmp, err := os.CreateTemp(s.cfg.DataDir, "database-*.json.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.dbPath()); err != nil {
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}
