// Package workspace provides scoped acquisition of a single working
// directory bound to a remote git repository (component C6): clone,
// branch, write, commit, and a bounded snapshot/restore ring.
//
// Git operations shell out to the git binary via os/exec, in the same
// error-wrapping style pkg/runbook/github.go uses for HTTP calls: every
// operation wraps its error with fmt.Errorf("...: %w", err) and never
// panics. Directory discovery (ensure-or-create on first use) is
// grounded on pkg/mcp/client_factory.go's lazy-create pattern.
package workspace

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opslane/feedbackpilot/pkg/clock"
)

// WriteMode selects how WriteFile applies content to an existing file.
type WriteMode string

const (
	WriteReplace WriteMode = "replace"
	WriteInsert  WriteMode = "insert"
)

// Config configures a Workspace.
type Config struct {
	RepoURL string
	WorkDir string

	// SnapshotCap bounds the snapshot ring; the oldest snapshot is
	// evicted once exceeded, mirroring the Store's own bounded-retention
	// idiom.
	SnapshotCap int
}

func (c Config) withDefaults() Config {
	if c.SnapshotCap <= 0 {
		c.SnapshotCap = 20
	}
	return c
}

// Snapshot is one recorded deep-copy of the working tree.
type Snapshot struct {
	ID        string
	Name      string
	CreatedAt time.Time
	path      string // directory holding the copied files
}

// Workspace guards a single shared working directory with a mutex that
// serializes each individual operation, per spec.md §5's deliberate
// single-directory simplification. The Modifier stage holds its own lock
// across its Ensure -> Commit sequence, so only one Modifier operates on
// the tree at a time.
type Workspace struct {
	cfg   Config
	clock clock.Clock
	ids   clock.IDSource

	mu        sync.Mutex
	ensured   bool
	snapshots []Snapshot
}

// New builds a Workspace. Nothing touches the filesystem until Ensure is
// called.
func New(cfg Config, c clock.Clock, ids clock.IDSource) *Workspace {
	cfg = cfg.withDefaults()
	return &Workspace{cfg: cfg, clock: c, ids: ids}
}

// Ensure clones the configured repository into WorkDir if it is absent.
// Idempotent: a second call on an already-cloned directory is a no-op.
func (w *Workspace) Ensure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ensureLocked()
}

func (w *Workspace) ensureLocked() error {
	if w.ensured {
		return nil
	}

	if _, err := os.Stat(filepath.Join(w.cfg.WorkDir, ".git")); err == nil {
		w.ensured = true
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.cfg.WorkDir), 0o755); err != nil {
		return fmt.Errorf("workspace: create parent dir: %w", err)
	}

	if err := w.run("", "clone", w.cfg.RepoURL, w.cfg.WorkDir); err != nil {
		return fmt.Errorf("workspace: clone %s: %w", w.cfg.RepoURL, err)
	}

	w.ensured = true
	return nil
}

// BranchName builds the unique branch name spec.md §4.5 requires:
// feedback-<short-id>-<timestamp-ms>.
func BranchName(feedbackID string, nowMs int64) string {
	shortID := feedbackID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	return fmt.Sprintf("feedback-%s-%d", shortID, nowMs)
}

// CheckoutNewBranch creates and switches to a new branch.
func (w *Workspace) CheckoutNewBranch(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureLocked(); err != nil {
		return err
	}
	if err := w.run(w.cfg.WorkDir, "checkout", "-b", name); err != nil {
		return fmt.Errorf("workspace: checkout branch %s: %w", name, err)
	}
	return nil
}

// WriteFile writes content to path (relative to WorkDir). replace
// overwrites the file; insert appends content + a trailing newline to
// any existing file (creating it if absent).
func (w *Workspace) WriteFile(path, content string, mode WriteMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	full := filepath.Join(w.cfg.WorkDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("workspace: create dir for %s: %w", path, err)
	}

	switch mode {
	case WriteInsert:
		f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("workspace: open %s for insert: %w", path, err)
		}
		defer f.Close()
		if _, err := f.WriteString(content + "\n"); err != nil {
			return fmt.Errorf("workspace: append to %s: %w", path, err)
		}
	default: // WriteReplace
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return fmt.Errorf("workspace: write %s: %w", path, err)
		}
	}
	return nil
}

// Commit stages all changes and commits with message, returning the new
// commit hash.
func (w *Workspace) Commit(message string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.run(w.cfg.WorkDir, "add", "-A"); err != nil {
		return "", fmt.Errorf("workspace: stage changes: %w", err)
	}
	if err := w.run(w.cfg.WorkDir, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("workspace: commit: %w", err)
	}

	hash, err := w.output(w.cfg.WorkDir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("workspace: read commit hash: %w", err)
	}
	return strings.TrimSpace(hash), nil
}

// Snapshot deep-copies the configured tree into a new bounded-ring
// entry, evicting the oldest if SnapshotCap is exceeded.
func (w *Workspace) Snapshot(name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.ids.NewID()
	dest := filepath.Join(os.TempDir(), "feedbackpilot-snapshot-"+id)

	if err := copyTree(w.cfg.WorkDir, dest); err != nil {
		return "", fmt.Errorf("workspace: snapshot %s: %w", name, err)
	}

	w.snapshots = append(w.snapshots, Snapshot{
		ID:        id,
		Name:      name,
		CreatedAt: w.clock.Now(),
		path:      dest,
	})

	if over := len(w.snapshots) - w.cfg.SnapshotCap; over > 0 {
		for _, evicted := range w.snapshots[:over] {
			_ = os.RemoveAll(evicted.path)
		}
		w.snapshots = w.snapshots[over:]
	}

	return id, nil
}

// Restore replaces the working tree's content with a prior snapshot.
func (w *Workspace) Restore(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range w.snapshots {
		if s.ID == id {
			if err := os.RemoveAll(w.cfg.WorkDir); err != nil {
				return fmt.Errorf("workspace: clear tree for restore: %w", err)
			}
			if err := copyTree(s.path, w.cfg.WorkDir); err != nil {
				return fmt.Errorf("workspace: restore %s: %w", id, err)
			}
			return nil
		}
	}
	return fmt.Errorf("workspace: unknown snapshot %s", id)
}

// ListSnapshots returns the current snapshot ring, oldest first.
func (w *Workspace) ListSnapshots() []Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Snapshot, len(w.snapshots))
	copy(out, w.snapshots)
	return out
}

func (w *Workspace) run(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (w *Workspace) output(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
