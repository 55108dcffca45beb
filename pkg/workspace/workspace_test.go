package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opslane/feedbackpilot/pkg/clock"
)

// newBareOrigin creates a throwaway local (non-bare) repository with one
// commit, usable as a clone source without any network access.
func newBareOrigin(t *testing.T) string {
	t.Helper()
	origin := t.TempDir()
	run(t, origin, "init", "--initial-branch=main")
	run(t, origin, "config", "user.email", "test@example.com")
	run(t, origin, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(origin, "README.md"), []byte("seed\n"), 0o644))
	run(t, origin, "add", "-A")
	run(t, origin, "commit", "-m", "seed")
	return origin
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	origin := newBareOrigin(t)
	workDir := filepath.Join(t.TempDir(), "work")
	fc := clock.NewFake(time.Now())
	return New(Config{RepoURL: origin, WorkDir: workDir, SnapshotCap: 2}, fc, clock.NewFakeIDs("snap"))
}

func TestWorkspace_EnsureIsIdempotent(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Ensure())
	require.NoError(t, ws.Ensure())

	_, err := os.Stat(filepath.Join(ws.cfg.WorkDir, "README.md"))
	require.NoError(t, err)
}

func TestWorkspace_WriteCommitCycle(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Ensure())

	branch := BranchName("feedback-abcdef12", 1700000000000)
	require.NoError(t, ws.CheckoutNewBranch(branch))

	require.NoError(t, ws.WriteFile("src/app.go", "package app\n", WriteReplace))
	require.NoError(t, ws.WriteFile("CHANGELOG.md", "- did a thing", WriteInsert))

	hash, err := ws.Commit("apply change")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
}

func TestWorkspace_SnapshotRestoreRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Ensure())

	id, err := ws.Snapshot("before-change")
	require.NoError(t, err)

	require.NoError(t, ws.WriteFile("README.md", "mutated\n", WriteReplace))
	data, err := os.ReadFile(filepath.Join(ws.cfg.WorkDir, "README.md"))
	require.NoError(t, err)
	require.Equal(t, "mutated\n", string(data))

	require.NoError(t, ws.Restore(id))
	data, err = os.ReadFile(filepath.Join(ws.cfg.WorkDir, "README.md"))
	require.NoError(t, err)
	require.Equal(t, "seed\n", string(data))
}

func TestWorkspace_SnapshotRingEvictsOldest(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Ensure())

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := ws.Snapshot("snap")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	snapshots := ws.ListSnapshots()
	require.Len(t, snapshots, 2)

	err := ws.Restore(ids[0])
	require.Error(t, err, "oldest snapshot should have been evicted")
}
