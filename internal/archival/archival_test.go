package archival

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/lifecycle-engine/internal/model"
	"github.com/swarmguard/lifecycle-engine/internal/pathresolver"
	"github.com/swarmguard/lifecycle-engine/internal/taskstore"
)

func newTestEngine(t *testing.T) (*Engine, *pathresolver.Resolver, *taskstore.Store) {
	t.Helper()
	root := t.TempDir()
	resolver := pathresolver.New(root)
	store, err := taskstore.Open(filepath.Join(root, "tasks.db"), taskstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, resolver, 2, nil), resolver, store
}

func completedTaskAt(t *testing.T, store *taskstore.Store, resolver *pathresolver.Resolver, id string, completedAt time.Time) *model.Task {
	t.Helper()
	ctx := context.Background()
	task, err := store.Create(ctx, taskstore.CreateInput{ID: id, AgentID: "agent-1", Title: "x", Priority: model.PriorityMedium, Now: completedAt.Add(-time.Hour)})
	require.NoError(t, err)
	task, err = store.Transition(ctx, id, task.Version, model.StatusInProgress, taskstore.TransitionExtras{Now: completedAt.Add(-time.Minute)})
	require.NoError(t, err)
	task, err = store.Transition(ctx, id, task.Version, model.StatusCompleted, taskstore.TransitionExtras{Now: completedAt})
	require.NoError(t, err)

	dir := resolver.TaskDir(task.AgentID, task.ID, model.StatusCompleted)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plan.md"), []byte("id: "+id+"\n"), 0o644))
	return task
}

func TestArchiveOld_MovesDirectoryAndTransitionsStatus(t *testing.T) {
	e, resolver, store := newTestEngine(t)
	old := time.Now().UTC().AddDate(0, 0, -10)
	task := completedTaskAt(t, store, resolver, "T1", old)

	count, err := e.ArchiveOld(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	updated, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, updated.Status)

	archiveDir := resolver.ArchiveTaskDir(task.AgentID, task.ID, old)
	_, statErr := os.Stat(filepath.Join(archiveDir, "plan.md"))
	assert.NoError(t, statErr)
}

func TestArchiveOld_IsIdempotentOnRerun(t *testing.T) {
	e, resolver, store := newTestEngine(t)
	old := time.Now().UTC().AddDate(0, 0, -10)
	completedTaskAt(t, store, resolver, "T1", old)

	first, err := e.ArchiveOld(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := e.ArchiveOld(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestArchiveOld_SkipsTasksNotYetOldEnough(t *testing.T) {
	e, resolver, store := newTestEngine(t)
	recent := time.Now().UTC().AddDate(0, 0, -1)
	completedTaskAt(t, store, resolver, "T1", recent)

	count, err := e.ArchiveOld(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCompressOld_ProducesExtractableTarball(t *testing.T) {
	e, resolver, store := newTestEngine(t)
	old := time.Now().UTC().AddDate(0, 0, -100)
	task := completedTaskAt(t, store, resolver, "T1", old)

	_, err := e.ArchiveOld(context.Background(), 7)
	require.NoError(t, err)

	count, err := e.CompressOld(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	archiveDir := resolver.ArchiveTaskDir(task.AgentID, task.ID, old)
	_, dirErr := os.Stat(archiveDir)
	assert.True(t, os.IsNotExist(dirErr), "directory should be removed after compaction")

	tarball := resolver.ArchiveTarball(task.AgentID, task.ID, old)
	f, err := os.Open(tarball)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.Contains(t, names, "plan.md")
}

func TestCompressOld_PartialPriorRunFinishesCleanly(t *testing.T) {
	e, resolver, store := newTestEngine(t)
	old := time.Now().UTC().AddDate(0, 0, -100)
	task := completedTaskAt(t, store, resolver, "T1", old)
	_, err := e.ArchiveOld(context.Background(), 7)
	require.NoError(t, err)

	archiveDir := resolver.ArchiveTaskDir(task.AgentID, task.ID, old)
	tarball := resolver.ArchiveTarball(task.AgentID, task.ID, old)
	require.NoError(t, os.WriteFile(tarball, []byte("stale-partial-tarball"), 0o644))

	count, err := e.CompressOld(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, dirErr := os.Stat(archiveDir)
	assert.True(t, os.IsNotExist(dirErr))
}
