package workspace

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/lifecycle-engine/internal/model"
	"github.com/swarmguard/lifecycle-engine/internal/pathresolver"
)

func newTestMaterializer(t *testing.T) (*Materializer, *pathresolver.Resolver) {
	t.Helper()
	r := pathresolver.New(t.TempDir())
	return New(r, nil), r
}

func sampleTask() *model.Task {
	return &model.Task{
		ID:        "T1",
		AgentID:   "agent-1",
		Title:     "Implement user authentication",
		Priority:  model.PriorityHigh,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
		Version:   1,
	}
}

func TestCreate_WritesAllFourFiles(t *testing.T) {
	m, r := newTestMaterializer(t)
	task := sampleTask()
	require.NoError(t, m.Create(task, CreateSpec{Description: "auth system"}))

	dir := r.TaskDir(task.AgentID, task.ID, model.StatusPending)
	for _, f := range []string{
		pathresolver.PlanFile(dir),
		pathresolver.ProgressFile(dir),
		pathresolver.SubtasksFile(dir),
		pathresolver.ContextFile(dir),
	} {
		_, err := os.Stat(f)
		assert.NoErrorf(t, err, "expected %s to exist", f)
	}
}

func TestCreate_PlanContainsTaskID(t *testing.T) {
	m, r := newTestMaterializer(t)
	task := sampleTask()
	require.NoError(t, m.Create(task, CreateSpec{}))
	dir := r.TaskDir(task.AgentID, task.ID, model.StatusPending)
	data, err := os.ReadFile(pathresolver.PlanFile(dir))
	require.NoError(t, err)
	assert.Contains(t, string(data), "id: T1")
}

func TestMoveToStatus_MovesDirectoryAndRefreshesContext(t *testing.T) {
	m, r := newTestMaterializer(t)
	task := sampleTask()
	require.NoError(t, m.Create(task, CreateSpec{}))

	task.Status = model.StatusInProgress
	task.Version = 2
	require.NoError(t, m.MoveToStatus(task, model.StatusPending))

	oldDir := r.TaskDir(task.AgentID, task.ID, model.StatusPending)
	_, err := os.Stat(oldDir)
	assert.True(t, os.IsNotExist(err))

	newDir := r.TaskDir(task.AgentID, task.ID, model.StatusInProgress)
	data, err := os.ReadFile(pathresolver.ContextFile(newDir))
	require.NoError(t, err)
	var doc ContextDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, model.StatusInProgress, doc.Task.Status)
	assert.Equal(t, 2, doc.Task.Version)
}

func TestMoveToStatus_ArchiveGoesToMonthDirectory(t *testing.T) {
	m, r := newTestMaterializer(t)
	task := sampleTask()
	require.NoError(t, m.Create(task, CreateSpec{}))

	task.Status = model.StatusCompleted
	task.Version = 2
	completedAt := time.Now().UTC()
	task.CompletedAt = &completedAt
	require.NoError(t, m.MoveToStatus(task, model.StatusPending))

	task.Status = model.StatusArchived
	task.Version = 3
	require.NoError(t, m.MoveToStatus(task, model.StatusCompleted))

	archiveDir := r.ArchiveTaskDir(task.AgentID, task.ID, completedAt)
	_, err := os.Stat(pathresolver.ContextFile(archiveDir))
	assert.NoError(t, err)
}

func TestMoveToStatus_SearchFallbackWhenSourceMissing(t *testing.T) {
	m, r := newTestMaterializer(t)
	task := sampleTask()
	require.NoError(t, m.Create(task, CreateSpec{}))

	// Simulate drift: the directory is actually under blocked/, not pending/.
	pendingDir := r.TaskDir(task.AgentID, task.ID, model.StatusPending)
	blockedDir := r.TaskDir(task.AgentID, task.ID, model.StatusBlocked)
	require.NoError(t, os.MkdirAll(blockedDir[:len(blockedDir)-len(task.ID)], 0o755))
	require.NoError(t, os.Rename(pendingDir, blockedDir))

	task.Status = model.StatusCompleted
	task.Version = 2
	completedAt := time.Now().UTC()
	task.CompletedAt = &completedAt
	require.NoError(t, m.MoveToStatus(task, model.StatusPending))

	completedDir := r.TaskDir(task.AgentID, task.ID, model.StatusCompleted)
	_, err := os.Stat(pathresolver.PlanFile(completedDir))
	assert.NoError(t, err)
}

func TestBuildContext_NeverEmitsNullForBlockedBy(t *testing.T) {
	task := sampleTask()
	doc := BuildContext(task)
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"blocked_by":[]`)
}
