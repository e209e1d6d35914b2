package pathresolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/swarmguard/lifecycle-engine/internal/model"
)

func TestShard_IsDeterministicAndBounded(t *testing.T) {
	s1 := Shard("agent-42")
	s2 := Shard("agent-42")
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 5) // "d0-df"
}

func TestTaskDir_Shape(t *testing.T) {
	r := New("/data/root")
	dir := r.TaskDir("agent-1", "task-1", model.StatusPending)
	assert.Contains(t, dir, "/agents/")
	assert.Contains(t, dir, "/tasks/pending/task-1")
}

func TestArchiveTaskDir_UsesCompletionMonth(t *testing.T) {
	r := New("/data/root")
	completed := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	dir := r.ArchiveTaskDir("agent-1", "task-1", completed)
	assert.Contains(t, dir, "/tasks/archive/2024-01/task-1")
}

func TestArchiveTaskDir_MonthBoundary(t *testing.T) {
	r := New("/data/root")
	a := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	b := time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC)
	dirA := r.ArchiveTaskDir("agent-1", "t1", a)
	dirB := r.ArchiveTaskDir("agent-1", "t2", b)
	assert.Contains(t, dirA, "archive/2024-01/")
	assert.Contains(t, dirB, "archive/2024-02/")
}

func TestInboxMessagePath_UnreadVsRead(t *testing.T) {
	r := New("/data/root")
	unread := r.InboxMessagePath("agent-1", "m1", false)
	read := r.InboxMessagePath("agent-1", "m1", true)
	assert.Contains(t, unread, "/inbox/unread/m1.md")
	assert.Contains(t, read, "/inbox/read/m1.md")
}

func TestStatusSiblings_CoversNonArchivedStatuses(t *testing.T) {
	r := New("/data/root")
	siblings := r.StatusSiblings("agent-1", "task-1")
	assert.Len(t, siblings, 4)
}
