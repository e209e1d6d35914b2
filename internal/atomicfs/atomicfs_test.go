package atomicfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swarmguard/lifecycle-engine/internal/model"
)

func TestWriteAtomic_CreatesParentsAndWrites(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "plan.md")
	require.NoError(t, WriteAtomic(target, []byte("hello")))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestWriteAtomic_LeavesNoTempFilesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.txt")
	require.NoError(t, WriteAtomic(target, []byte("x")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.txt", entries[0].Name())
}

func TestWriteAtomic_TargetUntouchedOnFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.txt")
	require.NoError(t, WriteAtomic(target, []byte("original")))

	// Writing to a path whose parent cannot be created (a file, not a dir)
	// must fail without touching the pre-existing sibling file.
	badParent := filepath.Join(dir, "file.txt", "nested", "x.md")
	err := WriteAtomic(badParent, []byte("new"))
	require.Error(t, err)

	data, rerr := os.ReadFile(target)
	require.NoError(t, rerr)
	assert.Equal(t, "original", string(data))
}

func TestMoveDir_SimpleRename(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst", "nested")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "f.txt"), []byte("v"), 0o644))

	require.NoError(t, MoveDir(src, dst, nil))
	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(filepath.Join(dst, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
}

func TestMoveDir_ReplacesExistingDestination(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(dst, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "stale.txt"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "fresh.txt"), []byte("new"), 0o644))

	require.NoError(t, MoveDir(src, dst, nil))
	_, err := os.Stat(filepath.Join(dst, "stale.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dst, "fresh.txt"))
	assert.NoError(t, err)
}

func TestMoveDir_SearchFallbackFindsSibling(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "in_progress", "task-1")
	sibling := filepath.Join(root, "blocked", "task-1")
	dst := filepath.Join(root, "completed", "task-1")
	require.NoError(t, os.MkdirAll(sibling, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sibling, "plan.md"), []byte("p"), 0o644))

	fallback := []string{
		filepath.Join(root, "pending", "task-1"),
		sibling,
	}
	require.NoError(t, MoveDir(missing, dst, fallback))
	_, err := os.Stat(filepath.Join(dst, "plan.md"))
	assert.NoError(t, err)
}

func TestMoveDir_NoMatchCreatesEmptyDestination(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "nowhere", "task-1")
	dst := filepath.Join(root, "completed", "task-1")

	require.NoError(t, MoveDir(missing, dst, []string{filepath.Join(root, "also-nowhere", "task-1")}))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestClassify_NotFound(t *testing.T) {
	_, err := os.Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	wrapped := classify(err, "open")
	var e *model.Error
	require.ErrorAs(t, wrapped, &e)
	assert.Equal(t, model.FsNotFound, e.Sub)
}
