// Package workspace mirrors a task's store state as a directory tree of
// plan.md, progress.md, subtasks.md, and context.json, and moves that
// directory wholesale between status folders on transitions. No other
// component constructs these paths or emits these four files.
package workspace

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/swarmguard/lifecycle-engine/internal/atomicfs"
	"github.com/swarmguard/lifecycle-engine/internal/model"
	"github.com/swarmguard/lifecycle-engine/internal/pathresolver"
)

// CreateSpec carries the narrative inputs a caller may supply at task
// creation; all are optional and rendered into plan.md/subtasks.md.
type CreateSpec struct {
	Description  string
	Goals        []string
	Approach     string
	Dependencies []string
	Subtasks     []string
}

// Materializer renders and moves per-task workspace directories.
type Materializer struct {
	resolver *pathresolver.Resolver
	log      *slog.Logger
}

func New(resolver *pathresolver.Resolver, log *slog.Logger) *Materializer {
	return &Materializer{resolver: resolver, log: log}
}

// Create writes all four files for a freshly created task into its pending
// directory, as a single batch with atomicfs's crash-consistency
// guarantees on each file.
func (m *Materializer) Create(t *model.Task, spec CreateSpec) error {
	dir := m.resolver.TaskDir(t.AgentID, t.ID, model.StatusPending)
	return m.writeAll(dir, t, spec)
}

func (m *Materializer) writeAll(dir string, t *model.Task, spec CreateSpec) error {
	if err := atomicfs.WriteAtomic(pathresolver.PlanFile(dir), renderPlan(t, spec)); err != nil {
		return err
	}
	if err := atomicfs.WriteAtomic(pathresolver.ProgressFile(dir), renderProgress(t)); err != nil {
		return err
	}
	if err := atomicfs.WriteAtomic(pathresolver.SubtasksFile(dir), renderSubtasks(spec.Subtasks)); err != nil {
		return err
	}
	ctxBytes, err := json.MarshalIndent(BuildContext(t), "", "  ")
	if err != nil {
		return model.NewFsError(model.FsOther, "marshal context.json", err)
	}
	return atomicfs.WriteAtomic(pathresolver.ContextFile(dir), ctxBytes)
}

// MoveToStatus moves the per-task directory from its current status
// location to the one matching t.Status, using the search fallback across
// every non-archived sibling directory so a drifted directory is still
// found. File contents other than context.json are never rewritten here;
// narrative edits are left to agents.
func (m *Materializer) MoveToStatus(t *model.Task, fromStatus model.Status) error {
	src := m.resolver.TaskDir(t.AgentID, t.ID, fromStatus)
	var dst string
	if t.Status == model.StatusArchived {
		completedAt := time.Now().UTC()
		if t.CompletedAt != nil {
			completedAt = *t.CompletedAt
		}
		dst = m.resolver.ArchiveTaskDir(t.AgentID, t.ID, completedAt)
	} else {
		dst = m.resolver.TaskDir(t.AgentID, t.ID, t.Status)
	}
	fallback := m.resolver.StatusSiblings(t.AgentID, t.ID)
	if err := atomicfs.MoveDir(src, dst, fallback); err != nil {
		return err
	}
	return m.RefreshContext(t)
}

// RefreshContext re-emits context.json from the task's current state. It is
// idempotent and safe to call any time the projection may be stale.
func (m *Materializer) RefreshContext(t *model.Task) error {
	dir := m.currentDir(t)
	ctxBytes, err := json.MarshalIndent(BuildContext(t), "", "  ")
	if err != nil {
		return model.NewFsError(model.FsOther, "marshal context.json", err)
	}
	return atomicfs.WriteAtomic(pathresolver.ContextFile(dir), ctxBytes)
}

func (m *Materializer) currentDir(t *model.Task) string {
	if t.Status == model.StatusArchived {
		completedAt := time.Now().UTC()
		if t.CompletedAt != nil {
			completedAt = *t.CompletedAt
		}
		return m.resolver.ArchiveTaskDir(t.AgentID, t.ID, completedAt)
	}
	return m.resolver.TaskDir(t.AgentID, t.ID, t.Status)
}
