// Package pathresolver maps agents, tasks, and statuses onto canonical
// workspace paths. It is a pure function library: no component other than
// this one constructs a workspace path.
package pathresolver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// Resolver resolves canonical on-disk paths rooted at Root. It holds no
// mutable state and performs no I/O.
type Resolver struct {
	Root string
}

func New(root string) *Resolver {
	return &Resolver{Root: root}
}

// Shard returns the short deterministic prefix used to bound directory
// fanout under agents/, grouping agent ids into 16 buckets by the high
// nibble of the first hash byte, e.g. "d0-df".
func Shard(agentID string) string {
	sum := sha256.Sum256([]byte(agentID))
	nibble := sum[0] >> 4
	return fmt.Sprintf("%x0-%xf", nibble, nibble)
}

// hashHex returns the full hex SHA-256 digest of agentID, the hash whose
// first byte Shard uses.
func hashHex(agentID string) string {
	sum := sha256.Sum256([]byte(agentID))
	return hex.EncodeToString(sum[:])
}

// AgentDir returns <root>/agents/<shard>/<agent_id>.
func (r *Resolver) AgentDir(agentID string) string {
	return filepath.Join(r.Root, "agents", Shard(agentID), agentID)
}

// TaskStatusDir returns the directory that holds every task currently in
// the given non-archived status for an agent, e.g. tasks/pending.
func (r *Resolver) TaskStatusDir(agentID string, status model.Status) string {
	return filepath.Join(r.AgentDir(agentID), "tasks", string(status))
}

// TaskDir returns the full per-task directory for a non-archived status.
// Callers needing the archived location must use ArchiveTaskDir, since
// archival additionally requires the completion month.
func (r *Resolver) TaskDir(agentID, taskID string, status model.Status) string {
	return filepath.Join(r.TaskStatusDir(agentID, status), taskID)
}

// ArchiveMonth formats the YYYY-MM directory component derived from a
// task's completion time, per section 4.1.
func ArchiveMonth(completedAt time.Time) string {
	return completedAt.UTC().Format("2006-01")
}

// ArchiveTaskDir returns <root>/agents/<shard>/<agent>/tasks/archive/<YYYY-MM>/<task_id>
// for the uncompressed archived directory.
func (r *Resolver) ArchiveTaskDir(agentID, taskID string, completedAt time.Time) string {
	return filepath.Join(r.AgentDir(agentID), "tasks", "archive", ArchiveMonth(completedAt), taskID)
}

// ArchiveTarball returns the path of the compaction artifact for an
// archived task directory.
func (r *Resolver) ArchiveTarball(agentID, taskID string, completedAt time.Time) string {
	return r.ArchiveTaskDir(agentID, taskID, completedAt) + ".tar.gz"
}

// InboxDir returns <root>/agents/<shard>/<agent>/inbox.
func (r *Resolver) InboxDir(agentID string) string {
	return filepath.Join(r.AgentDir(agentID), "inbox")
}

// InboxMessagePath returns the path of a message body under unread or read.
func (r *Resolver) InboxMessagePath(agentID, msgID string, read bool) string {
	sub := "unread"
	if read {
		sub = "read"
	}
	return filepath.Join(r.InboxDir(agentID), sub, msgID+".md")
}

// AgentLogPath returns the rotating per-agent execution log file path.
func (r *Resolver) AgentLogPath(agentID string) string {
	return filepath.Join(r.AgentDir(agentID), "agent.log")
}

// AnalysisPath returns the opaque per-analysis artifact path for the
// out-of-scope multi-perspective analyzer; the core never reads its
// contents, only allocates the slot.
func (r *Resolver) AnalysisPath(agentID, isoTimestampSafe string) string {
	return filepath.Join(r.AgentDir(agentID), "analyses", isoTimestampSafe+".json")
}

// StatusSiblings lists every non-archived status directory for an agent's
// task, in the order move_dir's search fallback should probe them.
func (r *Resolver) StatusSiblings(agentID, taskID string) []string {
	statuses := []model.Status{
		model.StatusPending,
		model.StatusInProgress,
		model.StatusBlocked,
		model.StatusCompleted,
	}
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, r.TaskDir(agentID, taskID, s))
	}
	return out
}

// PlanFile, ProgressFile, SubtasksFile, and ContextFile return the fixed
// filenames the Materializer writes inside a task directory.
func PlanFile(taskDir string) string      { return filepath.Join(taskDir, "plan.md") }
func ProgressFile(taskDir string) string  { return filepath.Join(taskDir, "progress.md") }
func SubtasksFile(taskDir string) string  { return filepath.Join(taskDir, "subtasks.md") }
func ContextFile(taskDir string) string   { return filepath.Join(taskDir, "context.json") }
