package workspace

import (
	"time"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// ContextDocument is the machine-readable projection of a task written to
// context.json. It is the stable schema from section 6.2: unknown keys
// must be ignored by readers and empty collections are never emitted as
// null. Progress and hierarchy fields are derived from the task's
// canonical fields (PercentComplete/SubtasksCompleted/SubtasksTotal and
// Depth/ParentTaskID) rather than stored a second time, resolving the
// spec's open question about divergent progress/depth representations.
type ContextDocument struct {
	Task       TaskSummary       `json:"task"`
	Hierarchy  HierarchySummary  `json:"hierarchy"`
	Delegation DelegationSummary `json:"delegation"`
	Progress   ProgressSummary   `json:"progress"`
	Context    ContextSummary    `json:"context"`
	Execution  ExecutionSummary  `json:"execution"`
}

type TaskSummary struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	Title     string          `json:"title"`
	Priority  model.Priority  `json:"priority"`
	Status    model.Status    `json:"status"`
	CreatedAt string          `json:"created_at"`
	Version   int             `json:"version"`
}

type HierarchySummary struct {
	ParentTaskID *string `json:"parent_task_id"`
	Depth        int     `json:"depth"`
	TaskPath     string  `json:"task_path"`
}

type DelegationSummary struct {
	DelegatedTo *string `json:"delegated_to"`
	DelegatedAt *string `json:"delegated_at"`
}

type ProgressSummary struct {
	PercentComplete   int        `json:"percent_complete"`
	SubtasksCompleted int        `json:"subtasks_completed"`
	SubtasksTotal     int        `json:"subtasks_total"`
	BlockedBy         []string   `json:"blocked_by"`
	BlockedSince      *string    `json:"blocked_since"`
}

type ContextSummary struct {
	StartedAt   *string `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
	LastUpdated string  `json:"last_updated"`
}

type ExecutionSummary struct {
	LastExecuted   *string `json:"last_executed"`
	ExecutionCount int     `json:"execution_count"`
}

// BuildContext projects a task into its ContextDocument. The Materializer
// calls this both on initial creation and whenever an idempotent refresh is
// requested.
func BuildContext(t *model.Task) ContextDocument {
	blockedBy := t.BlockedBy
	if blockedBy == nil {
		blockedBy = []string{}
	}
	return ContextDocument{
		Task: TaskSummary{
			ID:        t.ID,
			AgentID:   t.AgentID,
			Title:     t.Title,
			Priority:  t.Priority,
			Status:    t.Status,
			CreatedAt: formatTime(&t.CreatedAt),
			Version:   t.Version,
		},
		Hierarchy: HierarchySummary{
			ParentTaskID: t.ParentTaskID,
			Depth:        t.Depth,
			TaskPath:     t.TaskPath,
		},
		Delegation: DelegationSummary{
			DelegatedTo: t.DelegatedTo,
			DelegatedAt: formatTimePtr(t.DelegatedAt),
		},
		Progress: ProgressSummary{
			PercentComplete:   t.PercentComplete,
			SubtasksCompleted: t.SubtasksCompleted,
			SubtasksTotal:     t.SubtasksTotal,
			BlockedBy:         blockedBy,
			BlockedSince:      formatTimePtr(t.BlockedSince),
		},
		Context: ContextSummary{
			StartedAt:   formatTimePtr(t.StartedAt),
			CompletedAt: formatTimePtr(t.CompletedAt),
			LastUpdated: formatTime(&t.LastUpdated),
		},
		Execution: ExecutionSummary{
			LastExecuted:   formatTimePtr(t.LastExecuted),
			ExecutionCount: t.ExecutionCount,
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(t)
	return &s
}
