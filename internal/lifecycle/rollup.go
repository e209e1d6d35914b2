package lifecycle

import (
	"context"

	"github.com/swarmguard/lifecycle-engine/internal/messagebus"
	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// Complete transitions a task to completed, moves its directory, and then
// performs the parent progress rollup. Completion notification failures
// are logged and swallowed; they never fail the completion itself.
func (c *Coordinator) Complete(ctx context.Context, id string, expectedVersion int) (*model.Task, error) {
	task, err := c.transitionAndMove(ctx, id, expectedVersion, model.StatusCompleted, nil)
	if err != nil {
		return task, err
	}

	if task.ParentTaskID != nil {
		if rollupErr := c.rollupAncestors(ctx, *task.ParentTaskID); rollupErr != nil && c.log != nil {
			c.log.Error("parent rollup failed", "task", task.ID, "parent", *task.ParentTaskID, "error", rollupErr)
		}
	}
	return task, nil
}

// rollupAncestors walks parent_task_id upward from the given starting
// ancestor, recomputing each ancestor's subtasks_completed/percent_complete
// where subtasks_total > 0, retrying each ancestor's update under bounded
// retry to absorb VersionMismatch from concurrent writers. The walk only
// ever moves upward and never holds more than one ancestor's row at a
// time, so it cannot deadlock against another rollup.
func (c *Coordinator) rollupAncestors(ctx context.Context, startAncestorID string) error {
	currentID := startAncestorID
	for currentID != "" {
		ancestor, err := c.store.Get(ctx, currentID)
		if err != nil {
			return err
		}

		if ancestor.SubtasksTotal > 0 {
			if err := c.rollupOne(ctx, currentID); err != nil {
				return err
			}
			if notifyErr := c.notifyParentOfCompletion(ctx, currentID); notifyErr != nil && c.log != nil {
				c.log.Warn("completion notification failed", "parent", currentID, "error", notifyErr)
			}
		}

		if ancestor.ParentTaskID == nil {
			return nil
		}
		currentID = *ancestor.ParentTaskID
	}
	return nil
}

func (c *Coordinator) rollupOne(ctx context.Context, ancestorID string) error {
	return retryOnVersionMismatch(ctx, c.rollupPolicy, c.retryCounter, func() error {
		ancestor, err := c.store.Get(ctx, ancestorID)
		if err != nil {
			return err
		}
		children, err := c.store.ListChildren(ctx, ancestorID)
		if err != nil {
			return err
		}
		completed := 0
		for _, child := range children {
			if child.Status == model.StatusCompleted || child.Status == model.StatusArchived {
				completed++
			}
		}
		total := ancestor.SubtasksTotal
		percent := 0
		if total > 0 {
			percent = int(roundHalfAwayFromZero(100 * float64(completed) / float64(total)))
		}
		_, err = c.store.UpdateRollup(ctx, ancestorID, ancestor.Version, completed, total, percent, c.now())
		return err
	})
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return float64(int(v + 0.5))
	}
	return -float64(int(-v + 0.5))
}

func (c *Coordinator) notifyParentOfCompletion(ctx context.Context, parentID string) error {
	parent, err := c.store.Get(ctx, parentID)
	if err != nil {
		return err
	}
	fromAgent, _ := c.directory.GetAgent(ctx, parent.AgentID)
	_, _, err = c.bus.SendIfAllowed(ctx, messagebus.SendInput{
		FromAgent:      parent.AgentID,
		FromDisplay:    fromAgent.DisplayName,
		ToAgent:        parent.AgentID,
		TaskID:         parent.ID,
		TaskTitle:      parent.Title,
		TaskStatus:     parent.Status,
		TaskPath:       parent.TaskPath,
		Subject:        "Subtask completed: progress update for " + parent.Title,
		Priority:       model.TaskPriorityToMessagePriority(parent.Priority),
		ActionRequired: false,
		ThreadID:       "task-" + parent.ID,
		Instructions:   "A subtask completed; progress has been updated.",
	}, false, func(p model.CommunicationPreferences) bool { return p.NotifyOnCompletion })
	return err
}
