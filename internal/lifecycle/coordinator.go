// Package lifecycle composes the task store and workspace materializer
// into the atomic operations external callers invoke: create, start,
// delegate, block, unblock, complete. Every operation follows the same
// skeleton — store transition first, then filesystem move, then
// notification — so a filesystem failure after a committed transition
// never leaves the store out of sync with itself, only with its derived
// directory, which is reconciled on next touch.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/lifecycle-engine/internal/agentlog"
	"github.com/swarmguard/lifecycle-engine/internal/messagebus"
	"github.com/swarmguard/lifecycle-engine/internal/model"
	"github.com/swarmguard/lifecycle-engine/internal/orgdirectory"
	"github.com/swarmguard/lifecycle-engine/internal/pathresolver"
	"github.com/swarmguard/lifecycle-engine/internal/resilience"
	"github.com/swarmguard/lifecycle-engine/internal/taskstore"
	"github.com/swarmguard/lifecycle-engine/internal/workspace"
)

// Coordinator is constructed once at startup with every dependency it
// needs, per the design note against singleton stores: no package-level
// globals, everything explicit.
type Coordinator struct {
	store        *taskstore.Store
	materializer *workspace.Materializer
	bus          *messagebus.Bus
	directory    orgdirectory.Directory
	resolver     *pathresolver.Resolver
	agentLogs    *agentlog.Writers
	rollupPolicy resilience.RetryPolicy
	retryCounter metric.Int64Counter
	cancels      *CancellationManager
	log          *slog.Logger
	now          func() time.Time
}

// NewCoordinator wires the components. retryCounter may be nil in tests.
// resolver/agentLogs may both be nil, in which case per-agent execution
// logging is skipped (used by tests that don't exercise that concern).
func NewCoordinator(store *taskstore.Store, materializer *workspace.Materializer, bus *messagebus.Bus, directory orgdirectory.Directory, resolver *pathresolver.Resolver, agentLogs *agentlog.Writers, retryCounter metric.Int64Counter, log *slog.Logger) *Coordinator {
	return &Coordinator{
		store:        store,
		materializer: materializer,
		bus:          bus,
		directory:    directory,
		resolver:     resolver,
		agentLogs:    agentLogs,
		rollupPolicy: resilience.DefaultRollupPolicy(),
		retryCounter: retryCounter,
		cancels:      NewCancellationManager(),
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// agentLog returns the rotating per-agent execution logger for agentID, or
// nil if per-agent logging is not wired (tests, or a daemon started
// without a path resolver).
func (c *Coordinator) agentLog(agentID string) *slog.Logger {
	if c.agentLogs == nil || c.resolver == nil {
		return nil
	}
	return c.agentLogs.For(agentID, c.resolver.AgentLogPath(agentID))
}

// CreateSpec is the caller-facing request shape for Create.
type CreateSpec struct {
	ID           string // optional; generated if empty
	Title        string
	Priority     model.Priority
	ParentTaskID *string
	Description  string
	Goals        []string
	Approach     string
	Dependencies []string
	Subtasks     []string
}

// Create stores the task and then materializes its pending directory.
func (c *Coordinator) Create(ctx context.Context, agentID string, spec CreateSpec) (*model.Task, error) {
	op := c.cancels.Register("create:" + agentID)
	defer c.cancels.Complete(op)

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	task, err := c.store.Create(ctx, taskstore.CreateInput{
		ID:            id,
		AgentID:       agentID,
		Title:         spec.Title,
		Priority:      spec.Priority,
		ParentTaskID:  spec.ParentTaskID,
		SubtasksTotal: len(spec.Subtasks),
		Now:           c.now(),
	})
	if err != nil {
		return nil, err
	}

	if err := checkCancelled(ctx); err != nil {
		return task, err
	}

	if err := c.materializer.Create(task, workspace.CreateSpec{
		Description:  spec.Description,
		Goals:        spec.Goals,
		Approach:     spec.Approach,
		Dependencies: spec.Dependencies,
		Subtasks:     spec.Subtasks,
	}); err != nil {
		if c.log != nil {
			c.log.Error("materialize create failed", "task", task.ID, "error", err)
		}
		return task, err
	}
	if l := c.agentLog(agentID); l != nil {
		l.Info("task created", "task", task.ID, "title", task.Title, "priority", task.Priority)
	}
	return task, nil
}

// Start transitions a task to in_progress and moves pending -> in_progress.
func (c *Coordinator) Start(ctx context.Context, id string, expectedVersion int) (*model.Task, error) {
	return c.transitionAndMove(ctx, id, expectedVersion, model.StatusInProgress, nil)
}

// Block transitions a task to blocked with the given wait-for set.
func (c *Coordinator) Block(ctx context.Context, id string, expectedVersion int, blockedBy []string) (*model.Task, error) {
	return c.transitionAndMove(ctx, id, expectedVersion, model.StatusBlocked, blockedBy)
}

// Unblock requires the task's blocked_by to already be empty and moves it
// back to in_progress.
func (c *Coordinator) Unblock(ctx context.Context, id string, expectedVersion int) (*model.Task, error) {
	current, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(current.BlockedBy) != 0 {
		return nil, model.NewErrorf(model.KindInvariantViolated, "task %s still has blocked_by set: %v", id, current.BlockedBy)
	}
	return c.transitionAndMove(ctx, id, expectedVersion, model.StatusInProgress, nil)
}

func (c *Coordinator) transitionAndMove(ctx context.Context, id string, expectedVersion int, target model.Status, blockedBy []string) (*model.Task, error) {
	op := c.cancels.Register("transition:" + id)
	defer c.cancels.Complete(op)

	before, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	after, err := c.store.Transition(ctx, id, expectedVersion, target, taskstore.TransitionExtras{BlockedBy: blockedBy, Now: c.now()})
	if err != nil {
		return nil, err
	}

	if err := checkCancelled(ctx); err != nil {
		// The store commit already happened; surface interruption but do
		// not attempt the filesystem move.
		return after, err
	}

	if err := c.materializer.MoveToStatus(after, before.Status); err != nil {
		if c.log != nil {
			c.log.Error("workspace move failed", "task", id, "from", before.Status, "to", target, "error", err)
		}
		return after, err
	}
	if l := c.agentLog(after.AgentID); l != nil {
		l.Info("task transitioned", "task", after.ID, "from", before.Status, "to", after.Status)
	}
	return after, nil
}

// Delegate records the new delegate and notifies them, honoring their
// preference unless force is true.
func (c *Coordinator) Delegate(ctx context.Context, id string, expectedVersion int, delegateTo string, force bool) (*model.Task, error) {
	op := c.cancels.Register("delegate:" + id)
	defer c.cancels.Complete(op)

	task, err := c.store.Delegate(ctx, id, expectedVersion, delegateTo, c.now())
	if err != nil {
		return nil, err
	}

	fromAgent, _ := c.directory.GetAgent(ctx, task.AgentID)
	_, _, sendErr := c.bus.SendIfAllowed(ctx, messagebus.SendInput{
		FromAgent:    task.AgentID,
		FromDisplay:  fromAgent.DisplayName,
		ToAgent:      delegateTo,
		TaskID:       task.ID,
		TaskTitle:    task.Title,
		TaskStatus:   task.Status,
		TaskPath:     task.TaskPath,
		ParentTaskID: task.ParentTaskID,
		Subject:      "Task delegated: " + task.Title,
		Priority:     model.TaskPriorityToMessagePriority(task.Priority),
		ActionRequired: true,
		ThreadID:     "task-" + task.ID,
		Instructions: "You have been delegated this task. Review the plan and begin work.",
	}, force, func(p model.CommunicationPreferences) bool { return p.NotifyOnDelegation })
	if sendErr != nil && c.log != nil {
		c.log.Warn("delegation notification failed", "task", task.ID, "error", sendErr)
	}
	if l := c.agentLog(task.AgentID); l != nil {
		l.Info("task delegated", "task", task.ID, "to", delegateTo, "forced", force)
	}
	return task, nil
}
