// Package monitor is the cooperative periodic driver: on each tick it runs
// the archival sweep, the compaction sweep, and the deadlock sweep in
// sequence, per section 4.9. Each sub-step is independently retryable in
// the sense that a failure in one never prevents the others from running on
// the same or a later tick.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/lifecycle-engine/internal/archival"
	"github.com/swarmguard/lifecycle-engine/internal/deadlock"
	"github.com/swarmguard/lifecycle-engine/internal/messagebus"
	"github.com/swarmguard/lifecycle-engine/internal/model"
	"github.com/swarmguard/lifecycle-engine/internal/orgdirectory"
	"github.com/swarmguard/lifecycle-engine/internal/taskstore"
)

// Thresholds bounds how aged a task must be before each sweep acts on it.
type Thresholds struct {
	ArchiveOlderThanDays  int
	CompressOlderThanDays int
}

// DefaultThresholds matches the spec's suggested 7/90 day defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{ArchiveOlderThanDays: 7, CompressOlderThanDays: 90}
}

// Report is the outcome of a single Tick, mirroring the deadlock sweep's
// report shape extended with the archival counts.
type Report struct {
	Archived            int
	Compressed          int
	DeadlocksDetected   int
	NotificationsSent   int
	DeadlockedTaskIDs   []string
	Cycles              []deadlock.Cycle
}

// Monitor wires the archival engine, the task store, the message bus, and a
// cron scheduler into the periodic driver described in section 4.9.
type Monitor struct {
	store      *taskstore.Store
	archiver   *archival.Engine
	bus        *messagebus.Bus
	directory  orgdirectory.Directory
	thresholds Thresholds
	cron       *cron.Cron
	log        *slog.Logger
	tracer     trace.Tracer
}

func New(store *taskstore.Store, archiver *archival.Engine, bus *messagebus.Bus, directory orgdirectory.Directory, thresholds Thresholds, log *slog.Logger) *Monitor {
	return &Monitor{
		store:      store,
		archiver:   archiver,
		bus:        bus,
		directory:  directory,
		thresholds: thresholds,
		cron:       cron.New(cron.WithSeconds()),
		log:        log,
		tracer:     otel.Tracer("lifecycle-monitor"),
	}
}

// Start registers Tick on the given cron expression and begins running it
// in the background. Stop must be called to release the cron goroutine.
func (m *Monitor) Start(ctx context.Context, cronExpr string) error {
	_, err := m.cron.AddFunc(cronExpr, func() {
		if _, err := m.Tick(context.Background()); err != nil && m.log != nil {
			m.log.Error("monitor tick failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop waits for the in-flight tick (if any) to finish, bounded by ctx.
func (m *Monitor) Stop(ctx context.Context) error {
	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs the three sweeps in sequence. Each step's failure is recorded
// in the returned error slot but never prevents the next step from running.
func (m *Monitor) Tick(ctx context.Context) (Report, error) {
	ctx, span := m.tracer.Start(ctx, "monitor.tick")
	defer span.End()

	var report Report
	var firstErr error

	archived, err := m.archiver.ArchiveOld(ctx, m.thresholds.ArchiveOlderThanDays)
	report.Archived = archived
	if err != nil {
		firstErr = err
		if m.log != nil {
			m.log.Error("archive sweep failed", "error", err)
		}
	}

	compressed, err := m.archiver.CompressOld(ctx, m.thresholds.CompressOlderThanDays)
	report.Compressed = compressed
	if err != nil && firstErr == nil {
		firstErr = err
	}
	if err != nil && m.log != nil {
		m.log.Error("compress sweep failed", "error", err)
	}

	dlReport, err := m.runDeadlockSweep(ctx)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	report.DeadlocksDetected = dlReport.DeadlocksDetected
	report.NotificationsSent = dlReport.NotificationsSent
	report.DeadlockedTaskIDs = dlReport.DeadlockedTaskIDs
	report.Cycles = dlReport.Cycles

	span.SetAttributes(
		attribute.Int("archived", report.Archived),
		attribute.Int("compressed", report.Compressed),
		attribute.Int("deadlocks_detected", report.DeadlocksDetected),
	)
	return report, firstErr
}

type deadlockReport struct {
	deadlock.SweepResult
	NotificationsSent int
}

// runDeadlockSweep enumerates blocked tasks, finds deduplicated cycles, and
// sends exactly one notification per participating agent per cycle, all
// sharing that cycle's deterministic thread id. An agent owning more than
// one task in the same cycle still gets a single notification, naming its
// own tasks among the cycle's members.
func (m *Monitor) runDeadlockSweep(ctx context.Context) (deadlockReport, error) {
	blocked, err := m.store.AllBlockedTasks(ctx)
	if err != nil {
		return deadlockReport{}, err
	}
	result := deadlock.Sweep(blocked)
	report := deadlockReport{SweepResult: result}

	for _, cycle := range result.Cycles {
		threadID := deadlock.ThreadID(cycle)

		agentOrder := make([]string, 0, len(cycle.Nodes))
		agentTasks := map[string][]string{}
		for _, taskID := range cycle.Nodes {
			task, ok := blocked[taskID]
			if !ok {
				continue
			}
			if _, seen := agentTasks[task.AgentID]; !seen {
				agentOrder = append(agentOrder, task.AgentID)
			}
			agentTasks[task.AgentID] = append(agentTasks[task.AgentID], taskID)
		}
		sort.Strings(agentOrder)

		for _, agentID := range agentOrder {
			taskIDs := agentTasks[agentID]
			primary := blocked[taskIDs[0]]
			_, sent, sendErr := m.bus.SendIfAllowed(ctx, messagebus.SendInput{
				FromAgent:      "lifecycle-monitor",
				FromDisplay:    "Lifecycle Monitor",
				ToAgent:        agentID,
				TaskID:         primary.ID,
				TaskTitle:      primary.Title,
				TaskStatus:     primary.Status,
				TaskPath:       primary.TaskPath,
				Subject:        "Deadlock detected involving task " + strings.Join(taskIDs, ", "),
				Priority:       model.MessagePriorityUrgent,
				ActionRequired: true,
				ThreadID:       threadID,
				Instructions:   "This task is part of a wait-for cycle. Clear blocked_by on one of the listed tasks to break it.",
				DeadlockCycle:  cycle.Nodes,
			}, false, func(p model.CommunicationPreferences) bool { return p.NotifyOnDeadlock })
			if sendErr != nil {
				if m.log != nil {
					m.log.Warn("deadlock notification failed", "agent", agentID, "error", sendErr)
				}
				continue
			}
			if sent {
				report.NotificationsSent++
			}
		}
	}
	return report, nil
}
