// Package taskstore is the durable record of every task and message: an
// embedded, transactional, single-writer key-value store (BoltDB) with
// row-level atomicity. Every mutating operation is exactly one transaction.
// Optimistic concurrency via the task's version field is the only
// correctness barrier against dueling writers; the store never takes a
// lock that outlives a single call.
package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

var (
	bucketTasks         = []byte("tasks")
	bucketMessages      = []byte("messages")
	bucketTaskHistory   = []byte("task_history")
	bucketChildrenIndex = []byte("children_index")
	bucketThreadIndex   = []byte("thread_index")
)

// Store wraps a BoltDB handle with a hot read cache, mirroring the
// teacher's workflow store: reads check the cache first and every write
// stores the freshly committed row in it, so the cache always holds the
// last committed version and never acts as a second source of truth.
type Store struct {
	db *bbolt.DB
	mu sync.RWMutex

	taskCache map[string]*model.Task

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
}

// Options configures instrument wiring; a nil Meter yields no-op
// instruments so the store works in tests without a configured provider.
type Options struct {
	Meter metric.Meter
}

func Open(path string, opts Options) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, model.NewFsError(model.FsOther, fmt.Sprintf("open task store at %s", path), err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketTasks, bucketMessages, bucketTaskHistory, bucketChildrenIndex, bucketThreadIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, model.NewFsError(model.FsOther, "create task store buckets", err)
	}

	s := &Store{db: db, taskCache: make(map[string]*model.Task)}
	if opts.Meter != nil {
		s.readLatency, _ = opts.Meter.Float64Histogram("lifecycle_taskstore_read_ms")
		s.writeLatency, _ = opts.Meter.Float64Histogram("lifecycle_taskstore_write_ms")
		s.cacheHits, _ = opts.Meter.Int64Counter("lifecycle_taskstore_cache_hits_total")
		s.cacheMisses, _ = opts.Meter.Int64Counter("lifecycle_taskstore_cache_misses_total")
	}
	if err := s.warmCache(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) warmCache() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var t model.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			s.taskCache[t.ID] = &t
			return nil
		})
	})
}

func (s *Store) recordRead(ctx context.Context, op string, start time.Time) {
	if s.readLatency != nil {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("operation", op)))
	}
}

func (s *Store) recordWrite(ctx context.Context, op string, start time.Time) {
	if s.writeLatency != nil {
		s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("operation", op)))
	}
}

// CreateInput is the caller-supplied shape for a new task.
type CreateInput struct {
	ID             string
	AgentID        string
	Title          string
	Priority       model.Priority
	ParentTaskID   *string
	SubtasksTotal  int
	Now            time.Time
}

// Create assigns status=pending, version=1, percent_complete=0, and derives
// depth from the parent if one is given.
func (s *Store) Create(ctx context.Context, in CreateInput) (*model.Task, error) {
	start := time.Now()
	defer s.recordWrite(ctx, "create", start)
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &model.Task{
		ID:            in.ID,
		AgentID:       in.AgentID,
		Title:         in.Title,
		Priority:      in.Priority,
		Status:        model.StatusPending,
		CreatedAt:     in.Now,
		LastUpdated:   in.Now,
		Version:       1,
		SubtasksTotal: in.SubtasksTotal,
		BlockedBy:     nil,
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if in.ParentTaskID != nil {
			parentData := tx.Bucket(bucketTasks).Get([]byte(*in.ParentTaskID))
			if parentData == nil {
				return model.NewErrorf(model.KindParentNotFound, "parent task %s not found", *in.ParentTaskID)
			}
			var parent model.Task
			if err := json.Unmarshal(parentData, &parent); err != nil {
				return model.NewFsError(model.FsOther, "decode parent task", err)
			}
			task.ParentTaskID = in.ParentTaskID
			task.Depth = parent.Depth + 1
			task.TaskPath = parent.TaskPath + "/" + task.ID
		} else {
			task.TaskPath = task.ID
		}

		data, err := json.Marshal(task)
		if err != nil {
			return model.NewFsError(model.FsOther, "marshal task", err)
		}
		if err := tx.Bucket(bucketTasks).Put([]byte(task.ID), data); err != nil {
			return err
		}
		if task.ParentTaskID != nil {
			return addChildIndexEntry(tx, *task.ParentTaskID, task.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.taskCache[task.ID] = task.Clone()
	return task.Clone(), nil
}

func addChildIndexEntry(tx *bbolt.Tx, parentID, childID string) error {
	key := []byte(parentID + ":" + childID)
	return tx.Bucket(bucketChildrenIndex).Put(key, []byte(childID))
}

// Get reads a task by id, preferring the hot cache.
func (s *Store) Get(ctx context.Context, id string) (*model.Task, error) {
	start := time.Now()
	defer s.recordRead(ctx, "get", start)

	s.mu.RLock()
	if t, ok := s.taskCache[id]; ok {
		s.mu.RUnlock()
		if s.cacheHits != nil {
			s.cacheHits.Add(ctx, 1)
		}
		return t.Clone(), nil
	}
	s.mu.RUnlock()
	if s.cacheMisses != nil {
		s.cacheMisses.Add(ctx, 1)
	}

	var task model.Task
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, model.NewFsError(model.FsOther, "read task", err)
	}
	if !found {
		return nil, model.NewErrorf(model.KindTaskNotFound, "task %s not found", id)
	}

	s.mu.Lock()
	s.taskCache[id] = task.Clone()
	s.mu.Unlock()
	return task.Clone(), nil
}

// TransitionExtras carries the status-specific fields a transition may set.
type TransitionExtras struct {
	BlockedBy []string
	Now       time.Time
}

// transitionLocked performs the re-read/validate/write/history/cache dance
// common to every mutating operation. mutate receives the current row
// (already version-checked) and returns the row to persist.
func (s *Store) transitionLocked(ctx context.Context, id string, expectedVersion int, mutate func(*model.Task) error) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *model.Task
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return model.NewErrorf(model.KindTaskNotFound, "task %s not found", id)
		}
		var current model.Task
		if err := json.Unmarshal(data, &current); err != nil {
			return model.NewFsError(model.FsOther, "decode task", err)
		}
		if current.Version != expectedVersion {
			return model.NewErrorf(model.KindVersionMismatch, "task %s: expected version %d, have %d", id, expectedVersion, current.Version)
		}

		// Preserve the pre-mutation row in task_history before applying.
		historyKey := []byte(fmt.Sprintf("%s:%d:%d", id, current.Version, time.Now().UnixNano()))
		if err := tx.Bucket(bucketTaskHistory).Put(historyKey, data); err != nil {
			return err
		}

		next := current
		if err := mutate(&next); err != nil {
			return err
		}
		next.Version = current.Version + 1

		nextData, err := json.Marshal(&next)
		if err != nil {
			return model.NewFsError(model.FsOther, "marshal task", err)
		}
		if err := b.Put([]byte(id), nextData); err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.taskCache[id] = result.Clone()
	return result.Clone(), nil
}

// Transition validates and applies a status change per the status machine.
func (s *Store) Transition(ctx context.Context, id string, expectedVersion int, target model.Status, extras TransitionExtras) (*model.Task, error) {
	start := time.Now()
	defer s.recordWrite(ctx, "transition", start)

	now := extras.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return s.transitionLocked(ctx, id, expectedVersion, func(t *model.Task) error {
		if !model.CanTransition(t.Status, target) {
			return model.NewErrorf(model.KindInvalidTransition, "%s -> %s is not a legal transition", t.Status, target)
		}
		t.Status = target
		t.LastUpdated = now
		switch target {
		case model.StatusInProgress:
			if t.StartedAt == nil {
				startedAt := now
				t.StartedAt = &startedAt
			}
			t.BlockedBy = nil
			t.BlockedSince = nil
		case model.StatusBlocked:
			t.BlockedBy = append([]string(nil), extras.BlockedBy...)
			blockedSince := now
			t.BlockedSince = &blockedSince
		case model.StatusCompleted:
			completedAt := now
			t.CompletedAt = &completedAt
			t.BlockedBy = nil
			t.BlockedSince = nil
		case model.StatusArchived:
			// completed_at already set; no further field changes.
		}
		return nil
	})
}

// Delegate sets delegated_to/delegated_at without changing status.
func (s *Store) Delegate(ctx context.Context, id string, expectedVersion int, delegateTo string, now time.Time) (*model.Task, error) {
	start := time.Now()
	defer s.recordWrite(ctx, "delegate", start)
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.transitionLocked(ctx, id, expectedVersion, func(t *model.Task) error {
		t.DelegatedTo = &delegateTo
		delegatedAt := now
		t.DelegatedAt = &delegatedAt
		t.LastUpdated = now
		return nil
	})
}

// UpdateRollup applies a parent progress recomputation: it is a plain
// versioned mutation like any other, used by the Lifecycle Coordinator's
// bounded-retry rollup loop.
func (s *Store) UpdateRollup(ctx context.Context, id string, expectedVersion int, subtasksCompleted, subtasksTotal, percentComplete int, now time.Time) (*model.Task, error) {
	start := time.Now()
	defer s.recordWrite(ctx, "update_rollup", start)
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.transitionLocked(ctx, id, expectedVersion, func(t *model.Task) error {
		t.SubtasksCompleted = subtasksCompleted
		t.SubtasksTotal = subtasksTotal
		t.PercentComplete = percentComplete
		t.LastUpdated = now
		return nil
	})
}

// ListCompleted returns completed tasks, optionally filtered to those whose
// completed_at is before olderThan.
func (s *Store) ListCompleted(ctx context.Context, olderThan *time.Time) ([]*model.Task, error) {
	return s.scan(ctx, func(t *model.Task) bool {
		if t.Status != model.StatusCompleted {
			return false
		}
		if olderThan != nil && (t.CompletedAt == nil || !t.CompletedAt.Before(*olderThan)) {
			return false
		}
		return true
	})
}

// ListArchived returns archived tasks whose completed_at is before
// olderThan, used by the compaction sweep.
func (s *Store) ListArchived(ctx context.Context, olderThan *time.Time) ([]*model.Task, error) {
	return s.scan(ctx, func(t *model.Task) bool {
		if t.Status != model.StatusArchived {
			return false
		}
		if olderThan != nil && (t.CompletedAt == nil || !t.CompletedAt.Before(*olderThan)) {
			return false
		}
		return true
	})
}

// ListBlocked returns every task currently blocked, feeding the deadlock
// sweep's wait-for graph.
func (s *Store) ListBlocked(ctx context.Context) ([]*model.Task, error) {
	return s.scan(ctx, func(t *model.Task) bool { return t.Status == model.StatusBlocked })
}

// ListChildren returns every task whose parent_task_id is parentID.
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]*model.Task, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChildrenIndex)
		prefix := []byte(parentID + ":")
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			ids = append(ids, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, model.NewFsError(model.FsOther, "scan children index", err)
	}
	out := make([]*model.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) scan(ctx context.Context, pred func(*model.Task) bool) ([]*model.Task, error) {
	start := time.Now()
	defer s.recordRead(ctx, "scan", start)
	var out []*model.Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var t model.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			if pred(&t) {
				out = append(out, t.Clone())
			}
			return nil
		})
	})
	if err != nil {
		return nil, model.NewFsError(model.FsOther, "scan tasks", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AllBlockedTasks returns a map from task id to task for every blocked
// task, convenient for building the wait-for graph in one read.
func (s *Store) AllBlockedTasks(ctx context.Context) (map[string]*model.Task, error) {
	tasks, err := s.ListBlocked(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		out[t.ID] = t
	}
	return out, nil
}

// Stats reports bucket key counts and cache sizes for operational
// visibility, mirroring the teacher's GetStats.
func (s *Store) Stats(ctx context.Context) map[string]any {
	out := map[string]any{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		out["db_size_bytes"] = tx.Size()
		for _, b := range [][]byte{bucketTasks, bucketMessages, bucketTaskHistory, bucketChildrenIndex, bucketThreadIndex} {
			if bucket := tx.Bucket(b); bucket != nil {
				out[string(b)+"_count"] = bucket.Stats().KeyN
			}
		}
		return nil
	})
	s.mu.RLock()
	out["cache_tasks"] = len(s.taskCache)
	s.mu.RUnlock()
	return out
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}
