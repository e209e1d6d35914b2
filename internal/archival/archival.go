// Package archival moves aged completed tasks into the archive tree and
// later compacts archived directories into gzip-compressed tarballs, per
// section 4.8. Both operations are idempotent on rerun: archive_old only
// selects tasks still in completed, and compress_old treats a directory
// whose tarball already exists as already-compressed.
package archival

import (
	"archive/tar"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/swarmguard/lifecycle-engine/internal/atomicfs"
	"github.com/swarmguard/lifecycle-engine/internal/model"
	"github.com/swarmguard/lifecycle-engine/internal/pathresolver"
	"github.com/swarmguard/lifecycle-engine/internal/taskstore"
)

// Engine archives completed tasks and compresses archived ones. maxWorkers
// bounds the fan-out used when a sweep touches many tasks at once, matching
// the teacher's errgroup.SetLimit pattern rather than an unbounded
// goroutine-per-task loop.
type Engine struct {
	store      *taskstore.Store
	resolver   *pathresolver.Resolver
	maxWorkers int
	log        *slog.Logger
	now        func() time.Time
}

func New(store *taskstore.Store, resolver *pathresolver.Resolver, maxWorkers int, log *slog.Logger) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Engine{store: store, resolver: resolver, maxWorkers: maxWorkers, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// ArchiveOld selects completed tasks older than olderThan and moves each
// one's directory into archive/<YYYY-MM>/<id>, transitioning the task to
// archived in the store. Per-task failures are logged and skipped; they
// never abort the sweep. It returns the count of tasks actually archived.
func (e *Engine) ArchiveOld(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := e.now().AddDate(0, 0, -olderThanDays)
	candidates, err := e.store.ListCompleted(ctx, &cutoff)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	archived := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)
	for _, task := range candidates {
		task := task
		g.Go(func() error {
			if err := e.archiveOne(gctx, task); err != nil {
				if e.log != nil {
					e.log.Warn("archive task failed", "task", task.ID, "error", err)
				}
				return nil // per-task failures do not abort the sweep
			}
			mu.Lock()
			archived++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // archiveOne never returns a non-nil error to the group; failures are logged and swallowed per task
	return archived, nil
}

func (e *Engine) archiveOne(ctx context.Context, task *model.Task) error {
	completedAt := e.now()
	if task.CompletedAt != nil {
		completedAt = *task.CompletedAt
	}
	src := e.resolver.TaskDir(task.AgentID, task.ID, model.StatusCompleted)
	dst := e.resolver.ArchiveTaskDir(task.AgentID, task.ID, completedAt)
	if err := atomicfs.MoveDir(src, dst, e.resolver.StatusSiblings(task.AgentID, task.ID)); err != nil {
		return err
	}
	_, err := e.store.Transition(ctx, task.ID, task.Version, model.StatusArchived, taskstore.TransitionExtras{Now: e.now()})
	return err
}

// CompressOld selects archived tasks older than olderThan and gzip-tars
// each uncompressed directory, removing the directory afterward. A
// directory whose tarball already exists from a partial prior run is
// simply removed and counted as compressed, rather than re-tarred.
func (e *Engine) CompressOld(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := e.now().AddDate(0, 0, -olderThanDays)
	candidates, err := e.store.ListArchived(ctx, &cutoff)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, task := range candidates {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}
		compressed, err := e.compressOne(task)
		if err != nil {
			if e.log != nil {
				e.log.Warn("compress task failed", "task", task.ID, "error", err)
			}
			continue
		}
		if compressed {
			count++
		}
	}
	return count, nil
}

func (e *Engine) compressOne(task *model.Task) (bool, error) {
	completedAt := e.now()
	if task.CompletedAt != nil {
		completedAt = *task.CompletedAt
	}
	dir := e.resolver.ArchiveTaskDir(task.AgentID, task.ID, completedAt)
	tarball := e.resolver.ArchiveTarball(task.AgentID, task.ID, completedAt)

	dirInfo, dirErr := os.Stat(dir)
	_, tarErr := os.Stat(tarball)

	switch {
	case dirErr != nil && tarErr != nil:
		return false, nil // neither present; nothing to do (already fully compacted)
	case dirErr != nil && tarErr == nil:
		return false, nil // only the tarball exists; a previous run finished cleanly
	case dirErr == nil && tarErr == nil:
		// Partial prior run: tarball was already written, directory wasn't
		// removed. Finish the job without re-tarring.
		return true, os.RemoveAll(dir)
	default:
		if !dirInfo.IsDir() {
			return false, model.NewFsError(model.FsOther, "archive path is not a directory: "+dir, nil)
		}
		if err := writeTarGz(dir, tarball); err != nil {
			return false, err
		}
		return true, os.RemoveAll(dir)
	}
}

// writeTarGz writes a gzip-compressed tar of dir to dstTarball atomically:
// it builds the archive into a temp file alongside the destination, then
// renames it into place, so a crash mid-write never leaves a corrupt
// tarball behind to be mistaken for a completed compaction.
func writeTarGz(dir, dstTarball string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dstTarball), ".tmp-archive-*.tar.gz")
	if err != nil {
		return model.NewFsError(model.FsOther, "create temp tarball", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	closeErr := tw.Close()
	gzCloseErr := gz.Close()
	syncErr := tmp.Sync()
	tmpCloseErr := tmp.Close()

	for _, err := range []error{walkErr, closeErr, gzCloseErr, syncErr, tmpCloseErr} {
		if err != nil {
			return model.NewFsError(model.FsOther, "write tarball "+dstTarball, err)
		}
	}
	return os.Rename(tmpPath, dstTarball)
}
