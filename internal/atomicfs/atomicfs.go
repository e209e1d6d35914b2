// Package atomicfs provides crash-consistent primitives for writing files
// and moving directory subtrees, with a failure taxonomy distinguishing the
// cases callers must react to differently.
package atomicfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// WriteAtomic creates a temp file alongside path, writes data fully, fsyncs
// it, and renames it over path. Parent directories are created on demand.
// On any failure the temp file is removed and the target is left untouched.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return classify(err, "create parent directory")
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return classify(err, "create temp file")
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return classify(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		return classify(err, "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return classify(err, "close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return classify(err, "rename temp file over target")
	}
	cleanup = false
	return nil
}

// MoveDir moves src to dst. If dst already exists it is removed first (the
// directory is derived state; callers must not invoke this when dst holds
// content that must be preserved). If src does not exist, the search
// fallback probes candidates in order and renames from the first one found;
// if none match, an empty directory is created at dst.
func MoveDir(src, dst string, searchFallback []string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return classify(err, "create destination parent")
	}

	if _, err := os.Stat(src); err != nil {
		if !os.IsNotExist(err) {
			return classify(err, "stat source")
		}
		for _, candidate := range searchFallback {
			if candidate == src {
				continue
			}
			if _, serr := os.Stat(candidate); serr == nil {
				if candidate == dst {
					return nil // already at the destination
				}
				return moveExact(candidate, dst)
			}
		}
		return os.MkdirAll(dst, 0o755)
	}
	return moveExact(src, dst)
}

func moveExact(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		if err := os.RemoveAll(dst); err != nil {
			return classify(err, "remove existing destination")
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if isCrossDevice(err) {
			if cerr := copyThenRemove(src, dst); cerr != nil {
				return cerr
			}
			return nil
		}
		return classify(err, "rename directory")
	}
	return nil
}

func copyThenRemove(src, dst string) error {
	if err := copyTree(src, dst); err != nil {
		return err
	}
	if err := os.RemoveAll(src); err != nil {
		return classify(err, "remove source after cross-device copy")
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return classify(err, "walk source tree")
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return classify(err, "compute relative path")
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return classify(err, "stat directory entry")
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return classify(err, "lstat source file")
	}
	if info.Mode()&os.ModeSymlink != 0 {
		link, err := os.Readlink(src)
		if err != nil {
			return classify(err, "readlink")
		}
		return os.Symlink(link, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return classify(err, "create target parent")
	}
	in, err := os.Open(src)
	if err != nil {
		return classify(err, "open source file")
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return classify(err, "create target file")
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return classify(err, "copy file contents")
	}
	return out.Sync()
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return errors.Is(err, syscall.EXDEV)
}

// classify maps an OS-level error into the engine's FsError taxonomy.
func classify(err error, context string) *model.Error {
	detail := fmt.Sprintf("%s: %v", context, err)
	switch {
	case os.IsNotExist(err):
		return model.NewFsError(model.FsNotFound, detail, err)
	case os.IsPermission(err):
		return model.NewFsError(model.FsPermissionDenied, detail, err)
	case errors.Is(err, syscall.ENOSPC):
		return model.NewFsError(model.FsDiskFull, detail, err)
	case isCrossDevice(err):
		return model.NewFsError(model.FsCrossDevice, detail, err)
	default:
		return model.NewFsError(model.FsOther, detail, err)
	}
}
