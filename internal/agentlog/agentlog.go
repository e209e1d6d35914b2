// Package agentlog provides a rotating per-agent execution log, distinct
// from the process-wide structured log stream: every agent gets its own
// file under the path the Path Resolver allocates for it.
package agentlog

import (
	"log/slog"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Writers caches one rotating writer per agent so repeated lookups don't
// reopen the underlying file.
type Writers struct {
	mu      sync.Mutex
	loggers map[string]*slog.Logger
	maxSize int // megabytes
	backups int
	maxAge  int // days
}

func New(maxSizeMB, backups, maxAgeDays int) *Writers {
	if maxSizeMB == 0 {
		maxSizeMB = 10
	}
	if backups == 0 {
		backups = 5
	}
	if maxAgeDays == 0 {
		maxAgeDays = 30
	}
	return &Writers{
		loggers: make(map[string]*slog.Logger),
		maxSize: maxSizeMB,
		backups: backups,
		maxAge:  maxAgeDays,
	}
}

// For returns the per-agent logger, creating its rotating file writer on
// first use at the given path.
func (w *Writers) For(agentID, path string) *slog.Logger {
	w.mu.Lock()
	defer w.mu.Unlock()
	if l, ok := w.loggers[agentID]; ok {
		return l
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    w.maxSize,
		MaxBackups: w.backups,
		MaxAge:     w.maxAge,
		Compress:   true,
	}
	logger := slog.New(slog.NewJSONHandler(rotator, nil)).With("agent_id", agentID)
	w.loggers[agentID] = logger
	return logger
}

// Close drops every cached logger so a later For builds a fresh writer.
// Records are written straight through to the lumberjack files, so there is
// nothing to flush; the lumberjack writers themselves are not closed here.
func (w *Writers) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loggers = make(map[string]*slog.Logger)
}
