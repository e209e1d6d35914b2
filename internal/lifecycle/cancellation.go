package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// CancellationManager tracks in-flight coordinator operations so a graceful
// shutdown can wait for them to drain instead of cutting a store commit off
// from its filesystem move. Unlike a workflow-cancellation manager that owns
// a context.CancelFunc per execution, coordinator operations are short
// synchronous call chains: Register/Complete bracket one call, and
// checkCancelled below is what actually observes the caller's context at
// each I/O boundary.
type CancellationManager struct {
	mu     sync.Mutex
	active map[int64]string
	nextID int64
}

// NewCancellationManager returns an empty manager.
func NewCancellationManager() *CancellationManager {
	return &CancellationManager{active: make(map[int64]string)}
}

// Register records a named in-flight operation and returns a token to pass
// to Complete when it finishes.
func (cm *CancellationManager) Register(label string) int64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.nextID++
	id := cm.nextID
	cm.active[id] = label
	return id
}

// Complete removes a previously registered operation.
func (cm *CancellationManager) Complete(op int64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.active, op)
}

// ListActive returns the labels of every operation currently in flight, for
// shutdown logging.
func (cm *CancellationManager) ListActive() []string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]string, 0, len(cm.active))
	for _, label := range cm.active {
		out = append(out, label)
	}
	return out
}

// Drain blocks until no operations are in flight or the deadline passes,
// for use during graceful shutdown between stopping new intake and closing
// the store.
func (cm *CancellationManager) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		cm.mu.Lock()
		n := len(cm.active)
		cm.mu.Unlock()
		if n == 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	cm.mu.Lock()
	n := len(cm.active)
	cm.mu.Unlock()
	return n == 0
}

// checkCancelled reports ctx's cancellation as an Interrupted model error,
// so callers at an I/O boundary between a store commit and a filesystem
// move can surface it uniformly instead of special-casing context.Canceled.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return model.NewInterrupted(ctx.Err().Error())
	default:
		return nil
	}
}
