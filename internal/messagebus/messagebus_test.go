package messagebus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/lifecycle-engine/internal/auditlog"
	"github.com/swarmguard/lifecycle-engine/internal/model"
	"github.com/swarmguard/lifecycle-engine/internal/orgdirectory"
	"github.com/swarmguard/lifecycle-engine/internal/pathresolver"
	"github.com/swarmguard/lifecycle-engine/internal/taskstore"
)

func newTestBus(t *testing.T) (*Bus, *orgdirectory.InMemory) {
	t.Helper()
	root := t.TempDir()
	resolver := pathresolver.New(root)
	store, err := taskstore.Open(filepath.Join(root, "tasks.db"), taskstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	audit, err := auditlog.Open(auditlog.Config{Dir: filepath.Join(root, "audit")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	dir := orgdirectory.NewInMemory()
	bus := New(store, resolver, dir, audit, nil, nil)
	t.Cleanup(bus.Close)
	return bus, dir
}

func TestSend_WritesBodyAndIndexesMessage(t *testing.T) {
	bus, _ := newTestBus(t)
	id, err := bus.Send(context.Background(), SendInput{
		FromAgent: "manager-001",
		ToAgent:   "dev-001",
		TaskID:    "T1",
		TaskTitle: "Implement auth",
		Subject:   "Delegation: Implement auth",
		Priority:  model.MessagePriorityHigh,
		ThreadID:  "task-T1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestSendIfAllowed_RespectsPreferenceUnlessForced(t *testing.T) {
	bus, dir := newTestBus(t)
	dir.Put(model.Agent{
		ID: "dev-001",
		CommunicationPreferences: model.CommunicationPreferences{
			NotifyOnDelegation: false,
			NotifyOnCompletion: true,
			NotifyOnDeadlock:   true,
		},
	})

	_, sent, err := bus.SendIfAllowed(context.Background(), SendInput{
		FromAgent: "m", ToAgent: "dev-001", Subject: "x", ThreadID: "t",
	}, false, func(p model.CommunicationPreferences) bool { return p.NotifyOnDelegation })
	require.NoError(t, err)
	assert.False(t, sent)

	_, sent, err = bus.SendIfAllowed(context.Background(), SendInput{
		FromAgent: "m", ToAgent: "dev-001", Subject: "x", ThreadID: "t",
	}, true, func(p model.CommunicationPreferences) bool { return p.NotifyOnDelegation })
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestSend_BodyFileExistsUnderUnread(t *testing.T) {
	bus, _ := newTestBus(t)
	_, err := bus.Send(context.Background(), SendInput{
		FromAgent: "a", ToAgent: "b", Subject: "hi", ThreadID: "t", TaskID: "T1",
	})
	require.NoError(t, err)

	msgs, err := bus.store.ListByThread(context.Background(), "t")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	_, statErr := os.Stat(msgs[0].BodyPath)
	assert.NoError(t, statErr)
}
