package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_LegalEdges(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusBlocked, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusArchived, false},
		{StatusInProgress, StatusBlocked, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusPending, false},
		{StatusBlocked, StatusInProgress, true},
		{StatusBlocked, StatusCompleted, true},
		{StatusBlocked, StatusPending, false},
		{StatusCompleted, StatusArchived, true},
		{StatusCompleted, StatusInProgress, false},
		{StatusArchived, StatusCompleted, false},
		{StatusArchived, StatusArchived, false},
	}
	for _, c := range cases {
		got := CanTransition(c.from, c.to)
		assert.Equalf(t, c.want, got, "%s -> %s", c.from, c.to)
	}
}

func TestTaskClone_DoesNotAliasPointersOrSlices(t *testing.T) {
	parent := "p1"
	task := &Task{
		ID:           "t1",
		ParentTaskID: &parent,
		BlockedBy:    []string{"a", "b"},
	}
	clone := task.Clone()
	require.NotNil(t, clone.ParentTaskID)
	clone.BlockedBy[0] = "mutated"
	*clone.ParentTaskID = "mutated"

	assert.Equal(t, "p1", *task.ParentTaskID)
	assert.Equal(t, "a", task.BlockedBy[0])
}

func TestTaskPriorityToMessagePriority(t *testing.T) {
	assert.Equal(t, MessagePriorityUrgent, TaskPriorityToMessagePriority(PriorityUrgent))
	assert.Equal(t, MessagePriorityHigh, TaskPriorityToMessagePriority(PriorityHigh))
	assert.Equal(t, MessagePriorityNormal, TaskPriorityToMessagePriority(PriorityMedium))
	assert.Equal(t, MessagePriorityNormal, TaskPriorityToMessagePriority(PriorityLow))
}

func TestError_KindOf(t *testing.T) {
	err := NewError(KindVersionMismatch, "expected 1 got 2")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindVersionMismatch, kind)
}
