package deadlock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

func blockedTask(id string, blockedBy ...string) *model.Task {
	return &model.Task{ID: id, Status: model.StatusBlocked, BlockedBy: blockedBy}
}

func TestFindCycle_TwoWayDeadlock(t *testing.T) {
	blocked := map[string]*model.Task{
		"A": blockedTask("A", "B"),
		"B": blockedTask("B", "A"),
	}
	g := NewGraph(blocked)
	cycle, ok := FindCycle(g, "A")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, cycle.Nodes)
}

func TestFindCycle_ThreeWayDeadlock_SameCycleFromAnyStart(t *testing.T) {
	blocked := map[string]*model.Task{
		"A": blockedTask("A", "B"),
		"B": blockedTask("B", "C"),
		"C": blockedTask("C", "A"),
	}
	g := NewGraph(blocked)

	fromA, okA := FindCycle(g, "A")
	fromB, okB := FindCycle(g, "B")
	fromC, okC := FindCycle(g, "C")
	require.True(t, okA)
	require.True(t, okB)
	require.True(t, okC)
	assert.Equal(t, fromA.Key(), fromB.Key())
	assert.Equal(t, fromB.Key(), fromC.Key())
}

func TestFindCycle_NoCycleReturnsFalse(t *testing.T) {
	blocked := map[string]*model.Task{
		"A": blockedTask("A", "B"),
		"B": {ID: "B", Status: model.StatusInProgress},
	}
	g := NewGraph(blocked)
	_, ok := FindCycle(g, "A")
	assert.False(t, ok)
}

func TestFindCycle_DeadEndEdgeToMissingNode(t *testing.T) {
	blocked := map[string]*model.Task{
		"A": blockedTask("A", "ghost"),
	}
	g := NewGraph(blocked)
	_, ok := FindCycle(g, "A")
	assert.False(t, ok)
}

func TestSweep_TwoWay_OneCycleTwoNotificationCandidates(t *testing.T) {
	blocked := map[string]*model.Task{
		"A": blockedTask("A", "B"),
		"B": blockedTask("B", "A"),
	}
	result := Sweep(blocked)
	assert.Equal(t, 1, result.DeadlocksDetected)
	assert.ElementsMatch(t, []string{"A", "B"}, result.DeadlockedTaskIDs)
}

func TestSweep_ThreeWay_DedupesToOneCycle(t *testing.T) {
	blocked := map[string]*model.Task{
		"A": blockedTask("A", "B"),
		"B": blockedTask("B", "C"),
		"C": blockedTask("C", "A"),
	}
	result := Sweep(blocked)
	require.Equal(t, 1, result.DeadlocksDetected)
	assert.Len(t, result.Cycles[0].Nodes, 3)
}

func TestSweep_RemovingEdgeEliminatesCycle(t *testing.T) {
	blocked := map[string]*model.Task{
		"A": {ID: "A", Status: model.StatusInProgress},
		"B": blockedTask("B", "A"),
	}
	result := Sweep(blocked)
	assert.Equal(t, 0, result.DeadlocksDetected)
}

func TestThreadID_IsDeterministicAcrossEquivalentCycles(t *testing.T) {
	c1 := normalize([]string{"B", "C", "A"})
	c2 := normalize([]string{"A", "B", "C"})
	assert.Equal(t, ThreadID(c1), ThreadID(c2))
}
