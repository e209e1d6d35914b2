// Package deadlock walks the wait-for graph (edges t -> u for every
// u in t.blocked_by) to find and normalize cycles, per section 4.7.
package deadlock

import (
	"sort"
	"strings"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// Graph is the wait-for graph restricted to blocked tasks, built once per
// query/sweep from a snapshot of the task store.
type Graph struct {
	nodes map[string]*model.Task
}

// NewGraph builds a wait-for graph from a map of blocked tasks, keyed by
// task id. Tasks not present (or not blocked, or with empty blocked_by)
// are treated as leaves with no outgoing edges; edges to ids missing from
// the map are dead-end edges.
func NewGraph(blocked map[string]*model.Task) *Graph {
	return &Graph{nodes: blocked}
}

func (g *Graph) edgesFrom(id string) []string {
	t, ok := g.nodes[id]
	if !ok || t.Status != model.StatusBlocked || len(t.BlockedBy) == 0 {
		return nil
	}
	return t.BlockedBy
}

// Cycle is a simple cycle in the wait-for graph, already normalized: it is
// rotated so the lexicographically smallest id starts the sequence, and
// oriented so that (reading the ids joined) the forward traversal is
// lexicographically no greater than its reverse.
type Cycle struct {
	Nodes []string
}

// Key returns the deterministic dedup key for this cycle: its normalized
// node sequence joined by "->". Two cycles over the same node set found
// from different starting points or directions produce the same key.
func (c Cycle) Key() string {
	return strings.Join(c.Nodes, "->")
}

// FindCycle runs an iterative DFS from start, maintaining an explicit
// stack and on-stack set. It only reports a cycle that loops back to
// start itself; a cycle found among deeper, already-explored nodes that
// does not reach back to start is skipped and the search continues. It
// returns ok=false if no cycle through start exists.
func FindCycle(g *Graph, start string) (Cycle, bool) {
	type frame struct {
		node     string
		edges    []string
		edgeIdx  int
	}

	onStack := map[string]int{} // node -> index in stack
	done := map[string]bool{}   // fully explored, no cycle back through it
	var stack []frame

	push := func(node string) {
		onStack[node] = len(stack)
		stack = append(stack, frame{node: node, edges: g.edgesFrom(node)})
	}
	push(start)

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.edgeIdx >= len(top.edges) {
			delete(onStack, top.node)
			done[top.node] = true
			stack = stack[:len(stack)-1]
			continue
		}
		next := top.edges[top.edgeIdx]
		top.edgeIdx++

		if idx, found := onStack[next]; found {
			if idx != 0 {
				// A cycle exists among nodes deeper in the stack, but it
				// does not loop back to start; keep exploring start's
				// other edges instead of reporting it here.
				continue
			}
			raw := make([]string, 0, len(stack)-idx)
			for _, f := range stack[idx:] {
				raw = append(raw, f.node)
			}
			return normalize(raw), true
		}
		if done[next] {
			continue // already fully explored with no cycle back to the stack
		}
		if _, exists := g.nodes[next]; !exists {
			continue // dead-end edge to a missing node
		}
		push(next)
	}
	return Cycle{}, false
}

// normalize rotates seq so its lexicographically smallest id is first, and
// chooses between the forward and reversed traversal so the resulting
// joined sequence is the lexicographically smaller of the two.
func normalize(seq []string) Cycle {
	if len(seq) == 0 {
		return Cycle{}
	}
	minIdx := 0
	for i, v := range seq {
		if v < seq[minIdx] {
			minIdx = i
		}
	}
	rotated := append(append([]string(nil), seq[minIdx:]...), seq[:minIdx]...)

	reversed := reverseFrom(seq, minIdx)

	if strings.Join(reversed, "->") < strings.Join(rotated, "->") {
		return Cycle{Nodes: reversed}
	}
	return Cycle{Nodes: rotated}
}

// reverseFrom builds the cycle sequence traversed in the opposite
// direction, still starting at index minIdx of the original seq.
func reverseFrom(seq []string, minIdx int) []string {
	n := len(seq)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := ((minIdx-i)%n + n) % n
		out = append(out, seq[idx])
	}
	return out
}

// SweepResult is the report returned by scanning every blocked task.
type SweepResult struct {
	DeadlocksDetected   int
	DeadlockedTaskIDs   []string
	Cycles              []Cycle
}

// Sweep enumerates every blocked task as a candidate start node,
// deduplicating cycles found from different members by their normalized
// key, per the sweep behavior in section 4.7.
func Sweep(blocked map[string]*model.Task) SweepResult {
	g := NewGraph(blocked)
	seen := map[string]Cycle{}
	taskIDs := make([]string, 0, len(blocked))
	for id := range blocked {
		taskIDs = append(taskIDs, id)
	}
	sort.Strings(taskIDs)

	for _, id := range taskIDs {
		cycle, ok := FindCycle(g, id)
		if !ok {
			continue
		}
		if _, dup := seen[cycle.Key()]; !dup {
			seen[cycle.Key()] = cycle
		}
	}

	result := SweepResult{}
	taskSet := map[string]bool{}
	cycles := make([]Cycle, 0, len(seen))
	for _, c := range seen {
		cycles = append(cycles, c)
		for _, id := range c.Nodes {
			taskSet[id] = true
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].Key() < cycles[j].Key() })

	result.Cycles = cycles
	result.DeadlocksDetected = len(cycles)
	for id := range taskSet {
		result.DeadlockedTaskIDs = append(result.DeadlockedTaskIDs, id)
	}
	sort.Strings(result.DeadlockedTaskIDs)
	return result
}

// ThreadID derives the deterministic thread id shared by every
// notification for one normalized cycle, so related messages are linked.
func ThreadID(c Cycle) string {
	return "deadlock-" + c.Key()
}
