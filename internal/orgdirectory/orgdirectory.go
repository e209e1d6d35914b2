// Package orgdirectory exposes the read-only agent and organization
// hierarchy lookup that the lifecycle engine depends on but does not own.
// Per the specification, hierarchical organization queries are an external
// collaborator; this package only defines the dependency's contract and one
// concrete in-memory implementation used by tests and small deployments.
package orgdirectory

import (
	"context"
	"sync"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// Directory is the dependency surface the Lifecycle Coordinator and
// Message Bus use to resolve an agent's display name, manager, and
// notification preferences. It never mutates state.
type Directory interface {
	GetAgent(ctx context.Context, id string) (model.Agent, error)
	Ancestors(ctx context.Context, id string) ([]model.Agent, error)
}

// InMemory is a test double / small-deployment directory backed by a
// fixed map, useful where org data is seeded from configuration rather
// than a separate directory service.
type InMemory struct {
	mu     sync.RWMutex
	agents map[string]model.Agent
}

func NewInMemory() *InMemory {
	return &InMemory{agents: make(map[string]model.Agent)}
}

func (d *InMemory) Put(agent model.Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[agent.ID] = agent
}

func (d *InMemory) GetAgent(_ context.Context, id string) (model.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return model.Agent{}, model.NewErrorf(model.KindAgentNotFound, "agent %s not found", id)
	}
	return a, nil
}

// Ancestors walks reporting_to links to the root, returning the chain
// starting with the immediate manager.
func (d *InMemory) Ancestors(ctx context.Context, id string) ([]model.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []model.Agent
	cur, ok := d.agents[id]
	if !ok {
		return nil, model.NewErrorf(model.KindAgentNotFound, "agent %s not found", id)
	}
	seen := map[string]bool{id: true}
	for cur.ReportingTo != nil {
		next, ok := d.agents[*cur.ReportingTo]
		if !ok || seen[next.ID] {
			break
		}
		out = append(out, next)
		seen[next.ID] = true
		cur = next
	}
	return out, nil
}
