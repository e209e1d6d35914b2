package orgdirectory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

func TestInMemory_GetAgent_NotFound(t *testing.T) {
	d := NewInMemory()
	_, err := d.GetAgent(context.Background(), "missing")
	require.Error(t, err)
	kind, ok := model.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, model.KindAgentNotFound, kind)
}

func TestInMemory_Ancestors_WalksReportingChain(t *testing.T) {
	d := NewInMemory()
	ceo := "ceo"
	manager := "manager"
	d.Put(model.Agent{ID: "ceo"})
	d.Put(model.Agent{ID: "manager", ReportingTo: &ceo})
	d.Put(model.Agent{ID: "ic", ReportingTo: &manager})

	chain, err := d.Ancestors(context.Background(), "ic")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "manager", chain[0].ID)
	assert.Equal(t, "ceo", chain[1].ID)
}

func TestInMemory_Ancestors_StopsOnCycle(t *testing.T) {
	d := NewInMemory()
	a := "a"
	b := "b"
	d.Put(model.Agent{ID: "a", ReportingTo: &b})
	d.Put(model.Agent{ID: "b", ReportingTo: &a})

	chain, err := d.Ancestors(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}
