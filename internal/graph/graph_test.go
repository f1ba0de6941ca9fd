package graph_test

import (
	"testing"

	"github.com/loomwm/loom/internal/graph"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveSet(ids ...domain.NodeID) func(domain.NodeID) bool {
	set := map[domain.NodeID]bool{}
	for _, id := range ids {
		set[id] = true
	}
	return func(id domain.NodeID) bool { return set[id] }
}

func conn(src, dst domain.NodeID, kind domain.ConnectionKind, directed bool) domain.Connection {
	return domain.Connection{Source: src, Target: dst, Kind: kind, Directed: directed}
}

func TestGraph_CreateValidatesEndpoints(t *testing.T) {
	g := graph.New(liveSet(1, 2))

	_, err := g.Create(conn(1, 3, domain.ConnectionData, true))
	assert.ErrorIs(t, err, domain.ErrInvalidEndpoint)

	_, err = g.Create(conn(1, 1, domain.ConnectionData, true))
	assert.ErrorIs(t, err, domain.ErrInvalidEndpoint)

	_, err = g.Create(conn(1, 2, "wormhole", true))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	c, err := g.Create(conn(1, 2, domain.ConnectionData, true))
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionID(1), c.ID)
	assert.False(t, c.CreatedAt.IsZero())
}

func TestGraph_SetSemantics(t *testing.T) {
	g := graph.New(liveSet(1, 2))

	_, err := g.Create(conn(1, 2, domain.ConnectionData, true))
	require.NoError(t, err)

	_, err = g.Create(conn(1, 2, domain.ConnectionData, true))
	assert.ErrorIs(t, err, domain.ErrDuplicateConnection)

	// Different direction, kind or directedness is a different edge.
	_, err = g.Create(conn(2, 1, domain.ConnectionData, true))
	assert.NoError(t, err)
	_, err = g.Create(conn(1, 2, domain.ConnectionReference, true))
	assert.NoError(t, err)
	_, err = g.Create(conn(1, 2, domain.ConnectionData, false))
	assert.NoError(t, err)

	// Undirected edges ignore endpoint order.
	_, err = g.Create(conn(2, 1, domain.ConnectionData, false))
	assert.ErrorIs(t, err, domain.ErrDuplicateConnection)
	assert.Equal(t, 4, g.Len())
}

func TestGraph_ConnectionsOfBothDirections(t *testing.T) {
	g := graph.New(liveSet(1, 2, 3))
	a, _ := g.Create(conn(1, 2, domain.ConnectionData, true))
	b, _ := g.Create(conn(3, 1, domain.ConnectionTemporal, true))
	_, _ = g.Create(conn(2, 3, domain.ConnectionReference, false))

	got := g.ConnectionsOf(1)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, b.ID, got[1].ID)

	assert.Empty(t, g.ConnectionsOf(42), "unknown nodes have no connections")
}

func TestGraph_DestroyAndReuse(t *testing.T) {
	g := graph.New(liveSet(1, 2), graph.WithMaxConnections(1))
	c, err := g.Create(domain.Connection{Source: 1, Target: 2, Kind: domain.ConnectionData, Owner: "client"})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Owned("client"))

	_, err = g.Create(conn(2, 1, domain.ConnectionData, true))
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)

	_, err = g.Destroy(c.ID)
	require.NoError(t, err)
	_, err = g.Destroy(c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, g.Owned("client"))
	assert.Empty(t, g.Incident(1))

	again, err := g.Create(conn(1, 2, domain.ConnectionData, false))
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionID(2), again.ID)
}

func TestGraph_Restore(t *testing.T) {
	g := graph.New(liveSet(1, 2))
	skipped := g.Restore([]domain.Connection{
		{ID: 3, Source: 1, Target: 2, Kind: domain.ConnectionData, Directed: true},
		{ID: 5, Source: 1, Target: 9, Kind: domain.ConnectionData, Directed: true},
	}, 4)

	assert.Equal(t, []domain.ConnectionID{5}, skipped)
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, domain.ConnectionID(4), g.Next())
}
