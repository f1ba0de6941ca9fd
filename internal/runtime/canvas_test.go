package runtime_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/loomwm/loom/internal/runtime"
	"github.com/loomwm/loom/internal/viewport"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCanvas(t *testing.T) (*runtime.Canvas, *events.Manager) {
	t.Helper()
	ev := events.NewManager(events.WithQueueSize(1024))
	return runtime.New(runtime.DefaultConfig(), ev), ev
}

func geom(x, y, w, h float64) domain.Geometry {
	return domain.Geometry{X: x, Y: y, Width: w, Height: h, Scale: 1}
}

func kinds(evts []domain.Event) []domain.EventKind {
	out := make([]domain.EventKind, len(evts))
	for i, e := range evts {
		out[i] = e.Kind
	}
	return out
}

// TestCanvas_CascadeScenario creates two connected nodes, destroys the source
// and expects the target to be left without connections.
func TestCanvas_CascadeScenario(t *testing.T) {
	c, ev := newCanvas(t)
	sub, err := ev.Subscribe("watcher", domain.Filter{})
	require.NoError(t, err)

	a, err := c.CreateNode("", geom(0, 0, 100, 100), "A")
	require.NoError(t, err)
	b, err := c.CreateNode("", geom(500, 500, 100, 100), "B")
	require.NoError(t, err)

	conn, err := c.CreateConnection("", a.ID, b.ID, domain.ConnectionData, true)
	require.NoError(t, err)
	require.Len(t, c.ConnectionsOf(b.ID), 1)

	require.NoError(t, c.DestroyNode(a.ID))
	assert.Empty(t, c.ConnectionsOf(b.ID))
	assert.Empty(t, c.ConnectionsOf(a.ID))
	_, err = c.Connection(conn.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got := sub.Drain()
	assert.Equal(t, []domain.EventKind{
		domain.EventNodeCreated,
		domain.EventNodeCreated,
		domain.EventConnectionCreated,
		domain.EventConnectionDestroyed,
		domain.EventNodeDestroyed,
	}, kinds(got), "connections are destroyed before their endpoint")

	assert.ErrorIs(t, c.DestroyNode(a.ID), domain.ErrNotFound)
}

func TestCanvas_SpatialSubscription(t *testing.T) {
	c, ev := newCanvas(t)
	n, err := c.CreateNode("", geom(1000, 1000, 100, 100), "")
	require.NoError(t, err)

	sub, err := ev.Subscribe("c1", domain.Filter{
		Kinds:  []domain.EventKind{domain.EventNodeMoved},
		Region: &domain.Rect{X: 0, Y: 0, Width: 200, Height: 200},
	})
	require.NoError(t, err)

	_, err = c.SetPosition(n.ID, 50, 50)
	require.NoError(t, err)
	got := sub.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, n.ID, got[0].NodeID)

	_, err = c.SetPosition(n.ID, 1000, 1000)
	require.NoError(t, err)
	assert.Empty(t, sub.Drain())
}

func TestCanvas_InvalidMutationPublishesNothing(t *testing.T) {
	c, ev := newCanvas(t)
	n, _ := c.CreateNode("", geom(0, 0, 10, 10), "")
	sub, _ := ev.Subscribe("c1", domain.Filter{})

	_, err := c.Resize(n.ID, 0, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidGeometry)
	_, err = c.SetPosition(n.ID, 5e6, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidGeometry)
	assert.Empty(t, sub.Drain())

	got, _ := c.Node(n.ID)
	assert.Equal(t, geom(0, 0, 10, 10), got.Geometry)
}

// TestCanvas_IndexMatchesLiveSet runs random create, move and destroy
// sequences and compares a full-bounds query against the registry.
func TestCanvas_IndexMatchesLiveSet(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	c, _ := newCanvas(t)
	var live []domain.NodeID

	for step := 0; step < 3000; step++ {
		switch op := rng.IntN(6); {
		case op < 3 || len(live) == 0:
			n, err := c.CreateNode("", domain.Geometry{
				X: rng.Float64()*1e5 - 5e4, Y: rng.Float64()*1e5 - 5e4,
				Width: 1 + rng.Float64()*800, Height: 1 + rng.Float64()*800,
				Scale: 0.5 + rng.Float64(), Rotation: rng.Float64() * 6, Z: rng.IntN(4),
			}, "")
			require.NoError(t, err)
			live = append(live, n.ID)
		case op < 5:
			id := live[rng.IntN(len(live))]
			_, err := c.SetPosition(id, rng.Float64()*1e5-5e4, rng.Float64()*1e5-5e4)
			require.NoError(t, err)
		default:
			i := rng.IntN(len(live))
			require.NoError(t, c.DestroyNode(live[i]))
			live = slices.Delete(live, i, i+1)
		}
	}

	var want []domain.NodeID
	nodes := c.Nodes()
	slices.SortFunc(nodes, func(a, b domain.Node) int {
		if a.Geometry.Z != b.Geometry.Z {
			return a.Geometry.Z - b.Geometry.Z
		}
		return int(a.ID) - int(b.ID)
	})
	for _, n := range nodes {
		want = append(want, n.ID)
	}
	assert.Equal(t, want, c.QueryIDs(c.Bounds()))
	assert.Len(t, want, len(live))
}

func TestCanvas_ConnectionsNeverDangle(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	c, _ := newCanvas(t)
	var ids []domain.NodeID
	for i := 0; i < 30; i++ {
		n, _ := c.CreateNode("", geom(float64(i)*10, 0, 5, 5), "")
		ids = append(ids, n.ID)
	}
	for i := 0; i < 200; i++ {
		a, b := ids[rng.IntN(len(ids))], ids[rng.IntN(len(ids))]
		_, _ = c.CreateConnection("", a, b, domain.ConnectionReference, rng.IntN(2) == 0)
	}

	destroyed := map[domain.NodeID]bool{}
	for _, id := range ids[:15] {
		require.NoError(t, c.DestroyNode(id))
		destroyed[id] = true
	}
	for _, conn := range c.Connections() {
		assert.False(t, destroyed[conn.Source] || destroyed[conn.Target], "connection %d dangles", conn.ID)
	}
	for id := range destroyed {
		assert.Empty(t, c.ConnectionsOf(id))
	}
}

func TestCanvas_HitTestAndRaise(t *testing.T) {
	c, _ := newCanvas(t)
	low, _ := c.CreateNode("", geom(0, 0, 100, 100), "low")
	high, _ := c.CreateNode("", domain.Geometry{X: 50, Y: 50, Width: 100, Height: 100, Scale: 1, Z: 3}, "high")

	hit, ok := c.HitTest(domain.Point{X: 75, Y: 75})
	require.True(t, ok)
	assert.Equal(t, high.ID, hit.ID)

	raised, err := c.Raise(low.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, raised.Geometry.Z)

	hit, ok = c.HitTest(domain.Point{X: 75, Y: 75})
	require.True(t, ok)
	assert.Equal(t, low.ID, hit.ID)

	_, ok = c.HitTest(domain.Point{X: 500, Y: 500})
	assert.False(t, ok)
}

func TestCanvas_RaiseUsesZCounts(t *testing.T) {
	c, ev := newCanvas(t)
	a, _ := c.CreateNode("", geom(0, 0, 10, 10), "")
	b, _ := c.CreateNode("", geom(0, 0, 10, 10), "")
	sub, _ := ev.Subscribe("w", domain.Filter{})

	raised, err := c.Raise(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, raised.Geometry.Z, "a tie on top is broken")

	again, err := c.Raise(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Geometry.Z, "a node alone on top stays put")
	assert.Len(t, sub.Drain(), 1)

	_, err = c.MutateNode(b.ID, func(g *domain.Geometry) { g.Z = 1 })
	require.NoError(t, err)
	raised, err = c.Raise(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, raised.Geometry.Z)
}

func TestCanvas_RaiseSaturatesAtMaxZ(t *testing.T) {
	c, _ := newCanvas(t)
	top, err := c.CreateNode("", domain.Geometry{Width: 10, Height: 10, Scale: 1, Z: domain.MaxZ}, "")
	require.NoError(t, err)
	low, _ := c.CreateNode("", geom(0, 0, 10, 10), "")

	raised, err := c.Raise(low.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxZ, raised.Geometry.Z, "z-order never wraps")

	again, err := c.Raise(top.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxZ, again.Geometry.Z)

	_, err = c.CreateNode("", domain.Geometry{Width: 1, Height: 1, Scale: 1, Z: domain.MaxZ + 1}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidGeometry)
}

func TestCanvas_GroupsFollowTheirChildren(t *testing.T) {
	c, ev := newCanvas(t)
	note, _ := c.CreateNodeWithContent("", geom(0, 0, 10, 10), "", domain.Content{Kind: domain.NodeNote, Text: "todo"})
	media, _ := c.CreateNodeWithContent("", geom(20, 0, 10, 10), "", domain.Content{Kind: domain.NodeMedia, Path: "a.png"})
	group, err := c.CreateNodeWithContent("", geom(0, 0, 40, 40), "both", domain.Content{
		Kind:     domain.NodeGroup,
		Children: []domain.NodeID{note.ID, media.ID},
	})
	require.NoError(t, err)

	sub, _ := ev.Subscribe("w", domain.Filter{})
	_, err = c.CreateNodeWithContent("", geom(0, 0, 1, 1), "", domain.Content{Kind: domain.NodeGroup, Children: []domain.NodeID{404}})
	assert.ErrorIs(t, err, domain.ErrInvalidEndpoint)
	assert.Empty(t, sub.Drain(), "a rejected group publishes nothing")

	require.NoError(t, c.DestroyNode(note.ID))
	got, err := c.Node(group.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.NodeID{media.ID}, got.Content.Children)

	sid := domain.SurfaceID("s")
	require.NoError(t, c.Bind(media.ID, &sid))
	snap := c.Snapshot()
	for _, n := range snap.Nodes {
		if n.ID == group.ID {
			assert.Empty(t, n.Content.Children, "children that are not persisted are dropped")
		}
	}
	got, _ = c.Node(group.ID)
	assert.Equal(t, []domain.NodeID{media.ID}, got.Content.Children, "snapshots leave the live group alone")
}

func TestCanvas_RenderList(t *testing.T) {
	c, _ := newCanvas(t)
	vp, err := viewport.New("out", 800, 600, viewport.DefaultConfig())
	require.NoError(t, err)

	bound, _ := c.CreateNode("", geom(-100, -100, 200, 200), "")
	sid := domain.SurfaceID("surface-1")
	require.NoError(t, c.Bind(bound.ID, &sid))
	_, _ = c.CreateNode("", geom(0, 0, 50, 50), "unbound")
	far, _ := c.CreateNode("", geom(100000, 0, 50, 50), "")
	farSID := domain.SurfaceID("surface-far")
	require.NoError(t, c.Bind(far.ID, &farSID))

	items := c.RenderList(vp)
	require.Len(t, items, 1, "unbound and off-screen nodes are not rendered")
	it := items[0]
	assert.Equal(t, bound.ID, it.Node)
	assert.Equal(t, sid, it.Surface)
	assert.True(t, it.Dirty)
	assert.Equal(t, domain.Rect{X: 300, Y: 200, Width: 200, Height: 200}, it.Transform.Screen)
	assert.NotEmpty(t, it.Damage)

	c.Consume(items)
	items = c.RenderList(vp)
	require.Len(t, items, 1)
	assert.False(t, items[0].Dirty)
	assert.Empty(t, items[0].Damage)

	require.NoError(t, c.AddDamage(bound.ID, domain.Rect{X: 0, Y: 0, Width: 10, Height: 10}))
	items = c.RenderList(vp)
	require.Len(t, items[0].Damage, 1)
	assert.Equal(t, domain.Rect{X: 400, Y: 300, Width: 10, Height: 10}, items[0].Damage[0])
}

func TestCanvas_SnapshotRestore(t *testing.T) {
	c, _ := newCanvas(t)
	a, _ := c.CreateNode("ai", geom(0, 0, 10, 10), "a")
	b, _ := c.CreateNode("ai", geom(100, 0, 10, 10), "b")
	s, _ := c.CreateNode("", geom(200, 0, 10, 10), "surface")
	sid := domain.SurfaceID("s")
	require.NoError(t, c.Bind(s.ID, &sid))
	_, err := c.CreateConnection("ai", a.ID, b.ID, domain.ConnectionData, true)
	require.NoError(t, err)
	_, err = c.CreateConnection("ai", a.ID, s.ID, domain.ConnectionTemporal, false)
	require.NoError(t, err)

	snap := c.Snapshot()
	require.Len(t, snap.Nodes, 2, "surface nodes are not persisted")
	require.Len(t, snap.Connections, 1)

	restored, ev := newCanvas(t)
	sub, _ := ev.Subscribe("w", domain.Filter{})
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, 2, restored.NodeCount())
	assert.Equal(t, 1, restored.ConnectionCount())
	assert.Len(t, sub.Drain(), 3)

	n, err := restored.CreateNode("", geom(0, 0, 1, 1), "")
	require.NoError(t, err)
	assert.Greater(t, n.ID, s.ID, "ids continue after the snapshot counter")

	snap.Version = 99
	assert.ErrorIs(t, restored.Restore(snap), domain.ErrInvalidRequest)
}

func TestCanvas_DestroyHookAndClose(t *testing.T) {
	var gone []domain.NodeID
	ev := events.NewManager()
	c := runtime.New(runtime.DefaultConfig(), ev, runtime.OnDestroy(func(n domain.Node) {
		gone = append(gone, n.ID)
	}))
	n, _ := c.CreateNode("", geom(0, 0, 1, 1), "")
	require.NoError(t, c.DestroyNode(n.ID))
	assert.Equal(t, []domain.NodeID{n.ID}, gone)

	_, _ = c.CreateNode("", geom(0, 0, 1, 1), "")
	c.Close()
	assert.Equal(t, 0, c.NodeCount())
	assert.Empty(t, c.QueryIDs(c.Bounds()))
}
