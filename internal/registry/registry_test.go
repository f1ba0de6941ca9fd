package registry_test

import (
	"math"
	"testing"
	"time"

	"github.com/loomwm/loom/internal/registry"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geom(x, y, w, h float64) domain.Geometry {
	return domain.Geometry{X: x, Y: y, Width: w, Height: h, Scale: 1}
}

func TestRegistry_CreateAssignsMonotonicIDs(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := registry.New(registry.WithClock(func() time.Time { return fixed }))

	a, err := r.Create("c1", geom(0, 0, 100, 100), "a", domain.Content{})
	require.NoError(t, err)
	b, err := r.Create("", domain.Geometry{X: 10, Y: 10, Width: 5, Height: 5}, "", domain.Content{})
	require.NoError(t, err)

	assert.Equal(t, domain.NodeID(1), a.ID)
	assert.Equal(t, domain.NodeID(2), b.ID)
	assert.Equal(t, 1.0, b.Geometry.Scale, "zero scale defaults to 1")
	assert.True(t, a.Dirty)
	assert.Equal(t, fixed, a.CreatedAt)
	assert.Equal(t, 1, r.Owned("c1"))

	_, _, err = r.Destroy(a.ID)
	require.NoError(t, err)
	c, err := r.Create("", geom(0, 0, 1, 1), "", domain.Content{})
	require.NoError(t, err)
	assert.Equal(t, domain.NodeID(3), c.ID, "ids are never reused")
	assert.Equal(t, 0, r.Owned("c1"))
}

func TestRegistry_ResourceExhausted(t *testing.T) {
	r := registry.New()
	for i := 0; i < registry.DefaultMaxNodes; i++ {
		_, err := r.Create("", geom(0, 0, 1, 1), "", domain.Content{})
		require.NoError(t, err)
	}

	_, err := r.Create("", geom(0, 0, 1, 1), "", domain.Content{})
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)
	assert.Equal(t, registry.DefaultMaxNodes, r.Len())
}

func TestRegistry_Validation(t *testing.T) {
	r := registry.New(registry.WithBounds(domain.RectFromBounds(-1000, -1000, 1000, 1000)))

	tests := []struct {
		name string
		g    domain.Geometry
	}{
		{"NaN", domain.Geometry{X: math.NaN(), Width: 1, Height: 1, Scale: 1}},
		{"Infinite Size", domain.Geometry{Width: math.Inf(1), Height: 1, Scale: 1}},
		{"Zero Width", domain.Geometry{Width: 0, Height: 1, Scale: 1}},
		{"Negative Height", domain.Geometry{Width: 1, Height: -1, Scale: 1}},
		{"Negative Scale", domain.Geometry{Width: 1, Height: 1, Scale: -2}},
		{"Out Of Bounds", geom(990, 0, 20, 20)},
		{"Z Above Range", domain.Geometry{Width: 1, Height: 1, Scale: 1, Z: domain.MaxZ + 1}},
		{"Z Below Range", domain.Geometry{Width: 1, Height: 1, Scale: 1, Z: math.MinInt}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create("", tt.g, "", domain.Content{})
			assert.ErrorIs(t, err, domain.ErrInvalidGeometry)
		})
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_MutateIsAllOrNothing(t *testing.T) {
	r := registry.New()
	n, err := r.Create("", geom(0, 0, 100, 100), "", domain.Content{})
	require.NoError(t, err)
	r.Consume([]domain.NodeID{n.ID})

	_, _, err = r.Mutate(n.ID, func(g *domain.Geometry) {
		g.X = 50
		g.Width = -1
	})
	assert.ErrorIs(t, err, domain.ErrInvalidGeometry)

	got, err := r.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Geometry.X, "failed mutation leaves the node unchanged")
	assert.False(t, got.Dirty)

	before, after, err := r.Mutate(n.ID, func(g *domain.Geometry) { g.X, g.Y = 10, 20 })
	require.NoError(t, err)
	assert.Equal(t, 0.0, before.Geometry.X)
	assert.Equal(t, domain.Point{X: 10, Y: 20}, domain.Point{X: after.Geometry.X, Y: after.Geometry.Y})
	assert.True(t, after.Dirty)

	_, _, err = r.Mutate(999, func(*domain.Geometry) {})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_DestroyUnknown(t *testing.T) {
	r := registry.New()
	_, _, err := r.Destroy(42)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	n, _ := r.Create("", geom(0, 0, 1, 1), "", domain.Content{})
	_, _, err = r.Destroy(n.ID)
	require.NoError(t, err)
	_, _, err = r.Destroy(n.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_DamageAndConsume(t *testing.T) {
	r := registry.New()
	n, _ := r.Create("", geom(0, 0, 100, 100), "", domain.Content{})
	r.Consume([]domain.NodeID{n.ID})

	require.NoError(t, r.AddDamage(n.ID, domain.Rect{X: 0, Y: 0, Width: 10, Height: 10}))
	got, _ := r.Get(n.ID)
	assert.True(t, got.Dirty)
	assert.Len(t, r.Damage(n.ID), 1)

	r.Consume([]domain.NodeID{n.ID})
	got, _ = r.Get(n.ID)
	assert.False(t, got.Dirty)
	assert.Empty(t, r.Damage(n.ID))
}

func TestRegistry_Restore(t *testing.T) {
	r := registry.New()
	sid := domain.SurfaceID("s")
	skipped := r.Restore([]domain.Node{
		{ID: 4, Geometry: geom(0, 0, 10, 10), Surface: &sid},
		{ID: 9, Geometry: geom(0, 0, 10, 10)},
		{ID: 10, Geometry: geom(0, 0, -1, 10)},
	}, 7)

	assert.Equal(t, []domain.NodeID{10}, skipped)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, domain.NodeID(10), r.Next())

	n, err := r.Get(4)
	require.NoError(t, err)
	assert.Nil(t, n.Surface, "restored nodes are never bound")
}

func TestRegistry_CountsNodesPerZ(t *testing.T) {
	r := registry.New()
	a, _ := r.Create("", geom(0, 0, 1, 1), "", domain.Content{})
	b, _ := r.Create("", geom(0, 0, 1, 1), "", domain.Content{})
	assert.Equal(t, 2, r.AtZ(0))

	_, _, err := r.Mutate(a.ID, func(g *domain.Geometry) { g.Z = 5 })
	require.NoError(t, err)
	assert.Equal(t, 1, r.AtZ(0))
	assert.Equal(t, 1, r.AtZ(5))
	assert.Equal(t, 5, r.TopZ())

	_, _, err = r.Destroy(b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, r.AtZ(0))

	r.Clear()
	assert.Equal(t, 0, r.AtZ(5))

	r.Restore([]domain.Node{
		{ID: 7, Geometry: domain.Geometry{Width: 1, Height: 1, Scale: 1, Z: 3}},
		{ID: 8, Geometry: domain.Geometry{Width: 1, Height: 1, Scale: 1, Z: 3}},
	}, 0)
	assert.Equal(t, 2, r.AtZ(3))
}

func TestRegistry_ZOrderRange(t *testing.T) {
	r := registry.New()
	n, err := r.Create("", domain.Geometry{Width: 1, Height: 1, Z: domain.MaxZ}, "", domain.Content{})
	require.NoError(t, err)

	_, _, err = r.Mutate(n.ID, func(g *domain.Geometry) { g.Z++ })
	assert.ErrorIs(t, err, domain.ErrInvalidGeometry)
	_, _, err = r.Mutate(n.ID, func(g *domain.Geometry) { g.Z = -domain.MaxZ })
	assert.NoError(t, err)

	skipped := r.Restore([]domain.Node{{ID: 5, Geometry: domain.Geometry{Width: 1, Height: 1, Scale: 1, Z: math.MaxInt}}}, 0)
	assert.Equal(t, []domain.NodeID{5}, skipped)
}

func TestRegistry_ContentValidation(t *testing.T) {
	r := registry.New()
	live, err := r.Create("", geom(0, 0, 1, 1), "", domain.Content{})
	require.NoError(t, err)
	assert.Equal(t, domain.NodeNote, live.Content.Kind, "empty kind reads as a note")

	tests := []struct {
		name    string
		content domain.Content
		want    error
	}{
		{"Unknown Kind", domain.Content{Kind: "hologram"}, domain.ErrInvalidRequest},
		{"Surface Kind", domain.Content{Kind: domain.NodeSurface}, domain.ErrInvalidRequest},
		{"Text On Media", domain.Content{Kind: domain.NodeMedia, Path: "a.png", Text: "x"}, domain.ErrInvalidRequest},
		{"Media Without Path", domain.Content{Kind: domain.NodeMedia}, domain.ErrInvalidRequest},
		{"Children On Note", domain.Content{Kind: domain.NodeNote, Children: []domain.NodeID{live.ID}}, domain.ErrInvalidRequest},
		{"Repeated Child", domain.Content{Kind: domain.NodeGroup, Children: []domain.NodeID{live.ID, live.ID}}, domain.ErrInvalidRequest},
		{"Dead Child", domain.Content{Kind: domain.NodeGroup, Children: []domain.NodeID{99}}, domain.ErrInvalidEndpoint},
		{"Self As Child", domain.Content{Kind: domain.NodeGroup, Children: []domain.NodeID{r.Next()}}, domain.ErrInvalidEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create("", geom(0, 0, 1, 1), "", tt.content)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 1, r.Len())

	gen, err := r.Create("", geom(0, 0, 1, 1), "", domain.Content{Kind: domain.NodeGenerated, Body: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", gen.Content.Body)
}

func TestRegistry_DestroyPrunesGroups(t *testing.T) {
	r := registry.New()
	a, _ := r.Create("", geom(0, 0, 1, 1), "", domain.Content{})
	b, _ := r.Create("", geom(0, 0, 1, 1), "", domain.Content{Kind: domain.NodeMedia, Path: "cat.png"})
	g1, err := r.Create("", geom(0, 0, 1, 1), "", domain.Content{Kind: domain.NodeGroup, Children: []domain.NodeID{a.ID, b.ID}})
	require.NoError(t, err)
	g2, err := r.Create("", geom(0, 0, 1, 1), "", domain.Content{Kind: domain.NodeGroup, Children: []domain.NodeID{a.ID}})
	require.NoError(t, err)
	r.Consume([]domain.NodeID{g1.ID, g2.ID})
	assert.Equal(t, []domain.NodeID{g1.ID, g2.ID}, r.Groups(a.ID))

	_, pruned, err := r.Destroy(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.NodeID{g1.ID, g2.ID}, pruned)

	got, _ := r.Get(g1.ID)
	assert.Equal(t, []domain.NodeID{b.ID}, got.Content.Children)
	assert.True(t, got.Dirty)
	got, _ = r.Get(g2.ID)
	assert.Empty(t, got.Content.Children)
	assert.Empty(t, r.Groups(a.ID))

	_, pruned, err = r.Destroy(g1.ID)
	require.NoError(t, err)
	assert.Empty(t, pruned)
	assert.Empty(t, r.Groups(b.ID), "a destroyed group no longer claims its children")
}

func TestRegistry_RestoreGroups(t *testing.T) {
	r := registry.New()
	skipped := r.Restore([]domain.Node{
		{ID: 3, Geometry: geom(0, 0, 10, 10), Content: domain.Content{Kind: domain.NodeGroup, Children: []domain.NodeID{3, 4, 8}}},
		{ID: 4, Geometry: geom(0, 0, 10, 10), Content: domain.Content{Kind: domain.NodeNote, Text: "later in the list"}},
		{ID: 5, Geometry: geom(0, 0, 10, 10), Content: domain.Content{Kind: domain.NodeMedia}},
		{ID: 6, Geometry: geom(0, 0, 10, 10)},
	}, 0)

	assert.Equal(t, []domain.NodeID{5}, skipped)
	g, err := r.Get(3)
	require.NoError(t, err)
	assert.Equal(t, []domain.NodeID{4}, g.Content.Children, "self and missing children are dropped")
	assert.Equal(t, []domain.NodeID{3}, r.Groups(4))

	plain, _ := r.Get(6)
	assert.Equal(t, domain.NodeNote, plain.Content.Kind)
}

func TestRegistry_BindSetsSurfaceKind(t *testing.T) {
	r := registry.New()
	n, _ := r.Create("", geom(0, 0, 1, 1), "", domain.Content{Kind: domain.NodeNote, Text: "draft"})
	sid := domain.SurfaceID("s")
	require.NoError(t, r.Bind(n.ID, &sid))

	got, _ := r.Get(n.ID)
	assert.Equal(t, domain.Content{Kind: domain.NodeSurface}, got.Content)
}
