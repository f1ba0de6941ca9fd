package ports

import (
	"context"
	"testing"
	"time"

	"github.com/loomwm/loom/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractSnapshot(canvasID string) *domain.Snapshot {
	return &domain.Snapshot{
		Version:          domain.SnapshotVersion,
		CanvasID:         canvasID,
		SavedAt:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		NextNodeID:       3,
		NextConnectionID: 2,
		Nodes: []domain.Node{
			{ID: 1, Geometry: domain.Geometry{X: 0, Y: 0, Width: 100, Height: 100, Scale: 1}, Label: "a", Owner: "ai",
				Content: domain.Content{Kind: domain.NodeNote, Text: "first"}},
			{ID: 2, Geometry: domain.Geometry{X: 500, Y: 500, Width: 100, Height: 50, Scale: 1.5, Rotation: 0.5, Z: 2}, Label: "b",
				Content: domain.Content{Kind: domain.NodeGroup, Children: []domain.NodeID{1}}},
		},
		Connections: []domain.Connection{
			{ID: 1, Source: 1, Target: 2, Kind: domain.ConnectionData, Directed: true, Owner: "ai"},
		},
		Viewports: []domain.ViewportState{
			{Output: "default", Pan: domain.Point{X: -960, Y: -540}, Zoom: 1, Width: 1920, Height: 1080},
		},
	}
}

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore implementation
// adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	canvasID := "contract-test-canvas-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		snap := contractSnapshot(canvasID)
		err := store.Save(ctx, canvasID, snap)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, canvasID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, snap.Version, loaded.Version)
		assert.Equal(t, snap.NextNodeID, loaded.NextNodeID)
		assert.Equal(t, snap.NextConnectionID, loaded.NextConnectionID)
		require.Len(t, loaded.Nodes, 2)
		assert.Equal(t, snap.Nodes[1].Geometry, loaded.Nodes[1].Geometry)
		assert.Equal(t, "a", loaded.Nodes[0].Label)
		assert.Equal(t, snap.Nodes[0].Content, loaded.Nodes[0].Content)
		assert.Equal(t, snap.Nodes[1].Content, loaded.Nodes[1].Content)
		assert.Equal(t, snap.Connections, loaded.Connections)
		assert.Equal(t, snap.Viewports, loaded.Viewports)
		assert.True(t, snap.SavedAt.Equal(loaded.SavedAt))
	})

	t.Run("Save Replaces", func(t *testing.T) {
		snap := contractSnapshot(canvasID)
		snap.Nodes = snap.Nodes[:1]
		snap.Connections = nil
		require.NoError(t, store.Save(ctx, canvasID, snap))

		loaded, err := store.Load(ctx, canvasID)
		require.NoError(t, err)
		assert.Len(t, loaded.Nodes, 1)
		assert.Empty(t, loaded.Connections)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+canvasID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, canvasID, contractSnapshot(canvasID))
		require.NoError(t, err)

		err = store.Delete(ctx, canvasID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, canvasID)
		assert.ErrorIs(t, err, domain.ErrNotFound, "Load after Delete should return ErrNotFound")

		assert.NoError(t, store.Delete(ctx, canvasID), "deleting twice is fine")
	})

	t.Run("List", func(t *testing.T) {
		id1 := canvasID + "-1"
		id2 := canvasID + "-2"
		_ = store.Save(ctx, id1, contractSnapshot(id1))
		_ = store.Save(ctx, id2, contractSnapshot(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
