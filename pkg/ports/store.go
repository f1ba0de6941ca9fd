package ports

import (
	"context"

	"github.com/loomwm/loom/pkg/domain"
)

// SnapshotStore defines the interface for persisting canvas snapshots.
type SnapshotStore interface {
	// Save persists the snapshot of a canvas, replacing any previous one.
	Save(ctx context.Context, canvasID string, snap *domain.Snapshot) error

	// Load retrieves the snapshot of a canvas.
	// Returns domain.ErrNotFound if the canvas has never been saved.
	Load(ctx context.Context, canvasID string) (*domain.Snapshot, error)

	// Delete removes the snapshot of a canvas. Deleting an absent canvas is not an error.
	Delete(ctx context.Context, canvasID string) error

	// List returns the ids of every stored canvas.
	List(ctx context.Context) ([]string, error)
}
