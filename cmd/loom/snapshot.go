package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomwm/loom"
	"github.com/loomwm/loom/pkg/domain"
)

// loadSnapshot reads the stored snapshot of the --canvas flag, falling back to
// the configured canvas id.
func loadSnapshot(cmd *cobra.Command) (*domain.Snapshot, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	id := cfg.Canvas.ID
	if v, _ := cmd.Flags().GetString("canvas"); v != "" {
		id = v
	}

	storage, err := loom.OpenStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	defer storage.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	snap, err := storage.Store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("canvas %s: %w", id, err)
	}
	return snap, nil
}
