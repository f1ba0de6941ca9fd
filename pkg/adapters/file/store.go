// Package file persists canvas snapshots as YAML documents on the local
// filesystem.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomwm/loom/pkg/domain"
	"gopkg.in/yaml.v3"
)

const ext = ".yaml"

// Store implements ports.SnapshotStore with one file per canvas.
type Store struct {
	BasePath string
}

// New creates a Store rooted at basePath.
// If basePath is empty, it defaults to ".loom/snapshots".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".loom", "snapshots")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(canvasID string) string {
	return filepath.Join(s.BasePath, canvasID+ext)
}

func validID(canvasID string) error {
	if canvasID == "" {
		return fmt.Errorf("%w: canvas id cannot be empty", domain.ErrInvalidRequest)
	}
	if strings.ContainsAny(canvasID, `/\`) || canvasID == "." || canvasID == ".." {
		return fmt.Errorf("%w: canvas id %q is not a valid file name", domain.ErrInvalidRequest, canvasID)
	}
	return nil
}

// Save writes the snapshot atomically: the document goes to a temp file in
// the same directory, is synced, and is then renamed over the destination.
func (s *Store) Save(ctx context.Context, canvasID string, snap *domain.Snapshot) error {
	if err := validID(canvasID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure snapshot directory: %w", err)
	}

	c := snap.Clone()
	c.CanvasID = canvasID
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.BasePath, "tmp-"+canvasID+"-*"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	dest := s.path(canvasID)
	// os.Rename does not replace an existing file on Windows.
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("failed to replace snapshot file: %w", err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads the snapshot of canvasID.
func (s *Store) Load(ctx context.Context, canvasID string) (*domain.Snapshot, error) {
	if err := validID(canvasID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(canvasID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: snapshot %q", domain.ErrNotFound, canvasID)
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap domain.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Delete removes the snapshot file. A missing file is not an error.
func (s *Store) Delete(ctx context.Context, canvasID string) error {
	if err := validID(canvasID); err != nil {
		return err
	}
	if err := os.Remove(s.path(canvasID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}
	return nil
}

// List returns the ids of every stored canvas in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ext || strings.HasPrefix(name, "tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)
	return ids, nil
}
