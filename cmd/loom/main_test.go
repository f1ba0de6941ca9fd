package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwm/loom/pkg/adapters/file"
	"github.com/loomwm/loom/pkg/domain"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, snapshots string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[canvas]\nid = \"desk\"\n\n[storage]\nbackend = \"file\"\npath = \"" + filepath.ToSlash(snapshots) + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "loom version")
}

func TestConfigCommand(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	out, err := run(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `id = "desk"`)
	assert.Contains(t, out, `backend = "file"`)
}

func TestGraphAndInspectCommands(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	snap := &domain.Snapshot{
		Version: domain.SnapshotVersion,
		Nodes: []domain.Node{
			{ID: 1, Label: "plan", Geometry: domain.Geometry{Width: 10, Height: 10, Scale: 1}},
			{ID: 2, Label: "code", Geometry: domain.Geometry{X: 20, Width: 10, Height: 10, Scale: 1}},
		},
		Connections: []domain.Connection{{ID: 1, Source: 1, Target: 2, Kind: domain.ConnectionData, Directed: true}},
	}
	require.NoError(t, store.Save(context.Background(), "desk", snap))
	path := writeConfig(t, dir)

	out, err := run(t, "graph", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "graph LR")
	assert.Contains(t, out, "n1 --> n2")

	out, err = run(t, "inspect", "--config", path, "--raw")
	require.NoError(t, err)
	assert.Contains(t, out, "plan")

	_, err = run(t, "graph", "--config", path, "--canvas", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
