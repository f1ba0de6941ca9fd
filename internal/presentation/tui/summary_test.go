package tui_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomwm/loom/internal/presentation/tui"
	"github.com/loomwm/loom/pkg/domain"
)

func TestSummary(t *testing.T) {
	snap := &domain.Snapshot{
		CanvasID: "main",
		Nodes: []domain.Node{
			{ID: 2, Geometry: domain.Geometry{X: 5, Y: 6, Width: 10, Height: 20, Z: 3}},
			{ID: 3, Content: domain.Content{Kind: domain.NodeGroup, Children: []domain.NodeID{1, 2}}, Geometry: domain.Geometry{Width: 1, Height: 1}},
			{ID: 4, Content: domain.Content{Kind: domain.NodeMedia, Path: "a.png"}, Geometry: domain.Geometry{Width: 1, Height: 1}},
			{ID: 1, Label: "a|b", Owner: "ai", Geometry: domain.Geometry{Width: 1, Height: 1}},
		},
		Connections: []domain.Connection{{ID: 1, Source: 1, Target: 2, Kind: domain.ConnectionData, Directed: true}},
	}

	out := tui.Summary(snap)
	assert.Contains(t, out, "# Canvas `main`")
	assert.Contains(t, out, "- **Nodes:** 4")
	assert.Contains(t, out, "| 1 | - | a\\|b | (0, 0) | 1x1 | 0 | ai |")
	assert.Contains(t, out, "| 2 | - | - | (5, 6) | 10x20 | 3 | - |")
	assert.Contains(t, out, "| 3 | group of 2 | - |")
	assert.Contains(t, out, "| 4 | media a.png | - |")
	assert.Contains(t, out, "| 1 | 1 | 2 | data | true |")
	assert.Less(t, bytes.Index([]byte(out), []byte("| 1 | -")), bytes.Index([]byte(out), []byte("| 2 | -")))
}

func TestSummary_Empty(t *testing.T) {
	out := tui.Summary(&domain.Snapshot{CanvasID: "empty"})
	assert.NotContains(t, out, "## Nodes")
	assert.NotContains(t, out, "## Connections")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	tui.PrintBanner(&buf, "v1.2.3")
	assert.Contains(t, buf.String(), "infinite canvas v1.2.3")
}
