package graph_test

import (
	"strings"
	"testing"

	"github.com/loomwm/loom/internal/presentation/graph"
	"github.com/loomwm/loom/pkg/domain"
)

func TestGenerateMermaid(t *testing.T) {
	surface := domain.SurfaceID("term-1")
	tests := []struct {
		name     string
		nodes    []domain.Node
		conns    []domain.Connection
		contains []string
	}{
		{
			name: "Node Shapes",
			nodes: []domain.Node{
				{ID: 1, Label: "notes"},
				{ID: 2},
				{ID: 3, Surface: &surface},
			},
			contains: []string{
				`n1["notes"]`,
				`n2(("#2"))`,
				`n3[["term-1"]]`,
			},
		},
		{
			name:  "Label Escaping",
			nodes: []domain.Node{{ID: 1, Label: `say "hi"`}},
			contains: []string{
				`n1["say 'hi'"]`,
			},
		},
		{
			name: "Connection Styles",
			nodes: []domain.Node{
				{ID: 1}, {ID: 2},
			},
			conns: []domain.Connection{
				{ID: 1, Source: 1, Target: 2, Kind: domain.ConnectionData, Directed: true},
				{ID: 2, Source: 2, Target: 1, Kind: domain.ConnectionReference, Directed: true},
				{ID: 3, Source: 1, Target: 2, Kind: domain.ConnectionTemporal},
				{ID: 4, Source: 1, Target: 2, Kind: domain.ConnectionData},
			},
			contains: []string{
				"n1 --> n2",
				"n2 -.-> n1",
				"n1 === n2",
				"n1 --- n2",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.nodes, tt.conns, nil)
			if !strings.HasPrefix(got, "graph LR\n") {
				t.Errorf("missing header in:\n%s", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("expected output to contain %q, got:\n%s", want, got)
				}
			}
		})
	}
}

func TestGenerateMermaid_SortedOutput(t *testing.T) {
	got := graph.GenerateMermaid([]domain.Node{{ID: 3}, {ID: 1}}, nil, nil)
	if strings.Index(got, "n1") > strings.Index(got, "n3") {
		t.Errorf("nodes should be emitted in id order:\n%s", got)
	}
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	overlay := &graph.Overlay{Focused: 2, Selected: []domain.NodeID{1, 1, 0}}
	got := graph.GenerateMermaid([]domain.Node{{ID: 1}, {ID: 2}}, nil, overlay)

	if c := strings.Count(got, "class n1 selected;"); c != 1 {
		t.Errorf("selected class should be applied once, got %d:\n%s", c, got)
	}
	if !strings.Contains(got, "class n2 focused;") {
		t.Errorf("missing focused class:\n%s", got)
	}
	if strings.Contains(got, "class n0") {
		t.Errorf("zero ids must be skipped:\n%s", got)
	}
}
