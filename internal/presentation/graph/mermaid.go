package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/loomwm/loom/pkg/domain"
)

// Overlay highlights live interaction state on the graph.
type Overlay struct {
	Focused  domain.NodeID
	Selected []domain.NodeID
}

// GenerateMermaid renders nodes and connections as a Mermaid flowchart.
// Node shapes:
// - Surface window: [[Subroutine]]
// - Labeled node: [Rectangle]
// - Unlabeled node: ((Circle))
// Connection styles follow the kind: data is solid, reference is dotted and
// temporal is thick. Undirected connections have no arrow head.
func GenerateMermaid(nodes []domain.Node, conns []domain.Connection, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	nodes = slices.Clone(nodes)
	slices.SortFunc(nodes, func(a, b domain.Node) int { return cmpID(a.ID, b.ID) })
	for _, n := range nodes {
		opener, closer := "[", "]"
		text := escape(n.Label)
		switch {
		case n.Surface != nil:
			opener, closer = "[[", "]]"
			if text == "" {
				text = escape(string(*n.Surface))
			}
		case text == "":
			opener, closer = "((", "))"
			text = "#" + n.ID.String()
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", nodeRef(n.ID), opener, text, closer)
	}

	conns = slices.Clone(conns)
	slices.SortFunc(conns, func(a, b domain.Connection) int { return cmpID(a.ID, b.ID) })
	for _, c := range conns {
		fmt.Fprintf(&sb, "    %s %s %s\n", nodeRef(c.Source), arrow(c), nodeRef(c.Target))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps contrast on light fills in both themes.
		sb.WriteString("    classDef selected fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef focused fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[domain.NodeID]bool)
		for _, id := range overlay.Selected {
			if id != 0 && !seen[id] {
				seen[id] = true
				fmt.Fprintf(&sb, "    class %s selected;\n", nodeRef(id))
			}
		}
		if overlay.Focused != 0 {
			fmt.Fprintf(&sb, "    class %s focused;\n", nodeRef(overlay.Focused))
		}
	}

	return sb.String()
}

func arrow(c domain.Connection) string {
	switch c.Kind {
	case domain.ConnectionReference:
		if c.Directed {
			return "-.->"
		}
		return "-.-"
	case domain.ConnectionTemporal:
		if c.Directed {
			return "==>"
		}
		return "==="
	}
	if c.Directed {
		return "-->"
	}
	return "---"
}

func nodeRef(id domain.NodeID) string { return "n" + id.String() }

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func cmpID[T ~uint64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
