package tui

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/loomwm/loom/pkg/domain"
)

// Summary renders a snapshot as a markdown report: totals, one table row per
// node and one per connection.
func Summary(snap *domain.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Canvas `%s`\n\n", snap.CanvasID)
	fmt.Fprintf(&sb, "- **Nodes:** %d\n- **Connections:** %d\n", len(snap.Nodes), len(snap.Connections))
	if !snap.SavedAt.IsZero() {
		fmt.Fprintf(&sb, "- **Saved:** %s\n", snap.SavedAt.Format("2006-01-02 15:04:05"))
	}
	for _, v := range snap.Viewports {
		fmt.Fprintf(&sb, "- **Output %s:** %gx%g at (%g, %g), zoom %g\n",
			v.Output, v.Width, v.Height, v.Pan.X, v.Pan.Y, v.Zoom)
	}

	if len(snap.Nodes) > 0 {
		nodes := slices.Clone(snap.Nodes)
		slices.SortFunc(nodes, func(a, b domain.Node) int { return cmp.Compare(a.ID, b.ID) })
		sb.WriteString("\n## Nodes\n\n| ID | Kind | Label | Position | Size | Z | Owner |\n|---|---|---|---|---|---|---|\n")
		for _, n := range nodes {
			g := n.Geometry
			fmt.Fprintf(&sb, "| %d | %s | %s | (%g, %g) | %gx%g | %d | %s |\n",
				n.ID, kind(n.Content), cell(n.Label), g.X, g.Y, g.Width, g.Height, g.Z, cell(string(n.Owner)))
		}
	}

	if len(snap.Connections) > 0 {
		sb.WriteString("\n## Connections\n\n| ID | Source | Target | Kind | Directed |\n|---|---|---|---|---|\n")
		for _, c := range snap.Connections {
			fmt.Fprintf(&sb, "| %d | %d | %d | %s | %t |\n", c.ID, c.Source, c.Target, c.Kind, c.Directed)
		}
	}
	return sb.String()
}

func kind(c domain.Content) string {
	switch c.Kind {
	case "":
		return "-"
	case domain.NodeGroup:
		return fmt.Sprintf("group of %d", len(c.Children))
	case domain.NodeMedia:
		return "media " + cell(c.Path)
	}
	return string(c.Kind)
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}
