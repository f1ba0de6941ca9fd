package domain

import (
	"slices"
	"time"
)

// SnapshotVersion is the current snapshot format.
const SnapshotVersion = 1

// ViewportState is the persisted pan and zoom of one output.
type ViewportState struct {
	Output OutputID `json:"output" yaml:"output"`
	Pan    Point    `json:"pan" yaml:"pan"`
	Zoom   float64  `json:"zoom" yaml:"zoom"`
	Width  float64  `json:"width" yaml:"width"`
	Height float64  `json:"height" yaml:"height"`
}

// Snapshot is the durable part of a canvas: nodes not bound to a surface, the
// connections between them and the viewport of every output.
type Snapshot struct {
	Version          int             `json:"version" yaml:"version"`
	CanvasID         string          `json:"canvas_id" yaml:"canvas_id"`
	SavedAt          time.Time       `json:"saved_at" yaml:"saved_at"`
	NextNodeID       NodeID          `json:"next_node_id" yaml:"next_node_id"`
	NextConnectionID ConnectionID    `json:"next_connection_id" yaml:"next_connection_id"`
	Nodes            []Node          `json:"nodes" yaml:"nodes"`
	Connections      []Connection    `json:"connections" yaml:"connections"`
	Viewports        []ViewportState `json:"viewports,omitempty" yaml:"viewports,omitempty"`
	// Sealed holds the encrypted form of the whole snapshot when the store
	// encrypts at rest. A sealed snapshot carries no nodes or connections.
	Sealed string `json:"sealed,omitempty" yaml:"sealed,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Nodes = append([]Node(nil), s.Nodes...)
	for i := range c.Nodes {
		if sid := c.Nodes[i].Surface; sid != nil {
			v := *sid
			c.Nodes[i].Surface = &v
		}
		c.Nodes[i].Content.Children = slices.Clone(c.Nodes[i].Content.Children)
	}
	c.Connections = append([]Connection(nil), s.Connections...)
	c.Viewports = append([]ViewportState(nil), s.Viewports...)
	return &c
}
