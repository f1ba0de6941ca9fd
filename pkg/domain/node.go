package domain

import (
	"fmt"
	"slices"
	"strconv"
	"time"
)

// NodeID identifies a node. Ids are assigned from 1 and never reused within a
// process.
type NodeID uint64

func (id NodeID) String() string { return strconv.FormatUint(uint64(id), 10) }

// SurfaceID is the lookup key of an external client surface.
type SurfaceID string

// ClientID identifies a protocol client.
type ClientID string

// OutputID identifies a physical or nested output a viewport renders to.
type OutputID string

// NodeKind says what a node holds.
type NodeKind string

const (
	NodeSurface   NodeKind = "surface"
	NodeGenerated NodeKind = "generated"
	NodeGroup     NodeKind = "group"
	NodeNote      NodeKind = "note"
	NodeMedia     NodeKind = "media"
)

// ParseNodeKind validates a wire value. The empty string reads as a note.
func ParseNodeKind(s string) (NodeKind, error) {
	switch k := NodeKind(s); k {
	case "":
		return NodeNote, nil
	case NodeSurface, NodeGenerated, NodeGroup, NodeNote, NodeMedia:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown node kind %q", ErrInvalidRequest, s)
}

// Content is the kind-specific payload of a node. Only the field belonging to
// Kind may be set: Body for generated, Text for note, Path for media and
// Children for group. Surface nodes carry no payload; their pixels live with
// the client.
type Content struct {
	Kind     NodeKind `json:"kind" yaml:"kind"`
	Body     string   `json:"body,omitempty" yaml:"body,omitempty"`
	Text     string   `json:"text,omitempty" yaml:"text,omitempty"`
	Path     string   `json:"path,omitempty" yaml:"path,omitempty"`
	Children []NodeID `json:"children,omitempty" yaml:"children,omitempty"`
}

// Validate checks the payload against its kind. Group children are checked
// for shape only; whether they are live is up to the registry.
func (c Content) Validate() error {
	if _, err := ParseNodeKind(string(c.Kind)); err != nil || c.Kind == "" {
		return fmt.Errorf("%w: unknown node kind %q", ErrInvalidRequest, c.Kind)
	}
	stray := func(field string) error {
		return fmt.Errorf("%w: %s is not valid on a %s node", ErrInvalidRequest, field, c.Kind)
	}
	switch {
	case c.Body != "" && c.Kind != NodeGenerated:
		return stray("content")
	case c.Text != "" && c.Kind != NodeNote:
		return stray("text")
	case c.Path != "" && c.Kind != NodeMedia:
		return stray("path")
	case len(c.Children) > 0 && c.Kind != NodeGroup:
		return stray("children")
	case c.Kind == NodeMedia && c.Path == "":
		return fmt.Errorf("%w: media node needs a path", ErrInvalidRequest)
	}
	seen := make(map[NodeID]bool, len(c.Children))
	for _, id := range c.Children {
		if id == 0 || seen[id] {
			return fmt.Errorf("%w: bad or repeated group child %d", ErrInvalidRequest, id)
		}
		seen[id] = true
	}
	return nil
}

// Node is a positioned, sized and rotatable canvas entity.
// Values of Node handed out by the canvas are snapshots; mutating them has no
// effect on the canvas.
type Node struct {
	ID        NodeID     `json:"id" yaml:"id"`
	Geometry  Geometry   `json:"geometry" yaml:"geometry"`
	Label     string     `json:"label,omitempty" yaml:"label,omitempty"`
	Content   Content    `json:"content" yaml:"content"`
	Owner     ClientID   `json:"owner,omitempty" yaml:"owner,omitempty"`
	Surface   *SurfaceID `json:"surface,omitempty" yaml:"-"`
	Dirty     bool       `json:"dirty" yaml:"-"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
}

// Bounds is the node's axis-aligned bounding box in canvas space.
func (n Node) Bounds() Rect { return n.Geometry.Bounds() }

// Renderable reports whether the node is bound to a surface.
func (n Node) Renderable() bool { return n.Surface != nil }

// NodeInfo is the protocol view of a node.
type NodeInfo struct {
	ID       NodeID   `json:"id"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    float64  `json:"width"`
	Height   float64  `json:"height"`
	Scale    float64  `json:"scale"`
	Rotation float64  `json:"rotation"`
	Z        int      `json:"z_order"`
	Label    string   `json:"label,omitempty"`
	Bound    bool     `json:"bound"`
	Kind     NodeKind `json:"kind"`
	Body     string   `json:"content,omitempty"`
	Text     string   `json:"text,omitempty"`
	Path     string   `json:"path,omitempty"`
	Children []NodeID `json:"children,omitempty"`
}

// Info converts the node into its protocol view.
func (n Node) Info() NodeInfo {
	g := n.Geometry
	return NodeInfo{
		ID:       n.ID,
		X:        g.X,
		Y:        g.Y,
		Width:    g.Width,
		Height:   g.Height,
		Scale:    g.Scale,
		Rotation: g.Rotation,
		Z:        g.Z,
		Label:    n.Label,
		Bound:    n.Surface != nil,
		Kind:     n.Content.Kind,
		Body:     n.Content.Body,
		Text:     n.Content.Text,
		Path:     n.Content.Path,
		Children: slices.Clone(n.Content.Children),
	}
}
