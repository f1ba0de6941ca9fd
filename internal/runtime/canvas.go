// Package runtime sequences every canvas mutation: a registry change is
// followed synchronously by the matching spatial index update and event
// publication before the call returns.
package runtime

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/loomwm/loom/internal/graph"
	"github.com/loomwm/loom/internal/logging"
	"github.com/loomwm/loom/internal/registry"
	"github.com/loomwm/loom/internal/spatial"
	"github.com/loomwm/loom/internal/viewport"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/events"
)

// Config holds the canvas limits.
type Config struct {
	MaxNodes       int
	MaxConnections int
	Bounds         domain.Rect
}

// DefaultConfig mirrors the registry and graph defaults.
func DefaultConfig() Config {
	return Config{
		MaxNodes:       registry.DefaultMaxNodes,
		MaxConnections: graph.DefaultMaxConnections,
		Bounds:         domain.RectFromBounds(-registry.DefaultCoordLimit, -registry.DefaultCoordLimit, registry.DefaultCoordLimit, registry.DefaultCoordLimit),
	}
}

// Canvas owns the registry, spatial index and connection graph of one canvas
// instance. It is not safe for concurrent use: the engine event loop is its
// only caller.
type Canvas struct {
	registry *registry.Registry
	index    *spatial.Index
	graph    *graph.Graph
	events   *events.Manager

	logger    *slog.Logger
	clock     func() time.Time
	onDestroy []func(domain.Node)
}

// Option configures a Canvas.
type Option func(*Canvas)

// WithLogger sets a custom structured logger for the canvas.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Canvas) {
		c.logger = logger
	}
}

// WithClock overrides the timestamp source of nodes, connections and events.
func WithClock(clock func() time.Time) Option {
	return func(c *Canvas) {
		c.clock = clock
	}
}

// OnDestroy registers a hook that runs after a node has been destroyed.
func OnDestroy(fn func(domain.Node)) Option {
	return func(c *Canvas) {
		c.onDestroy = append(c.onDestroy, fn)
	}
}

// New creates an empty canvas publishing to ev.
func New(cfg Config, ev *events.Manager, opts ...Option) *Canvas {
	c := &Canvas{
		events: ev,
		logger: logging.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.Bounds.Empty() {
		cfg.Bounds = DefaultConfig().Bounds
	}
	c.registry = registry.New(
		registry.WithMaxNodes(cfg.MaxNodes),
		registry.WithBounds(cfg.Bounds),
		registry.WithClock(c.clock),
	)
	c.index = spatial.New(cfg.Bounds)
	c.graph = graph.New(c.registry.Has,
		graph.WithMaxConnections(cfg.MaxConnections),
		graph.WithClock(c.clock),
	)
	return c
}

// AddDestroyHook is OnDestroy for an already constructed canvas.
func (c *Canvas) AddDestroyHook(fn func(domain.Node)) {
	c.onDestroy = append(c.onDestroy, fn)
}

func (c *Canvas) Bounds() domain.Rect              { return c.registry.Bounds() }
func (c *Canvas) NodeCount() int                   { return c.registry.Len() }
func (c *Canvas) ConnectionCount() int             { return c.graph.Len() }
func (c *Canvas) TopZ() int                        { return c.registry.TopZ() }
func (c *Canvas) Has(id domain.NodeID) bool        { return c.registry.Has(id) }
func (c *Canvas) OwnedNodes(o domain.ClientID) int { return c.registry.Owned(o) }
func (c *Canvas) OwnedConnections(o domain.ClientID) int {
	return c.graph.Owned(o)
}

// Validate checks a geometry without creating anything.
func (c *Canvas) Validate(g domain.Geometry) error {
	if g.Scale == 0 {
		g.Scale = 1
	}
	return c.registry.Validate(g)
}

func (c *Canvas) publish(kind domain.EventKind, node domain.NodeID, conn domain.ConnectionID, bounds ...domain.Rect) {
	c.events.Publish(domain.Event{
		Kind:         kind,
		NodeID:       node,
		ConnectionID: conn,
		Timestamp:    c.clock(),
		Bounds:       bounds,
	})
}

// CreateNode adds an empty note node, indexes it and announces node_created.
func (c *Canvas) CreateNode(owner domain.ClientID, g domain.Geometry, label string) (domain.Node, error) {
	return c.CreateNodeWithContent(owner, g, label, domain.Content{})
}

// CreateNodeWithContent is CreateNode for a node of any kind but surface.
func (c *Canvas) CreateNodeWithContent(owner domain.ClientID, g domain.Geometry, label string, content domain.Content) (domain.Node, error) {
	n, err := c.registry.Create(owner, g, label, content)
	if err != nil {
		return domain.Node{}, err
	}
	c.index.Insert(n.ID, n.Bounds(), n.Geometry.Z)
	c.publish(domain.EventNodeCreated, n.ID, 0, n.Bounds())
	c.logger.Debug("node created", "node", n.ID, "kind", n.Content.Kind, "owner", owner)
	return n, nil
}

// Node returns a snapshot of a live node.
func (c *Canvas) Node(id domain.NodeID) (domain.Node, error) {
	return c.registry.Get(id)
}

// Nodes returns every live node ordered by id.
func (c *Canvas) Nodes() []domain.Node { return c.registry.All() }

// MutateNode applies transform atomically and announces node_moved. The event
// carries the node's new bounding box only.
func (c *Canvas) MutateNode(id domain.NodeID, transform func(*domain.Geometry)) (domain.Node, error) {
	_, after, err := c.registry.Mutate(id, transform)
	if err != nil {
		return domain.Node{}, err
	}
	c.index.Update(id, after.Bounds(), after.Geometry.Z)
	c.publish(domain.EventNodeMoved, id, 0, after.Bounds())
	return after, nil
}

// SetPosition moves the top-left corner of a node.
func (c *Canvas) SetPosition(id domain.NodeID, x, y float64) (domain.Node, error) {
	return c.MutateNode(id, func(g *domain.Geometry) { g.X, g.Y = x, y })
}

// Resize changes the unscaled size of a node.
func (c *Canvas) Resize(id domain.NodeID, width, height float64) (domain.Node, error) {
	return c.MutateNode(id, func(g *domain.Geometry) { g.Width, g.Height = width, height })
}

// Raise puts a node above every other node. It is a no-op for a node that is
// already alone on top. Once the top z-order reaches domain.MaxZ a raised
// node ties with the top instead.
func (c *Canvas) Raise(id domain.NodeID) (domain.Node, error) {
	n, err := c.registry.Get(id)
	if err != nil {
		return domain.Node{}, err
	}
	top := c.registry.TopZ()
	if n.Geometry.Z == top && c.registry.AtZ(top) == 1 {
		return n, nil
	}
	z := min(top, domain.MaxZ-1) + 1
	if n.Geometry.Z == z {
		return n, nil
	}
	return c.MutateNode(id, func(g *domain.Geometry) { g.Z = z })
}

// DestroyNode removes a node. Its connections are collected first and then
// destroyed, each announced with connection_destroyed, before the node itself
// leaves the index and registry and node_destroyed is announced.
func (c *Canvas) DestroyNode(id domain.NodeID) error {
	n, err := c.registry.Get(id)
	if err != nil {
		return err
	}

	incident := c.graph.Incident(id)
	for _, cid := range incident {
		if _, err := c.destroyConnection(cid); err != nil {
			return fmt.Errorf("cascade from node %d: %w", id, err)
		}
	}

	c.index.Remove(id)
	_, pruned, err := c.registry.Destroy(id)
	if err != nil {
		return err
	}
	if len(pruned) > 0 {
		c.logger.Debug("node left groups", "node", id, "groups", pruned)
	}
	c.publish(domain.EventNodeDestroyed, id, 0, n.Bounds())
	c.logger.Debug("node destroyed", "node", id, "cascaded_connections", len(incident))

	for _, fn := range c.onDestroy {
		fn(n)
	}
	return nil
}

// CreateConnection links two live nodes and announces connection_created.
func (c *Canvas) CreateConnection(owner domain.ClientID, source, target domain.NodeID, kind domain.ConnectionKind, directed bool) (domain.Connection, error) {
	conn, err := c.graph.Create(domain.Connection{
		Source:   source,
		Target:   target,
		Kind:     kind,
		Directed: directed,
		Owner:    owner,
	})
	if err != nil {
		return domain.Connection{}, err
	}
	c.publish(domain.EventConnectionCreated, 0, conn.ID, c.endpointBounds(conn)...)
	return conn, nil
}

// DestroyConnection removes a connection and announces connection_destroyed.
func (c *Canvas) DestroyConnection(id domain.ConnectionID) (domain.Connection, error) {
	return c.destroyConnection(id)
}

func (c *Canvas) destroyConnection(id domain.ConnectionID) (domain.Connection, error) {
	conn, err := c.graph.Get(id)
	if err != nil {
		return domain.Connection{}, err
	}
	bounds := c.endpointBounds(conn)
	if _, err := c.graph.Destroy(id); err != nil {
		return domain.Connection{}, err
	}
	c.publish(domain.EventConnectionDestroyed, 0, id, bounds...)
	return conn, nil
}

func (c *Canvas) endpointBounds(conn domain.Connection) []domain.Rect {
	out := make([]domain.Rect, 0, 2)
	for _, id := range []domain.NodeID{conn.Source, conn.Target} {
		if b, ok := c.index.Bounds(id); ok {
			out = append(out, b)
		}
	}
	return out
}

// Connection returns a connection by id.
func (c *Canvas) Connection(id domain.ConnectionID) (domain.Connection, error) {
	return c.graph.Get(id)
}

// ConnectionsOf returns the incoming and outgoing connections of a node.
func (c *Canvas) ConnectionsOf(id domain.NodeID) []domain.Connection {
	return c.graph.ConnectionsOf(id)
}

// Connections returns every connection ordered by id.
func (c *Canvas) Connections() []domain.Connection { return c.graph.All() }

// Query returns the nodes intersecting r ordered by z-order then id.
func (c *Canvas) Query(r domain.Rect) []domain.Node {
	ids := c.index.Query(r)
	out := make([]domain.Node, 0, len(ids))
	for _, id := range ids {
		if n, err := c.registry.Get(id); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// QueryIDs is Query without node snapshots.
func (c *Canvas) QueryIDs(r domain.Rect) []domain.NodeID {
	return c.index.Query(r)
}

// HitTest returns the topmost node whose outline contains the canvas point p.
func (c *Canvas) HitTest(p domain.Point) (domain.Node, bool) {
	ids := c.index.QueryPoint(p)
	for i := len(ids) - 1; i >= 0; i-- {
		n, err := c.registry.Get(ids[i])
		if err == nil && n.Geometry.Contains(p) {
			return n, true
		}
	}
	return domain.Node{}, false
}

// Bind attaches a surface lookup key to a node, or detaches it with nil.
func (c *Canvas) Bind(id domain.NodeID, surface *domain.SurfaceID) error {
	return c.registry.Bind(id, surface)
}

// AddDamage records a changed canvas-space region of a node.
func (c *Canvas) AddDamage(id domain.NodeID, r domain.Rect) error {
	return c.registry.AddDamage(id, r)
}

// Damage returns the pending canvas-space damage of a node.
func (c *Canvas) Damage(id domain.NodeID) []domain.Rect {
	return c.registry.Damage(id)
}

// RenderList builds the ordered render list of one output. Only nodes bound to
// a surface and intersecting the visible area are listed. Dirty state is left
// untouched; call Consume once every output has been rendered.
func (c *Canvas) RenderList(vp *viewport.Viewport) []domain.RenderItem {
	visible := vp.VisibleRect()
	ids := c.index.Query(visible)
	items := make([]domain.RenderItem, 0, len(ids))
	for _, id := range ids {
		n, err := c.registry.Get(id)
		if err != nil || n.Surface == nil {
			continue
		}
		item := domain.RenderItem{
			Node:    n.ID,
			Surface: *n.Surface,
			Transform: domain.Transform{
				Screen:   vp.CanvasRectToScreen(n.Geometry.Frame()),
				Scale:    n.Geometry.Scale * vp.Zoom(),
				Rotation: n.Geometry.Rotation,
			},
			Dirty: n.Dirty,
		}
		damage := c.registry.Damage(id)
		if n.Dirty && len(damage) == 0 {
			damage = []domain.Rect{n.Bounds()}
		}
		for _, d := range damage {
			if vis, ok := d.Intersection(visible); ok {
				item.Damage = append(item.Damage, vp.CanvasRectToScreen(vis))
			}
		}
		items = append(items, item)
	}
	return items
}

// Consume clears dirty flags and damage of rendered nodes.
func (c *Canvas) Consume(items []domain.RenderItem) {
	ids := make([]domain.NodeID, len(items))
	for i, it := range items {
		ids[i] = it.Node
	}
	c.registry.Consume(ids)
}

// Snapshot captures the nodes not bound to a surface and the connections
// between them.
func (c *Canvas) Snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Version:          domain.SnapshotVersion,
		SavedAt:          c.clock(),
		NextNodeID:       c.registry.Next(),
		NextConnectionID: c.graph.Next(),
	}
	kept := map[domain.NodeID]bool{}
	for _, n := range c.registry.All() {
		if n.Surface != nil {
			continue
		}
		n.Dirty = false
		snap.Nodes = append(snap.Nodes, n)
		kept[n.ID] = true
	}
	for i := range snap.Nodes {
		content := &snap.Nodes[i].Content
		content.Children = slices.DeleteFunc(content.Children, func(id domain.NodeID) bool { return !kept[id] })
	}
	for _, conn := range c.graph.All() {
		if kept[conn.Source] && kept[conn.Target] {
			snap.Connections = append(snap.Connections, conn)
		}
	}
	return snap
}

// Restore loads a snapshot into the canvas, announcing node_created and
// connection_created for everything restored. Invalid entries are skipped and
// logged.
func (c *Canvas) Restore(snap domain.Snapshot) error {
	if snap.Version != domain.SnapshotVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", domain.ErrInvalidRequest, snap.Version)
	}
	skippedNodes := c.registry.Restore(snap.Nodes, snap.NextNodeID)
	for _, n := range c.registry.All() {
		if c.index.Has(n.ID) {
			continue
		}
		c.index.Insert(n.ID, n.Bounds(), n.Geometry.Z)
		c.publish(domain.EventNodeCreated, n.ID, 0, n.Bounds())
	}
	before := map[domain.ConnectionID]bool{}
	for _, conn := range c.graph.All() {
		before[conn.ID] = true
	}
	skippedConns := c.graph.Restore(snap.Connections, snap.NextConnectionID)
	for _, conn := range c.graph.All() {
		if !before[conn.ID] {
			c.publish(domain.EventConnectionCreated, 0, conn.ID, c.endpointBounds(conn)...)
		}
	}
	if len(skippedNodes) > 0 || len(skippedConns) > 0 {
		c.logger.Warn("snapshot entries skipped", "nodes", skippedNodes, "connections", skippedConns)
	}
	return nil
}

// Close drops all state in teardown order: graph, spatial index, registry.
func (c *Canvas) Close() {
	c.graph.Clear()
	c.index.Clear()
	c.registry.Clear()
}
