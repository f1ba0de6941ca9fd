// Package surface binds external client surfaces to canvas nodes.
package surface

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/loomwm/loom/internal/logging"
	"github.com/loomwm/loom/internal/runtime"
	"github.com/loomwm/loom/internal/viewport"
	"github.com/loomwm/loom/pkg/domain"
)

const (
	// MaxBufferDimension is the largest accepted buffer side in pixels.
	MaxBufferDimension = 16384
	// DefaultMaxPerClient caps the surfaces a single client may hold.
	DefaultMaxPerClient = 100

	cascadeStep = 32.0
	cascadeSide = 4
)

type binding struct {
	node   domain.NodeID
	client domain.ClientID
}

// Binder keeps the surface to node mapping bijective. Like the canvas it is
// driven only from the engine loop.
type Binder struct {
	canvas *runtime.Canvas
	views  *viewport.Controller
	logger *slog.Logger

	maxPerClient int
	bySurface    map[domain.SurfaceID]binding
	byNode       map[domain.NodeID]domain.SurfaceID
	perClient    map[domain.ClientID]int
	spawned      int
}

// Option configures a Binder.
type Option func(*Binder)

// WithMaxPerClient overrides DefaultMaxPerClient.
func WithMaxPerClient(n int) Option {
	return func(b *Binder) {
		if n > 0 {
			b.maxPerClient = n
		}
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Binder) {
		b.logger = logger
	}
}

// New creates a binder placing new surfaces relative to the primary viewport
// of views. It registers itself as a destroy hook on canvas so that nodes
// destroyed through the protocol release their surface.
func New(canvas *runtime.Canvas, views *viewport.Controller, opts ...Option) *Binder {
	b := &Binder{
		canvas:       canvas,
		views:        views,
		logger:       logging.NewNop(),
		maxPerClient: DefaultMaxPerClient,
		bySurface:    make(map[domain.SurfaceID]binding),
		byNode:       make(map[domain.NodeID]domain.SurfaceID),
		perClient:    make(map[domain.ClientID]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	canvas.AddDestroyHook(b.release)
	return b
}

// Len returns the number of bound surfaces.
func (b *Binder) Len() int { return len(b.bySurface) }

// NodeFor returns the node bound to a surface.
func (b *Binder) NodeFor(s domain.SurfaceID) (domain.NodeID, bool) {
	bd, ok := b.bySurface[s]
	return bd.node, ok
}

// SurfaceFor returns the surface bound to a node.
func (b *Binder) SurfaceFor(id domain.NodeID) (domain.SurfaceID, bool) {
	s, ok := b.byNode[id]
	return s, ok
}

func checkBuffer(w, h float64) error {
	if math.IsNaN(w) || math.IsNaN(h) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return fmt.Errorf("%w: non-finite buffer size", domain.ErrInvalidGeometry)
	}
	if w <= 0 || h <= 0 || w > MaxBufferDimension || h > MaxBufferDimension {
		return fmt.Errorf("%w: buffer size %gx%g outside (0, %d]", domain.ErrInvalidGeometry, w, h, MaxBufferDimension)
	}
	return nil
}

// Commit handles a surface commit. The first commit of a surface creates and
// binds its node; later commits resize the node and record damage. A rejected
// commit changes nothing and the error is meant for the surface's client.
func (b *Binder) Commit(c domain.SurfaceCommit) (domain.NodeID, error) {
	if c.Surface == "" {
		return 0, fmt.Errorf("%w: empty surface id", domain.ErrInvalidRequest)
	}
	if err := checkBuffer(c.Width, c.Height); err != nil {
		return 0, fmt.Errorf("surface %s: %w", c.Surface, err)
	}
	for _, d := range c.Damage {
		if !d.Finite() {
			return 0, fmt.Errorf("surface %s: %w: non-finite damage", c.Surface, domain.ErrInvalidGeometry)
		}
	}
	if bd, ok := b.bySurface[c.Surface]; ok {
		return bd.node, b.update(bd.node, c)
	}
	return b.create(c)
}

func (b *Binder) create(c domain.SurfaceCommit) (domain.NodeID, error) {
	if b.perClient[c.Client] >= b.maxPerClient {
		return 0, fmt.Errorf("client %s: %w: surface limit %d reached", c.Client, domain.ErrResourceExhausted, b.maxPerClient)
	}

	origin := b.placement(c.Width, c.Height)
	n, err := b.canvas.CreateNode("", domain.Geometry{
		X:      origin.X,
		Y:      origin.Y,
		Width:  c.Width,
		Height: c.Height,
		Scale:  1,
		Z:      b.canvas.TopZ() + 1,
	}, string(c.Surface))
	if err != nil {
		return 0, fmt.Errorf("surface %s: %w", c.Surface, err)
	}
	s := c.Surface
	if err := b.canvas.Bind(n.ID, &s); err != nil {
		return 0, err
	}
	b.bySurface[s] = binding{node: n.ID, client: c.Client}
	b.byNode[n.ID] = s
	b.perClient[c.Client]++
	b.spawned++
	b.logger.Debug("surface bound", "surface", s, "node", n.ID, "client", c.Client)
	return n.ID, nil
}

// placement centres a new surface on the primary viewport, offset on a small
// cascade so consecutive surfaces do not overlap exactly.
func (b *Binder) placement(w, h float64) domain.Point {
	var centre domain.Point
	if vp := b.views.Primary(); vp != nil {
		centre = vp.Center()
	}
	k := b.spawned % (cascadeSide * cascadeSide)
	dx := float64(k%cascadeSide) * cascadeStep
	dy := float64(k/cascadeSide) * cascadeStep
	return domain.Point{X: centre.X - w/2 + dx, Y: centre.Y - h/2 + dy}
}

func (b *Binder) update(id domain.NodeID, c domain.SurfaceCommit) error {
	n, err := b.canvas.Node(id)
	if err != nil {
		return err
	}
	if n.Geometry.Width != c.Width || n.Geometry.Height != c.Height {
		if n, err = b.canvas.Resize(id, c.Width, c.Height); err != nil {
			return fmt.Errorf("surface %s: %w", c.Surface, err)
		}
	}

	limit := n.Bounds()
	if vp := b.views.Primary(); vp != nil {
		var ok bool
		if limit, ok = limit.Intersection(vp.VisibleRect()); !ok {
			return nil
		}
	}
	damage := c.Damage
	if len(damage) == 0 {
		damage = []domain.Rect{{Width: c.Width, Height: c.Height}}
	}
	for _, d := range damage {
		if r, ok := toCanvas(n.Geometry, d).Intersection(limit); ok {
			if err := b.canvas.AddDamage(id, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// toCanvas maps a surface-local rectangle through node position and scale.
// Rotated nodes damage their whole bounding box.
func toCanvas(g domain.Geometry, d domain.Rect) domain.Rect {
	if g.Rotation != 0 {
		return g.Bounds()
	}
	return domain.Rect{
		X:      g.X + d.X*g.Scale,
		Y:      g.Y + d.Y*g.Scale,
		Width:  d.Width * g.Scale,
		Height: d.Height * g.Scale,
	}
}

// Destroy tears a surface down together with its node and the node's
// connections.
func (b *Binder) Destroy(s domain.SurfaceID) error {
	bd, ok := b.bySurface[s]
	if !ok {
		return fmt.Errorf("surface %s: %w", s, domain.ErrNotFound)
	}
	return b.canvas.DestroyNode(bd.node)
}

// DisconnectClient destroys every surface of a client and returns how many
// were bound.
func (b *Binder) DisconnectClient(client domain.ClientID) int {
	var owned []domain.SurfaceID
	for s, bd := range b.bySurface {
		if bd.client == client {
			owned = append(owned, s)
		}
	}
	for _, s := range owned {
		if err := b.Destroy(s); err != nil {
			b.logger.Warn("surface teardown failed", "surface", s, "err", err)
		}
	}
	return len(owned)
}

// release forgets the binding of a destroyed node.
func (b *Binder) release(n domain.Node) {
	s, ok := b.byNode[n.ID]
	if !ok {
		return
	}
	bd := b.bySurface[s]
	delete(b.byNode, n.ID)
	delete(b.bySurface, s)
	if b.perClient[bd.client]--; b.perClient[bd.client] <= 0 {
		delete(b.perClient, bd.client)
	}
	b.logger.Debug("surface released", "surface", s, "node", n.ID)
}
