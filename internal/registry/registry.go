// Package registry owns node storage for a canvas: id allocation, limits,
// geometry and content validation. It does not talk to the spatial index or to subscribers;
// the runtime canvas sequences those side effects around every call.
package registry

import (
	"fmt"
	"slices"
	"time"

	"github.com/loomwm/loom/pkg/domain"
)

const (
	DefaultMaxNodes    = 10_000
	DefaultCoordLimit  = 1e6
	defaultInitialNext = 1
)

// Registry is the single owner of every node. It is not safe for concurrent use.
type Registry struct {
	nodes  map[domain.NodeID]*entry
	next   domain.NodeID
	max    int
	bounds domain.Rect
	owned  map[domain.ClientID]int
	topZ   int
	atZ    map[int]int
	// parents maps a node to the groups that list it as a child.
	parents map[domain.NodeID]map[domain.NodeID]struct{}
	clock   func() time.Time
}

type entry struct {
	node   domain.Node
	damage []domain.Rect
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxNodes sets the node limit.
func WithMaxNodes(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.max = n
		}
	}
}

// WithBounds sets the rectangle every node bounding box must lie within.
func WithBounds(b domain.Rect) Option {
	return func(r *Registry) {
		r.bounds = b
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		nodes:   make(map[domain.NodeID]*entry),
		next:    defaultInitialNext,
		max:     DefaultMaxNodes,
		bounds:  domain.RectFromBounds(-DefaultCoordLimit, -DefaultCoordLimit, DefaultCoordLimit, DefaultCoordLimit),
		owned:   make(map[domain.ClientID]int),
		atZ:     make(map[int]int),
		parents: make(map[domain.NodeID]map[domain.NodeID]struct{}),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bounds returns the configured coordinate bounds.
func (r *Registry) Bounds() domain.Rect { return r.bounds }

// Len returns the number of live nodes.
func (r *Registry) Len() int { return len(r.nodes) }

// Next returns the id the next created node will receive.
func (r *Registry) Next() domain.NodeID { return r.next }

// TopZ returns the highest z-order handed out or observed so far.
func (r *Registry) TopZ() int { return r.topZ }

// AtZ returns how many live nodes sit at z-order z.
func (r *Registry) AtZ(z int) int { return r.atZ[z] }

// Groups returns the ids of the groups listing id as a child, ascending.
func (r *Registry) Groups(id domain.NodeID) []domain.NodeID {
	out := make([]domain.NodeID, 0, len(r.parents[id]))
	for g := range r.parents[id] {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

// Owned returns how many live nodes owner created.
func (r *Registry) Owned(owner domain.ClientID) int { return r.owned[owner] }

// Validate checks g against the registry's geometry rules.
func (r *Registry) Validate(g domain.Geometry) error {
	switch {
	case !g.Finite():
		return fmt.Errorf("%w: non-finite value", domain.ErrInvalidGeometry)
	case g.Width <= 0 || g.Height <= 0:
		return fmt.Errorf("%w: size must be positive, got %gx%g", domain.ErrInvalidGeometry, g.Width, g.Height)
	case g.Scale <= 0:
		return fmt.Errorf("%w: scale must be positive, got %g", domain.ErrInvalidGeometry, g.Scale)
	case g.Z > domain.MaxZ || g.Z < -domain.MaxZ:
		return fmt.Errorf("%w: z-order %d out of range", domain.ErrInvalidGeometry, g.Z)
	case !r.bounds.Contains(g.Bounds()):
		return fmt.Errorf("%w: node outside canvas bounds", domain.ErrInvalidGeometry)
	}
	return nil
}

// ValidateContent checks c for a node created now. Group children must be
// live. Surface content is only ever set by binding a surface.
func (r *Registry) ValidateContent(c domain.Content) error {
	if c.Kind == domain.NodeSurface {
		return fmt.Errorf("%w: surface nodes are created by binding a surface", domain.ErrInvalidRequest)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	for _, child := range c.Children {
		if !r.Has(child) {
			return fmt.Errorf("%w: group child %d is not live", domain.ErrInvalidEndpoint, child)
		}
	}
	return nil
}

// Create allocates a node. A zero scale is read as the default of 1 and an
// empty content kind as a note.
func (r *Registry) Create(owner domain.ClientID, g domain.Geometry, label string, content domain.Content) (domain.Node, error) {
	if len(r.nodes) >= r.max {
		return domain.Node{}, fmt.Errorf("%w: node limit %d reached", domain.ErrResourceExhausted, r.max)
	}
	if g.Scale == 0 {
		g.Scale = 1
	}
	if err := r.Validate(g); err != nil {
		return domain.Node{}, err
	}
	if content.Kind == "" {
		content.Kind = domain.NodeNote
	}
	content.Children = slices.Clone(content.Children)
	if err := r.ValidateContent(content); err != nil {
		return domain.Node{}, err
	}

	n := domain.Node{
		ID:        r.next,
		Geometry:  g,
		Label:     label,
		Content:   content,
		Owner:     owner,
		Dirty:     true,
		CreatedAt: r.clock(),
	}
	r.next++
	r.insert(n)
	return clone(n), nil
}

func (r *Registry) insert(n domain.Node) {
	r.nodes[n.ID] = &entry{node: n}
	if n.Owner != "" {
		r.owned[n.Owner]++
	}
	r.topZ = max(r.topZ, n.Geometry.Z)
	r.atZ[n.Geometry.Z]++
	r.link(n.ID, n.Content.Children)
}

func (r *Registry) link(group domain.NodeID, children []domain.NodeID) {
	for _, child := range children {
		set, ok := r.parents[child]
		if !ok {
			set = make(map[domain.NodeID]struct{})
			r.parents[child] = set
		}
		set[group] = struct{}{}
	}
}

func (r *Registry) unlink(group domain.NodeID, children []domain.NodeID) {
	for _, child := range children {
		if set, ok := r.parents[child]; ok {
			delete(set, group)
			if len(set) == 0 {
				delete(r.parents, child)
			}
		}
	}
}

func (r *Registry) moveZ(from, to int) {
	if from == to {
		return
	}
	if r.atZ[from]--; r.atZ[from] <= 0 {
		delete(r.atZ, from)
	}
	r.atZ[to]++
}

// Get returns a snapshot of the node.
func (r *Registry) Get(id domain.NodeID) (domain.Node, error) {
	e, ok := r.nodes[id]
	if !ok {
		return domain.Node{}, fmt.Errorf("node %d: %w", id, domain.ErrNotFound)
	}
	return clone(e.node), nil
}

// Has reports whether id is live.
func (r *Registry) Has(id domain.NodeID) bool {
	_, ok := r.nodes[id]
	return ok
}

// Mutate applies transform to a copy of the node's geometry and commits it only
// if the result validates. It returns the node before and after the change.
func (r *Registry) Mutate(id domain.NodeID, transform func(*domain.Geometry)) (before, after domain.Node, err error) {
	e, ok := r.nodes[id]
	if !ok {
		return domain.Node{}, domain.Node{}, fmt.Errorf("node %d: %w", id, domain.ErrNotFound)
	}
	g := e.node.Geometry
	transform(&g)
	if err := r.Validate(g); err != nil {
		return domain.Node{}, domain.Node{}, err
	}
	before = clone(e.node)
	r.moveZ(e.node.Geometry.Z, g.Z)
	e.node.Geometry = g
	e.node.Dirty = true
	r.topZ = max(r.topZ, g.Z)
	return before, clone(e.node), nil
}

// Destroy removes the node and returns its final snapshot. The node is dropped
// from the children of every group that listed it; those groups are marked
// dirty and their ids returned.
func (r *Registry) Destroy(id domain.NodeID) (domain.Node, []domain.NodeID, error) {
	e, ok := r.nodes[id]
	if !ok {
		return domain.Node{}, nil, fmt.Errorf("node %d: %w", id, domain.ErrNotFound)
	}
	delete(r.nodes, id)
	if o := e.node.Owner; o != "" {
		if r.owned[o]--; r.owned[o] <= 0 {
			delete(r.owned, o)
		}
	}
	if r.atZ[e.node.Geometry.Z]--; r.atZ[e.node.Geometry.Z] <= 0 {
		delete(r.atZ, e.node.Geometry.Z)
	}
	r.unlink(id, e.node.Content.Children)

	pruned := r.Groups(id)
	for _, g := range pruned {
		ge := r.nodes[g]
		ge.node.Content.Children = slices.DeleteFunc(ge.node.Content.Children, func(c domain.NodeID) bool { return c == id })
		ge.node.Dirty = true
	}
	delete(r.parents, id)
	return e.node, pruned, nil
}

// Bind attaches or detaches (nil) the surface lookup key of a node.
func (r *Registry) Bind(id domain.NodeID, surface *domain.SurfaceID) error {
	e, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("node %d: %w", id, domain.ErrNotFound)
	}
	r.unlink(id, e.node.Content.Children)
	if surface != nil {
		s := *surface
		surface = &s
		e.node.Content = domain.Content{Kind: domain.NodeSurface}
	} else {
		e.node.Content = domain.Content{Kind: domain.NodeNote}
	}
	e.node.Surface = surface
	e.node.Dirty = true
	return nil
}

// AddDamage records a changed canvas-space region and marks the node dirty.
func (r *Registry) AddDamage(id domain.NodeID, rect domain.Rect) error {
	e, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("node %d: %w", id, domain.ErrNotFound)
	}
	e.damage = append(e.damage, rect)
	e.node.Dirty = true
	return nil
}

// Damage returns the pending damage of a node without consuming it.
func (r *Registry) Damage(id domain.NodeID) []domain.Rect {
	if e, ok := r.nodes[id]; ok {
		return slices.Clone(e.damage)
	}
	return nil
}

// Consume clears the dirty flag and pending damage of the given nodes.
func (r *Registry) Consume(ids []domain.NodeID) {
	for _, id := range ids {
		if e, ok := r.nodes[id]; ok {
			e.node.Dirty = false
			e.damage = e.damage[:0]
		}
	}
}

// All returns snapshots of every live node ordered by id.
func (r *Registry) All() []domain.Node {
	out := make([]domain.Node, 0, len(r.nodes))
	for _, e := range r.nodes {
		out = append(out, clone(e.node))
	}
	slices.SortFunc(out, func(a, b domain.Node) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Restore inserts nodes loaded from a snapshot and moves the id counter past
// both next and every restored id. Nodes that fail validation are skipped and
// returned. A node that was bound to a surface comes back as an empty note,
// and group children that did not come back are dropped.
func (r *Registry) Restore(nodes []domain.Node, next domain.NodeID) (skipped []domain.NodeID) {
	var groups []*entry
	for _, n := range nodes {
		if n.Content.Kind == "" {
			n.Content.Kind = domain.NodeNote
		}
		if n.Surface != nil || n.Content.Kind == domain.NodeSurface {
			n.Content = domain.Content{Kind: domain.NodeNote}
		}
		_, dup := r.nodes[n.ID]
		if dup || n.ID == 0 || r.Validate(n.Geometry) != nil || n.Content.Validate() != nil || len(r.nodes) >= r.max {
			skipped = append(skipped, n.ID)
			continue
		}
		n.Surface = nil
		n.Dirty = true
		children := n.Content.Children
		n.Content.Children = nil
		r.insert(n)
		if len(children) > 0 {
			e := r.nodes[n.ID]
			e.node.Content.Children = slices.Clone(children)
			groups = append(groups, e)
		}
		if n.ID >= r.next {
			r.next = n.ID + 1
		}
	}
	for _, e := range groups {
		e.node.Content.Children = slices.DeleteFunc(e.node.Content.Children, func(c domain.NodeID) bool {
			return c == e.node.ID || !r.Has(c)
		})
		r.link(e.node.ID, e.node.Content.Children)
	}
	if next > r.next {
		r.next = next
	}
	return skipped
}

// Clear drops every node. The id counter is kept so ids are never reused.
func (r *Registry) Clear() {
	clear(r.nodes)
	clear(r.owned)
	clear(r.atZ)
	clear(r.parents)
}

func clone(n domain.Node) domain.Node {
	if n.Surface != nil {
		s := *n.Surface
		n.Surface = &s
	}
	n.Content.Children = slices.Clone(n.Content.Children)
	return n
}
