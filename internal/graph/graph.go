// Package graph stores the typed connections between canvas nodes.
package graph

import (
	"fmt"
	"slices"
	"time"

	"github.com/loomwm/loom/pkg/domain"
)

const DefaultMaxConnections = 100_000

// key identifies a connection for set semantics. Undirected connections are
// normalised so that A-B and B-A are the same edge.
type key struct {
	a, b     domain.NodeID
	kind     domain.ConnectionKind
	directed bool
}

func keyOf(c domain.Connection) key {
	a, b := c.Source, c.Target
	if !c.Directed && b < a {
		a, b = b, a
	}
	return key{a: a, b: b, kind: c.Kind, directed: c.Directed}
}

// Graph owns every connection. Endpoint liveness is checked against the node
// registry through the live callback. It is not safe for concurrent use.
type Graph struct {
	conns  map[domain.ConnectionID]domain.Connection
	byNode map[domain.NodeID]map[domain.ConnectionID]struct{}
	keys   map[key]domain.ConnectionID
	owned  map[domain.ClientID]int
	next   domain.ConnectionID
	max    int
	live   func(domain.NodeID) bool
	clock  func() time.Time
}

// Option configures a Graph.
type Option func(*Graph)

// WithMaxConnections sets the global connection limit.
func WithMaxConnections(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.max = n
		}
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(g *Graph) {
		g.clock = clock
	}
}

// New creates an empty graph whose endpoints are validated by live.
func New(live func(domain.NodeID) bool, opts ...Option) *Graph {
	g := &Graph{
		conns:  make(map[domain.ConnectionID]domain.Connection),
		byNode: make(map[domain.NodeID]map[domain.ConnectionID]struct{}),
		keys:   make(map[key]domain.ConnectionID),
		owned:  make(map[domain.ClientID]int),
		next:   1,
		max:    DefaultMaxConnections,
		live:   live,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Len returns the number of connections.
func (g *Graph) Len() int { return len(g.conns) }

// Next returns the id the next connection will receive.
func (g *Graph) Next() domain.ConnectionID { return g.next }

// Owned returns how many live connections owner created.
func (g *Graph) Owned(owner domain.ClientID) int { return g.owned[owner] }

// Create adds a connection. ID and CreatedAt of c are assigned here.
func (g *Graph) Create(c domain.Connection) (domain.Connection, error) {
	switch {
	case !g.live(c.Source):
		return domain.Connection{}, fmt.Errorf("%w: source %d is not a live node", domain.ErrInvalidEndpoint, c.Source)
	case !g.live(c.Target):
		return domain.Connection{}, fmt.Errorf("%w: target %d is not a live node", domain.ErrInvalidEndpoint, c.Target)
	case c.Source == c.Target:
		return domain.Connection{}, fmt.Errorf("%w: node %d cannot connect to itself", domain.ErrInvalidEndpoint, c.Source)
	}
	if _, err := domain.ParseConnectionKind(string(c.Kind)); err != nil {
		return domain.Connection{}, err
	}
	k := keyOf(c)
	if id, dup := g.keys[k]; dup {
		return domain.Connection{}, fmt.Errorf("%w: identical to connection %d", domain.ErrDuplicateConnection, id)
	}
	if len(g.conns) >= g.max {
		return domain.Connection{}, fmt.Errorf("%w: connection limit %d reached", domain.ErrResourceExhausted, g.max)
	}

	c.ID = g.next
	c.CreatedAt = g.clock()
	g.next++
	g.insert(c)
	return c, nil
}

func (g *Graph) insert(c domain.Connection) {
	g.conns[c.ID] = c
	g.keys[keyOf(c)] = c.ID
	for _, n := range []domain.NodeID{c.Source, c.Target} {
		set, ok := g.byNode[n]
		if !ok {
			set = make(map[domain.ConnectionID]struct{})
			g.byNode[n] = set
		}
		set[c.ID] = struct{}{}
	}
	if c.Owner != "" {
		g.owned[c.Owner]++
	}
}

// Get returns the connection with the given id.
func (g *Graph) Get(id domain.ConnectionID) (domain.Connection, error) {
	c, ok := g.conns[id]
	if !ok {
		return domain.Connection{}, fmt.Errorf("connection %d: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// Destroy removes a connection and returns it.
func (g *Graph) Destroy(id domain.ConnectionID) (domain.Connection, error) {
	c, ok := g.conns[id]
	if !ok {
		return domain.Connection{}, fmt.Errorf("connection %d: %w", id, domain.ErrNotFound)
	}
	delete(g.conns, id)
	delete(g.keys, keyOf(c))
	for _, n := range []domain.NodeID{c.Source, c.Target} {
		if set, ok := g.byNode[n]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(g.byNode, n)
			}
		}
	}
	if o := c.Owner; o != "" {
		if g.owned[o]--; g.owned[o] <= 0 {
			delete(g.owned, o)
		}
	}
	return c, nil
}

// Incident returns the ids of every connection naming node, ordered by id.
// It is the collect phase of a cascade delete.
func (g *Graph) Incident(node domain.NodeID) []domain.ConnectionID {
	set := g.byNode[node]
	ids := make([]domain.ConnectionID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ConnectionsOf returns incoming and outgoing connections of node ordered by
// id. Unknown nodes have no connections.
func (g *Graph) ConnectionsOf(node domain.NodeID) []domain.Connection {
	ids := g.Incident(node)
	out := make([]domain.Connection, len(ids))
	for i, id := range ids {
		out[i] = g.conns[id]
	}
	return out
}

// All returns every connection ordered by id.
func (g *Graph) All() []domain.Connection {
	out := make([]domain.Connection, 0, len(g.conns))
	for _, c := range g.conns {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Connection) int {
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

// Restore inserts connections from a snapshot, skipping any with a dead
// endpoint or a duplicate key, and moves the id counter past next.
func (g *Graph) Restore(conns []domain.Connection, next domain.ConnectionID) (skipped []domain.ConnectionID) {
	for _, c := range conns {
		_, dupID := g.conns[c.ID]
		_, dupKey := g.keys[keyOf(c)]
		if c.ID == 0 || dupID || dupKey || !g.live(c.Source) || !g.live(c.Target) || len(g.conns) >= g.max {
			skipped = append(skipped, c.ID)
			continue
		}
		g.insert(c)
		if c.ID >= g.next {
			g.next = c.ID + 1
		}
	}
	if next > g.next {
		g.next = next
	}
	return skipped
}

// Clear drops every connection, keeping the id counter.
func (g *Graph) Clear() {
	clear(g.conns)
	clear(g.byNode)
	clear(g.keys)
	clear(g.owned)
}
