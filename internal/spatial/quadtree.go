// Package spatial implements the quadtree used to answer rectangle and point
// queries over node bounding boxes.
package spatial

import (
	"cmp"
	"slices"

	"github.com/loomwm/loom/pkg/domain"
)

const (
	DefaultCapacity = 8
	DefaultMaxDepth = 16
)

type item struct {
	id   domain.NodeID
	bbox domain.Rect
	z    int
	quad *quad
}

// quad stores the items whose bbox fits inside its bounds but inside none of
// its children. count is the number of items in the whole subtree.
type quad struct {
	bounds   domain.Rect
	parent   *quad
	children *[4]*quad
	items    []*item
	depth    int
	count    int
}

// Index is a quadtree over node bounding boxes. It is not safe for concurrent
// use; the canvas event loop is its only caller.
type Index struct {
	root     *quad
	items    map[domain.NodeID]*item
	capacity int
	maxDepth int
}

// Option configures an Index.
type Option func(*Index)

// WithCapacity sets how many items a leaf holds before it splits.
func WithCapacity(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.capacity = n
		}
	}
}

// WithMaxDepth bounds how deep the tree can split.
func WithMaxDepth(d int) Option {
	return func(ix *Index) {
		if d > 0 {
			ix.maxDepth = d
		}
	}
}

// New creates an empty index covering bounds. Items outside bounds are still
// accepted and kept on the root.
func New(bounds domain.Rect, opts ...Option) *Index {
	ix := &Index{
		root:     &quad{bounds: bounds},
		items:    make(map[domain.NodeID]*item),
		capacity: DefaultCapacity,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Len returns the number of indexed items.
func (ix *Index) Len() int { return len(ix.items) }

// Has reports whether id is indexed.
func (ix *Index) Has(id domain.NodeID) bool {
	_, ok := ix.items[id]
	return ok
}

// Insert adds id, or updates it if it is already present.
func (ix *Index) Insert(id domain.NodeID, bbox domain.Rect, z int) {
	if _, ok := ix.items[id]; ok {
		ix.Update(id, bbox, z)
		return
	}
	it := &item{id: id, bbox: bbox, z: z}
	ix.items[id] = it
	ix.place(ix.root, it)
}

// Remove drops id. It reports whether the id was indexed.
func (ix *Index) Remove(id domain.NodeID) bool {
	it, ok := ix.items[id]
	if !ok {
		return false
	}
	delete(ix.items, id)
	q := it.quad
	q.detach(it)
	ix.collapse(q)
	return true
}

// Update moves id to a new bbox and z-order. Only the subtree between the old
// and new location is touched.
func (ix *Index) Update(id domain.NodeID, bbox domain.Rect, z int) bool {
	it, ok := ix.items[id]
	if !ok {
		return false
	}
	it.z = z
	old := it.quad
	if old.fits(bbox) && (old.children == nil || old.childFor(bbox) == nil) {
		it.bbox = bbox
		return true
	}

	old.detach(it)
	it.bbox = bbox
	start := old
	for start.parent != nil && !start.bounds.Contains(bbox) {
		start = start.parent
	}
	ix.place(start, it)
	ix.collapse(old)
	return true
}

// Query returns the ids whose bbox intersects r, ordered by z-order then id.
func (ix *Index) Query(r domain.Rect) []domain.NodeID {
	var hits []*item
	ix.root.collect(r, &hits, true)
	return order(hits)
}

// QueryPoint returns the ids whose bbox contains p, ordered by z-order then id;
// the topmost hit is last.
func (ix *Index) QueryPoint(p domain.Point) []domain.NodeID {
	var hits []*item
	ix.root.collectPoint(p, &hits, true)
	return order(hits)
}

// Bounds returns the stored bbox of id.
func (ix *Index) Bounds(id domain.NodeID) (domain.Rect, bool) {
	it, ok := ix.items[id]
	if !ok {
		return domain.Rect{}, false
	}
	return it.bbox, true
}

// Clear drops every item.
func (ix *Index) Clear() {
	ix.root = &quad{bounds: ix.root.bounds}
	clear(ix.items)
}

// depth reports the tree level holding id, or -1.
func (ix *Index) depth(id domain.NodeID) int {
	if it, ok := ix.items[id]; ok {
		return it.quad.depth
	}
	return -1
}

func (ix *Index) place(q *quad, it *item) {
	for {
		if q.children == nil && len(q.items) >= ix.capacity && q.depth < ix.maxDepth && q.fits(it.bbox) {
			ix.split(q)
		}
		if q.children == nil {
			break
		}
		c := q.childFor(it.bbox)
		if c == nil {
			break
		}
		q = c
	}
	q.attach(it)
}

func (ix *Index) split(q *quad) {
	b := q.bounds
	hw, hh := b.Width/2, b.Height/2
	kids := [4]*quad{
		{bounds: domain.Rect{X: b.X, Y: b.Y, Width: hw, Height: hh}},
		{bounds: domain.Rect{X: b.X + hw, Y: b.Y, Width: hw, Height: hh}},
		{bounds: domain.Rect{X: b.X, Y: b.Y + hh, Width: hw, Height: hh}},
		{bounds: domain.Rect{X: b.X + hw, Y: b.Y + hh, Width: hw, Height: hh}},
	}
	for _, k := range kids {
		k.parent = q
		k.depth = q.depth + 1
	}
	q.children = &kids

	kept := q.items[:0]
	for _, it := range q.items {
		if c := q.childFor(it.bbox); c != nil {
			c.items = append(c.items, it)
			c.count++
			it.quad = c
			continue
		}
		kept = append(kept, it)
	}
	clear(q.items[len(kept):])
	q.items = kept
}

// collapse folds sparse subtrees back into their parent, walking up from q.
func (ix *Index) collapse(q *quad) {
	for ; q != nil; q = q.parent {
		if q.children == nil || q.count > ix.capacity/2 {
			continue
		}
		q.gather(q)
		q.children = nil
	}
}

func (q *quad) gather(into *quad) {
	if q.children == nil {
		return
	}
	for _, c := range q.children {
		for _, it := range c.items {
			it.quad = into
			into.items = append(into.items, it)
		}
		c.gather(into)
	}
}

func (q *quad) fits(r domain.Rect) bool {
	return q.parent == nil || q.bounds.Contains(r)
}

func (q *quad) childFor(r domain.Rect) *quad {
	for _, c := range q.children {
		if c.bounds.Contains(r) {
			return c
		}
	}
	return nil
}

func (q *quad) attach(it *item) {
	q.items = append(q.items, it)
	it.quad = q
	for p := q; p != nil; p = p.parent {
		p.count++
	}
}

func (q *quad) detach(it *item) {
	for i, x := range q.items {
		if x == it {
			last := len(q.items) - 1
			q.items[i] = q.items[last]
			q.items[last] = nil
			q.items = q.items[:last]
			break
		}
	}
	for p := q; p != nil; p = p.parent {
		p.count--
	}
}

func (q *quad) collect(r domain.Rect, out *[]*item, root bool) {
	if !root && !q.bounds.Intersects(r) {
		return
	}
	for _, it := range q.items {
		if it.bbox.Intersects(r) {
			*out = append(*out, it)
		}
	}
	if q.children != nil {
		for _, c := range q.children {
			if c.count > 0 {
				c.collect(r, out, false)
			}
		}
	}
}

func (q *quad) collectPoint(p domain.Point, out *[]*item, root bool) {
	if !root && !q.bounds.ContainsPoint(p) {
		return
	}
	for _, it := range q.items {
		if it.bbox.ContainsPoint(p) {
			*out = append(*out, it)
		}
	}
	if q.children != nil {
		for _, c := range q.children {
			if c.count > 0 {
				c.collectPoint(p, out, false)
			}
		}
	}
}

func order(hits []*item) []domain.NodeID {
	slices.SortFunc(hits, func(a, b *item) int {
		if c := cmp.Compare(a.z, b.z); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	ids := make([]domain.NodeID, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}
