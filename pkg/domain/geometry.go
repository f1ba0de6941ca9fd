package domain

import "math"

// Point is a location in canvas or screen space.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool {
	return finite(p.X) && finite(p.Y)
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// RectFromBounds builds a Rect from its min and max corners.
func RectFromBounds(minX, minY, maxX, maxY float64) Rect {
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

func (r Rect) MaxX() float64 { return r.X + r.Width }
func (r Rect) MaxY() float64 { return r.Y + r.Height }

// Center returns the midpoint of the rectangle.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return !(r.Width > 0 && r.Height > 0)
}

// Finite reports whether every component is a finite number.
func (r Rect) Finite() bool {
	return finite(r.X) && finite(r.Y) && finite(r.Width) && finite(r.Height)
}

// Intersects reports whether the two rectangles share a region of positive area.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.MaxX() && o.X < r.MaxX() && r.Y < o.MaxY() && o.Y < r.MaxY()
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.MaxX() <= r.MaxX() && o.MaxY() <= r.MaxY()
}

// ContainsPoint uses half-open bounds: the left and top edges are inside, the
// right and bottom edges are not.
func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.X && p.X < r.MaxX() && p.Y >= r.Y && p.Y < r.MaxY()
}

// Intersection returns the overlap of r and o, and false when they do not overlap.
func (r Rect) Intersection(o Rect) (Rect, bool) {
	if !r.Intersects(o) {
		return Rect{}, false
	}
	return RectFromBounds(
		math.Max(r.X, o.X), math.Max(r.Y, o.Y),
		math.Min(r.MaxX(), o.MaxX()), math.Min(r.MaxY(), o.MaxY()),
	), true
}

// Union returns the smallest rectangle covering both.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return RectFromBounds(
		math.Min(r.X, o.X), math.Min(r.Y, o.Y),
		math.Max(r.MaxX(), o.MaxX()), math.Max(r.MaxY(), o.MaxY()),
	)
}

// MaxZ bounds the z-order of a node in both directions.
const MaxZ = math.MaxInt32

// Geometry is the placement of a node on the canvas. X and Y locate the
// top-left corner of the unrotated node; rotation turns the scaled node around
// its own centre.
type Geometry struct {
	X        float64 `json:"x" yaml:"x"`
	Y        float64 `json:"y" yaml:"y"`
	Width    float64 `json:"width" yaml:"width"`
	Height   float64 `json:"height" yaml:"height"`
	Scale    float64 `json:"scale" yaml:"scale"`
	Rotation float64 `json:"rotation" yaml:"rotation"`
	Z        int     `json:"z" yaml:"z"`
}

// Frame is the scaled, unrotated rectangle of the node.
func (g Geometry) Frame() Rect {
	return Rect{X: g.X, Y: g.Y, Width: g.Width * g.Scale, Height: g.Height * g.Scale}
}

// Bounds is the axis-aligned bounding box of the scaled and rotated node.
func (g Geometry) Bounds() Rect {
	f := g.Frame()
	if g.Rotation == 0 {
		return f
	}
	c := f.Center()
	sin, cos := math.Abs(math.Sin(g.Rotation)), math.Abs(math.Cos(g.Rotation))
	w := f.Width*cos + f.Height*sin
	h := f.Width*sin + f.Height*cos
	return Rect{X: c.X - w/2, Y: c.Y - h/2, Width: w, Height: h}
}

// Contains tests p against the rotated node outline rather than its bounding box.
func (g Geometry) Contains(p Point) bool {
	f := g.Frame()
	if g.Rotation == 0 {
		return f.ContainsPoint(p)
	}
	c := f.Center()
	sin, cos := math.Sincos(-g.Rotation)
	dx, dy := p.X-c.X, p.Y-c.Y
	local := Point{X: c.X + dx*cos - dy*sin, Y: c.Y + dx*sin + dy*cos}
	return f.ContainsPoint(local)
}

// Finite reports whether every floating-point component is finite.
func (g Geometry) Finite() bool {
	return finite(g.X) && finite(g.Y) && finite(g.Width) && finite(g.Height) &&
		finite(g.Scale) && finite(g.Rotation)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
