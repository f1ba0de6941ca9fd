// Package viewport maps canvas space onto output screen space.
//
// A viewport is described by pan, the canvas point shown at the screen origin,
// and zoom, the number of screen pixels per canvas unit:
//
//	screen = (canvas - pan) * zoom
//	canvas = screen / zoom + pan
package viewport

import (
	"fmt"
	"math"

	"github.com/loomwm/loom/pkg/domain"
)

const (
	DefaultMinZoom = 0.1
	DefaultMaxZoom = 10.0
)

// Config bounds every viewport of a controller.
type Config struct {
	MinZoom float64
	MaxZoom float64
	// Bounds limits where pan may point.
	Bounds domain.Rect
}

// DefaultConfig returns the zoom range [0.1, 10] and the default canvas bounds.
func DefaultConfig() Config {
	return Config{
		MinZoom: DefaultMinZoom,
		MaxZoom: DefaultMaxZoom,
		Bounds:  domain.RectFromBounds(-1e6, -1e6, 1e6, 1e6),
	}
}

// Viewport is the pan/zoom state of one output. Every mutation computes the
// complete new state, clamps it, and only then commits it.
type Viewport struct {
	output domain.OutputID
	cfg    Config
	pan    domain.Point
	zoom   float64
	width  float64
	height float64
}

// New creates a viewport of the given screen size, at zoom 1 with the canvas
// origin at the centre of the screen.
func New(output domain.OutputID, width, height float64, cfg Config) (*Viewport, error) {
	if err := checkSize(width, height); err != nil {
		return nil, err
	}
	if cfg.MinZoom <= 0 {
		cfg.MinZoom = DefaultMinZoom
	}
	if cfg.MaxZoom < cfg.MinZoom {
		cfg.MaxZoom = max(DefaultMaxZoom, cfg.MinZoom)
	}
	v := &Viewport{output: output, cfg: cfg, width: width, height: height}
	v.Reset()
	return v, nil
}

func checkSize(w, h float64) error {
	if math.IsNaN(w) || math.IsNaN(h) || math.IsInf(w, 0) || math.IsInf(h, 0) || w <= 0 || h <= 0 {
		return fmt.Errorf("%w: output size %gx%g", domain.ErrInvalidGeometry, w, h)
	}
	return nil
}

func (v *Viewport) Output() domain.OutputID { return v.output }
func (v *Viewport) Zoom() float64           { return v.zoom }

// Offset is the canvas point shown at the screen origin.
func (v *Viewport) Offset() domain.Point { return v.pan }

// Size returns the screen size in pixels.
func (v *Viewport) Size() (width, height float64) { return v.width, v.height }

// ScreenToCanvas converts a screen point into canvas space.
func (v *Viewport) ScreenToCanvas(p domain.Point) domain.Point {
	return domain.Point{X: p.X/v.zoom + v.pan.X, Y: p.Y/v.zoom + v.pan.Y}
}

// CanvasToScreen converts a canvas point into screen space.
func (v *Viewport) CanvasToScreen(p domain.Point) domain.Point {
	return domain.Point{X: (p.X - v.pan.X) * v.zoom, Y: (p.Y - v.pan.Y) * v.zoom}
}

// CanvasRectToScreen converts an axis-aligned canvas rectangle.
func (v *Viewport) CanvasRectToScreen(r domain.Rect) domain.Rect {
	o := v.CanvasToScreen(domain.Point{X: r.X, Y: r.Y})
	return domain.Rect{X: o.X, Y: o.Y, Width: r.Width * v.zoom, Height: r.Height * v.zoom}
}

// VisibleRect is the canvas region currently on screen.
func (v *Viewport) VisibleRect() domain.Rect {
	return domain.Rect{X: v.pan.X, Y: v.pan.Y, Width: v.width / v.zoom, Height: v.height / v.zoom}
}

// Center is the canvas point at the middle of the screen.
func (v *Viewport) Center() domain.Point {
	return v.ScreenToCanvas(domain.Point{X: v.width / 2, Y: v.height / 2})
}

// Pan scrolls the viewport by a screen-space delta: content under the screen
// origin moves by (-dx, -dy) pixels.
func (v *Viewport) Pan(dx, dy float64) error {
	if !(domain.Point{X: dx, Y: dy}).Finite() {
		return fmt.Errorf("%w: non-finite pan delta", domain.ErrInvalidGeometry)
	}
	v.commit(domain.Point{X: v.pan.X + dx/v.zoom, Y: v.pan.Y + dy/v.zoom}, v.zoom)
	return nil
}

// ZoomAt multiplies the zoom by factor while keeping the canvas point under
// the screen-space anchor fixed.
func (v *Viewport) ZoomAt(factor float64, anchor domain.Point) error {
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor <= 0 {
		return fmt.Errorf("%w: zoom factor must be positive, got %g", domain.ErrInvalidGeometry, factor)
	}
	if !anchor.Finite() {
		return fmt.Errorf("%w: non-finite zoom anchor", domain.ErrInvalidGeometry)
	}
	fixed := v.ScreenToCanvas(anchor)
	zoom := v.clampZoom(v.zoom * factor)
	pan := domain.Point{X: fixed.X - anchor.X/zoom, Y: fixed.Y - anchor.Y/zoom}
	v.commit(pan, zoom)
	return nil
}

// SetZoom sets an absolute zoom around the screen centre.
func (v *Viewport) SetZoom(zoom float64) error {
	if math.IsNaN(zoom) || math.IsInf(zoom, 0) || zoom <= 0 {
		return fmt.Errorf("%w: zoom must be positive, got %g", domain.ErrInvalidGeometry, zoom)
	}
	return v.ZoomAt(zoom/v.zoom, domain.Point{X: v.width / 2, Y: v.height / 2})
}

// CenterOn pans so that p is at the middle of the screen.
func (v *Viewport) CenterOn(p domain.Point) error {
	if !p.Finite() {
		return fmt.Errorf("%w: non-finite centre", domain.ErrInvalidGeometry)
	}
	v.commit(domain.Point{X: p.X - v.width/(2*v.zoom), Y: p.Y - v.height/(2*v.zoom)}, v.zoom)
	return nil
}

// Resize changes the screen size, keeping the canvas point at the screen
// centre in place.
func (v *Viewport) Resize(width, height float64) error {
	if err := checkSize(width, height); err != nil {
		return err
	}
	c := v.Center()
	v.width, v.height = width, height
	return v.CenterOn(c)
}

// Reset returns to zoom 1 with the canvas origin centred.
func (v *Viewport) Reset() {
	v.commit(domain.Point{X: -v.width / 2, Y: -v.height / 2}, v.clampZoom(1))
}

// State captures the viewport for persistence.
func (v *Viewport) State() domain.ViewportState {
	return domain.ViewportState{Output: v.output, Pan: v.pan, Zoom: v.zoom, Width: v.width, Height: v.height}
}

// Restore applies a persisted pan and zoom, clamped to the current config.
// The screen size is kept.
func (v *Viewport) Restore(s domain.ViewportState) error {
	if !s.Pan.Finite() || math.IsNaN(s.Zoom) || math.IsInf(s.Zoom, 0) || s.Zoom <= 0 {
		return fmt.Errorf("%w: invalid viewport state", domain.ErrInvalidGeometry)
	}
	v.commit(s.Pan, v.clampZoom(s.Zoom))
	return nil
}

func (v *Viewport) clampZoom(z float64) float64 {
	return math.Min(math.Max(z, v.cfg.MinZoom), v.cfg.MaxZoom)
}

func (v *Viewport) commit(pan domain.Point, zoom float64) {
	b := v.cfg.Bounds
	if !b.Empty() {
		pan.X = math.Min(math.Max(pan.X, b.X), b.MaxX())
		pan.Y = math.Min(math.Max(pan.Y, b.Y), b.MaxY())
	}
	v.pan, v.zoom = pan, zoom
}
