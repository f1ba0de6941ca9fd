// Package input routes screen-space pointer events onto the canvas.
package input

import (
	"fmt"

	"github.com/loomwm/loom/internal/runtime"
	"github.com/loomwm/loom/internal/viewport"
	"github.com/loomwm/loom/pkg/domain"
)

const (
	DefaultZoomSensitivity = 0.1
	DefaultPanSensitivity  = 1.0

	// minZoomFactor keeps a single large scroll step from inverting the zoom.
	minZoomFactor = 0.01
)

// Config tunes pointer gestures.
type Config struct {
	ZoomSensitivity float64
	PanSensitivity  float64
}

// DefaultConfig returns the default sensitivities.
func DefaultConfig() Config {
	return Config{ZoomSensitivity: DefaultZoomSensitivity, PanSensitivity: DefaultPanSensitivity}
}

// Result tells the caller where a pointer event landed.
type Result struct {
	// Canvas is the event position in canvas space.
	Canvas domain.Point
	// Node is the topmost node under the pointer, zero on background.
	Node domain.NodeID
	// Focused is set when the event changed keyboard focus.
	Focused bool
	// Panning reports whether a background drag is in progress.
	Panning bool
	// Zoom is the zoom level of the output after the event.
	Zoom float64
}

type drag struct {
	output domain.OutputID
	last   domain.Point
}

// Router keeps the pointer gesture state. It runs on the engine loop.
type Router struct {
	canvas *runtime.Canvas
	views  *viewport.Controller
	cfg    Config

	focus domain.NodeID
	drag  *drag
}

// NewRouter creates a router with cfg, filling unset sensitivities with the
// defaults.
func NewRouter(canvas *runtime.Canvas, views *viewport.Controller, cfg Config) *Router {
	if cfg.ZoomSensitivity <= 0 {
		cfg.ZoomSensitivity = DefaultZoomSensitivity
	}
	if cfg.PanSensitivity <= 0 {
		cfg.PanSensitivity = DefaultPanSensitivity
	}
	return &Router{canvas: canvas, views: views, cfg: cfg}
}

// Focus returns the focused node, zero when nothing has focus.
func (r *Router) Focus() domain.NodeID {
	if r.focus != 0 && !r.canvas.Has(r.focus) {
		r.focus = 0
	}
	return r.focus
}

// Handle applies one pointer event.
func (r *Router) Handle(ev domain.PointerEvent) (Result, error) {
	screen := domain.Point{X: ev.X, Y: ev.Y}
	if !screen.Finite() {
		return Result{}, fmt.Errorf("%w: non-finite pointer position", domain.ErrInvalidGeometry)
	}
	vp, err := r.views.Get(ev.Output)
	if err != nil {
		return Result{}, err
	}

	switch ev.Kind {
	case domain.PointerMotion:
		if r.drag != nil && r.drag.output == ev.Output {
			dx := (screen.X - r.drag.last.X) * r.cfg.PanSensitivity
			dy := (screen.Y - r.drag.last.Y) * r.cfg.PanSensitivity
			if err := vp.Pan(-dx, -dy); err != nil {
				return Result{}, err
			}
			r.drag.last = screen
		}
	case domain.PointerButton:
		if !ev.Pressed {
			r.drag = nil
			break
		}
		if n, ok := r.canvas.HitTest(vp.ScreenToCanvas(screen)); ok {
			if _, err := r.canvas.Raise(n.ID); err != nil {
				return Result{}, err
			}
			res := r.result(vp, screen)
			res.Focused = r.focus != n.ID
			r.focus = n.ID
			return res, nil
		}
		r.drag = &drag{output: ev.Output, last: screen}
	case domain.PointerAxis:
		factor := max(1-ev.Delta*r.cfg.ZoomSensitivity, minZoomFactor)
		if err := vp.ZoomAt(factor, screen); err != nil {
			return Result{}, err
		}
	default:
		return Result{}, fmt.Errorf("%w: unknown pointer kind %q", domain.ErrInvalidRequest, ev.Kind)
	}
	return r.result(vp, screen), nil
}

func (r *Router) result(vp *viewport.Viewport, screen domain.Point) Result {
	res := Result{Canvas: vp.ScreenToCanvas(screen), Panning: r.drag != nil, Zoom: vp.Zoom()}
	if n, ok := r.canvas.HitTest(res.Canvas); ok {
		res.Node = n.ID
	}
	return res
}
