package viewport

import (
	"fmt"
	"slices"

	"github.com/loomwm/loom/pkg/domain"
)

// Controller owns one viewport per output. The first output added is the
// primary one until it is removed.
type Controller struct {
	cfg       Config
	viewports map[domain.OutputID]*Viewport
	order     []domain.OutputID
}

// NewController creates a controller with no outputs.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg, viewports: make(map[domain.OutputID]*Viewport)}
}

// Config returns the shared viewport bounds.
func (c *Controller) Config() Config { return c.cfg }

// Add creates the viewport of a new output, or resizes it if it exists.
func (c *Controller) Add(output domain.OutputID, width, height float64) (*Viewport, error) {
	if v, ok := c.viewports[output]; ok {
		return v, v.Resize(width, height)
	}
	v, err := New(output, width, height, c.cfg)
	if err != nil {
		return nil, err
	}
	c.viewports[output] = v
	c.order = append(c.order, output)
	return v, nil
}

// Remove drops the viewport of an output.
func (c *Controller) Remove(output domain.OutputID) error {
	if _, ok := c.viewports[output]; !ok {
		return fmt.Errorf("output %q: %w", output, domain.ErrNotFound)
	}
	delete(c.viewports, output)
	c.order = slices.DeleteFunc(c.order, func(o domain.OutputID) bool { return o == output })
	return nil
}

// Get returns the viewport of an output.
func (c *Controller) Get(output domain.OutputID) (*Viewport, error) {
	v, ok := c.viewports[output]
	if !ok {
		return nil, fmt.Errorf("output %q: %w", output, domain.ErrNotFound)
	}
	return v, nil
}

// Primary returns the primary viewport, or nil without outputs.
func (c *Controller) Primary() *Viewport {
	if len(c.order) == 0 {
		return nil
	}
	return c.viewports[c.order[0]]
}

// Outputs lists outputs in the order they were added.
func (c *Controller) Outputs() []domain.OutputID {
	return slices.Clone(c.order)
}

// States captures every viewport.
func (c *Controller) States() []domain.ViewportState {
	out := make([]domain.ViewportState, 0, len(c.order))
	for _, o := range c.order {
		out = append(out, c.viewports[o].State())
	}
	return out
}
