package loom

import (
	"context"

	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/protocol"
)

// The methods below are the typed front of the event loop for the surface,
// input and AI collaborators. Each runs one task and returns its result.

// CommitSurface applies a surface commit, creating the node of a new surface.
func (e *Engine) CommitSurface(ctx context.Context, c domain.SurfaceCommit) (domain.NodeID, error) {
	var (
		id  domain.NodeID
		err error
	)
	if doErr := e.Do(ctx, func() { id, err = e.binder.Commit(c) }); doErr != nil {
		return 0, doErr
	}
	return id, err
}

// DestroySurface removes a surface and the node it is bound to.
func (e *Engine) DestroySurface(ctx context.Context, s domain.SurfaceID) error {
	var err error
	if doErr := e.Do(ctx, func() { err = e.binder.Destroy(s) }); doErr != nil {
		return doErr
	}
	return err
}

// DisconnectSurfaceClient destroys every surface of a display client and
// reports how many there were.
func (e *Engine) DisconnectSurfaceClient(ctx context.Context, client domain.ClientID) (int, error) {
	var n int
	if err := e.Do(ctx, func() { n = e.binder.DisconnectClient(client) }); err != nil {
		return 0, err
	}
	return n, nil
}

// HandlePointer routes a screen-space pointer event.
func (e *Engine) HandlePointer(ctx context.Context, ev domain.PointerEvent) (PointerResult, error) {
	var (
		res PointerResult
		err error
	)
	if doErr := e.Do(ctx, func() { res, err = e.router.Handle(ev) }); doErr != nil {
		return PointerResult{}, doErr
	}
	return res, err
}

// Focus returns the node holding keyboard focus, zero when none does.
func (e *Engine) Focus(ctx context.Context) (domain.NodeID, error) {
	var id domain.NodeID
	err := e.Do(ctx, func() { id = e.router.Focus() })
	return id, err
}

// AddOutput creates the viewport of an output, or resizes an existing one.
func (e *Engine) AddOutput(ctx context.Context, output domain.OutputID, width, height float64) error {
	var err error
	if doErr := e.Do(ctx, func() { _, err = e.views.Add(output, width, height) }); doErr != nil {
		return doErr
	}
	return err
}

// RemoveOutput drops the viewport of an output.
func (e *Engine) RemoveOutput(ctx context.Context, output domain.OutputID) error {
	var err error
	if doErr := e.Do(ctx, func() { err = e.views.Remove(output) }); doErr != nil {
		return doErr
	}
	return err
}

// Viewport returns the persisted form of an output's viewport.
func (e *Engine) Viewport(ctx context.Context, output domain.OutputID) (domain.ViewportState, error) {
	var (
		st  domain.ViewportState
		err error
	)
	doErr := e.Do(ctx, func() {
		vp, gerr := e.views.Get(output)
		if gerr != nil {
			err = gerr
			return
		}
		st = vp.State()
	})
	if doErr != nil {
		return st, doErr
	}
	return st, err
}

// Pan moves an output's viewport by a screen-space delta.
func (e *Engine) Pan(ctx context.Context, output domain.OutputID, dx, dy float64) error {
	var err error
	doErr := e.Do(ctx, func() {
		vp, gerr := e.views.Get(output)
		if gerr != nil {
			err = gerr
			return
		}
		err = vp.Pan(dx, dy)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// ZoomAt multiplies an output's zoom by factor, keeping the canvas point
// under the screen anchor fixed.
func (e *Engine) ZoomAt(ctx context.Context, output domain.OutputID, factor float64, anchor domain.Point) error {
	var err error
	doErr := e.Do(ctx, func() {
		vp, gerr := e.views.Get(output)
		if gerr != nil {
			err = gerr
			return
		}
		err = vp.ZoomAt(factor, anchor)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// RenderList returns the current render list of an output without clearing
// dirty state.
func (e *Engine) RenderList(ctx context.Context, output domain.OutputID) ([]domain.RenderItem, error) {
	var (
		items []domain.RenderItem
		err   error
	)
	doErr := e.Do(ctx, func() {
		vp, gerr := e.views.Get(output)
		if gerr != nil {
			err = gerr
			return
		}
		items = e.canvas.RenderList(vp)
	})
	if doErr != nil {
		return nil, doErr
	}
	return items, err
}

// Frame renders every output now, as the frame ticker does.
func (e *Engine) Frame(ctx context.Context) error {
	return e.Do(ctx, e.frame)
}

// FrameStats returns the timing of recent frames.
func (e *Engine) FrameStats(ctx context.Context) (FrameStats, error) {
	var s FrameStats
	err := e.Do(ctx, func() { s = e.frames.Stats() })
	return s, err
}

// Snapshot captures the durable canvas state.
func (e *Engine) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := e.Do(ctx, func() { snap = e.snapshot() }); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Nodes lists every live node in id order.
func (e *Engine) Nodes(ctx context.Context) ([]domain.Node, error) {
	var nodes []domain.Node
	err := e.Do(ctx, func() { nodes = e.canvas.Nodes() })
	return nodes, err
}

// Execute runs an AI command as the trusted AI client.
func (e *Engine) Execute(ctx context.Context, cmd domain.Command) protocol.Response {
	return e.dispatcher.Execute(ctx, cmd)
}
