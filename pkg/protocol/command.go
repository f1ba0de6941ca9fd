package protocol

import (
	"context"
	"fmt"

	"github.com/loomwm/loom/pkg/domain"
)

// CommandRequest converts an AI command into the protocol request that
// carries it out.
func CommandRequest(cmd domain.Command) (Request, error) {
	switch cmd.Kind {
	case domain.CommandCreateNode:
		g, c := cmd.Geometry, cmd.Content
		return NewRequest(OpCreateNode, CreateNodeParams{
			X: g.X, Y: g.Y, Width: g.Width, Height: g.Height,
			Scale: g.Scale, Rotation: g.Rotation, Z: g.Z, Label: cmd.Label,
			Kind: string(c.Kind), Content: c.Body, Text: c.Text, Path: c.Path, Children: c.Children,
		})
	case domain.CommandMoveNode:
		return NewRequest(OpSetNodePosition, SetNodePositionParams{NodeID: cmd.Node, X: cmd.X, Y: cmd.Y})
	case domain.CommandCreateConnection:
		return NewRequest(OpCreateConnection, CreateConnectionParams{
			Source: cmd.Source, Target: cmd.Target, Kind: string(cmd.Relation), Directed: cmd.Directed,
		})
	}
	return Request{}, fmt.Errorf("%w: unknown command %q", domain.ErrInvalidRequest, cmd.Kind)
}

// Execute runs an AI command as the trusted AI client.
func (d *Dispatcher) Execute(ctx context.Context, cmd domain.Command) Response {
	req, err := CommandRequest(cmd)
	if err != nil {
		return errorResponse("", err)
	}
	if _, err := d.ConnectTrusted(AIClient); err != nil {
		return errorResponse("", err)
	}
	return d.Handle(ctx, AIClient, req)
}
