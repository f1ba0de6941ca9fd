package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/events"
)

// Version is the protocol version clients activate with.
const Version = 1

// Op names a protocol operation.
type Op string

const (
	OpGetNodeInfo       Op = "get_node_info"
	OpSetNodePosition   Op = "set_node_position"
	OpCreateConnection  Op = "create_connection"
	OpSubscribeToEvents Op = "subscribe_to_events"
	OpCreateNode        Op = "create_node"
	OpDestroyNode       Op = "destroy_node"
	OpDestroyConnection Op = "destroy_connection"
	OpConnectionsOf     Op = "connections_of"
	OpUnsubscribe       Op = "unsubscribe"
	OpQueryRegion       Op = "query_region"
)

// Ops lists every operation the dispatcher understands.
var Ops = []Op{
	OpGetNodeInfo, OpSetNodePosition, OpCreateConnection, OpSubscribeToEvents,
	OpCreateNode, OpDestroyNode, OpDestroyConnection, OpConnectionsOf,
	OpUnsubscribe, OpQueryRegion,
}

// Request is one protocol request. Params holds the op-specific parameters.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Op     Op              `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewRequest encodes params into a request.
func NewRequest(op Op, params any) (Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return Request{Op: op, Params: raw}, nil
}

// Error is the wire form of a failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Response answers one request.
type Response struct {
	ID     string `json:"id,omitempty"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

func errorResponse(id string, err error) Response {
	return Response{ID: id, Error: &Error{Code: domain.Code(err), Message: err.Error()}}
}

// Err returns the response error as an error value matching the domain
// sentinels under errors.Is.
func (r Response) Err() error {
	if r.Error == nil {
		return nil
	}
	for _, s := range sentinels {
		if domain.Code(s) == r.Error.Code {
			return fmt.Errorf("%w: %s", s, r.Error.Message)
		}
	}
	return errors.New(r.Error.Message)
}

var sentinels = []error{
	domain.ErrNotFound, domain.ErrInvalidGeometry, domain.ErrInvalidEndpoint,
	domain.ErrDuplicateConnection, domain.ErrResourceExhausted, domain.ErrEventsDropped,
	domain.ErrInvalidRequest, domain.ErrNotActive, domain.ErrUnauthorized,
	domain.ErrUnsupportedVersion, domain.ErrUnknownOp, domain.ErrClosed,
}

type NodeParams struct {
	NodeID domain.NodeID `json:"node_id"`
}

type SetNodePositionParams struct {
	NodeID domain.NodeID `json:"node_id"`
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
}

type CreateConnectionParams struct {
	Source   domain.NodeID `json:"source"`
	Target   domain.NodeID `json:"target"`
	Kind     string        `json:"kind"`
	Directed bool          `json:"directed"`
}

type SubscribeParams struct {
	Filter domain.Filter `json:"filter"`
}

type CreateNodeParams struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Scale    float64 `json:"scale,omitempty"`
	Rotation float64 `json:"rotation,omitempty"`
	Z        int     `json:"z_order,omitempty"`
	Label    string  `json:"label,omitempty"`

	// Kind defaults to note. Only the payload field of the kind may be set.
	Kind     string          `json:"kind,omitempty"`
	Content  string          `json:"content,omitempty"`
	Text     string          `json:"text,omitempty"`
	Path     string          `json:"path,omitempty"`
	Children []domain.NodeID `json:"children,omitempty"`
}

type ConnectionParams struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
}

type UnsubscribeParams struct {
	SubscriptionID events.SubscriptionID `json:"subscription_id"`
}

type QueryRegionParams struct {
	Region domain.Rect `json:"region"`
}

type Ack struct{}

type ConnectionResult struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
}

type SubscribeResult struct {
	SubscriptionID events.SubscriptionID `json:"subscription_id"`
}

type ConnectionsResult struct {
	Connections []domain.Connection `json:"connections"`
}

type NodesResult struct {
	Nodes []domain.NodeInfo `json:"nodes"`
}
