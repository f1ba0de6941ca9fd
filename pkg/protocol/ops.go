package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/loomwm/loom/pkg/domain"
)

type handlerFunc func(d *Dispatcher, client domain.ClientID, params json.RawMessage) (any, error)

var handlers = map[Op]handlerFunc{
	OpGetNodeInfo:       getNodeInfo,
	OpSetNodePosition:   setNodePosition,
	OpCreateConnection:  createConnection,
	OpSubscribeToEvents: subscribeToEvents,
	OpCreateNode:        createNode,
	OpDestroyNode:       destroyNode,
	OpDestroyConnection: destroyConnection,
	OpConnectionsOf:     connectionsOf,
	OpUnsubscribe:       unsubscribe,
	OpQueryRegion:       queryRegion,
}

func decode(raw json.RawMessage, into any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func getNodeInfo(d *Dispatcher, _ domain.ClientID, raw json.RawMessage) (any, error) {
	var p NodeParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	n, err := d.canvas.Node(p.NodeID)
	if err != nil {
		return nil, err
	}
	return n.Info(), nil
}

func setNodePosition(d *Dispatcher, _ domain.ClientID, raw json.RawMessage) (any, error) {
	var p SetNodePositionParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if _, err := d.canvas.SetPosition(p.NodeID, p.X, p.Y); err != nil {
		return nil, err
	}
	return Ack{}, nil
}

func createConnection(d *Dispatcher, client domain.ClientID, raw json.RawMessage) (any, error) {
	var p CreateConnectionParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	kind, err := domain.ParseConnectionKind(p.Kind)
	if err != nil {
		return nil, err
	}
	if limit := d.limits.MaxConnections; limit > 0 && d.canvas.OwnedConnections(client) >= limit {
		return nil, fmt.Errorf("%w: client %s holds %d connections", domain.ErrResourceExhausted, client, limit)
	}
	conn, err := d.canvas.CreateConnection(client, p.Source, p.Target, kind, p.Directed)
	if err != nil {
		return nil, err
	}
	return ConnectionResult{ConnectionID: conn.ID}, nil
}

func subscribeToEvents(d *Dispatcher, client domain.ClientID, raw json.RawMessage) (any, error) {
	var p SubscribeParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if limit := d.limits.MaxSubscriptions; limit > 0 && d.events.CountFor(client) >= limit {
		return nil, fmt.Errorf("%w: client %s holds %d subscriptions", domain.ErrResourceExhausted, client, limit)
	}
	sub, err := d.events.Subscribe(client, p.Filter)
	if err != nil {
		return nil, err
	}
	return SubscribeResult{SubscriptionID: sub.ID}, nil
}

func createNode(d *Dispatcher, client domain.ClientID, raw json.RawMessage) (any, error) {
	var p CreateNodeParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if limit := d.limits.MaxNodes; limit > 0 && d.canvas.OwnedNodes(client) >= limit {
		return nil, fmt.Errorf("%w: client %s holds %d nodes", domain.ErrResourceExhausted, client, limit)
	}
	kind, err := domain.ParseNodeKind(p.Kind)
	if err != nil {
		return nil, err
	}
	n, err := d.canvas.CreateNodeWithContent(client, domain.Geometry{
		X:        p.X,
		Y:        p.Y,
		Width:    p.Width,
		Height:   p.Height,
		Scale:    p.Scale,
		Rotation: p.Rotation,
		Z:        p.Z,
	}, p.Label, domain.Content{
		Kind:     kind,
		Body:     p.Content,
		Text:     p.Text,
		Path:     p.Path,
		Children: p.Children,
	})
	if err != nil {
		return nil, err
	}
	return n.Info(), nil
}

func destroyNode(d *Dispatcher, _ domain.ClientID, raw json.RawMessage) (any, error) {
	var p NodeParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if err := d.canvas.DestroyNode(p.NodeID); err != nil {
		return nil, err
	}
	return Ack{}, nil
}

func destroyConnection(d *Dispatcher, _ domain.ClientID, raw json.RawMessage) (any, error) {
	var p ConnectionParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if _, err := d.canvas.DestroyConnection(p.ConnectionID); err != nil {
		return nil, err
	}
	return Ack{}, nil
}

func connectionsOf(d *Dispatcher, _ domain.ClientID, raw json.RawMessage) (any, error) {
	var p NodeParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	conns := d.canvas.ConnectionsOf(p.NodeID)
	if conns == nil {
		conns = []domain.Connection{}
	}
	return ConnectionsResult{Connections: conns}, nil
}

func unsubscribe(d *Dispatcher, client domain.ClientID, raw json.RawMessage) (any, error) {
	var p UnsubscribeParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if _, err := d.Subscription(client, p.SubscriptionID); err != nil {
		return nil, err
	}
	if err := d.events.Unsubscribe(p.SubscriptionID); err != nil {
		return nil, err
	}
	return Ack{}, nil
}

func queryRegion(d *Dispatcher, _ domain.ClientID, raw json.RawMessage) (any, error) {
	var p QueryRegionParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if !p.Region.Finite() || p.Region.Width < 0 || p.Region.Height < 0 {
		return nil, fmt.Errorf("%w: invalid query region", domain.ErrInvalidGeometry)
	}
	nodes := d.canvas.Query(p.Region)
	out := make([]domain.NodeInfo, len(nodes))
	for i, n := range nodes {
		out[i] = n.Info()
	}
	return NodesResult{Nodes: out}, nil
}
