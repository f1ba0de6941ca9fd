package ws_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwm/loom/internal/runtime"
	"github.com/loomwm/loom/pkg/adapters/ws"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/events"
	"github.com/loomwm/loom/pkg/protocol"
)

type fixture struct {
	srv    *httptest.Server
	d      *protocol.Dispatcher
	events *events.Manager
}

func setup(t *testing.T, opts ...protocol.Option) fixture {
	t.Helper()
	ev := events.NewManager()
	canvas := runtime.New(runtime.DefaultConfig(), ev)
	d := protocol.New(&protocol.Serial{}, canvas, ev, opts...)
	srv := httptest.NewServer(ws.NewHandler(d))
	t.Cleanup(srv.Close)
	return fixture{srv: srv, d: d, events: ev}
}

func (f fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func hello(t *testing.T, conn *websocket.Conn, token string) ws.Frame {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ws.Frame{Type: ws.TypeHello, Hello: &ws.Hello{Name: "ws-test", Token: token}}))
	var f ws.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func send(t *testing.T, conn *websocket.Conn, op protocol.Op, params any) {
	t.Helper()
	req, err := protocol.NewRequest(op, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ws.Frame{Type: ws.TypeRequest, Request: &req}))
}

func read(t *testing.T, conn *websocket.Conn) ws.Frame {
	t.Helper()
	var f ws.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestSession_RequestsAndEvents(t *testing.T) {
	f := setup(t)
	conn := f.dial(t)

	welcome := hello(t, conn, "")
	require.Equal(t, ws.TypeWelcome, welcome.Type)
	require.NotNil(t, welcome.Client)
	assert.Equal(t, protocol.StateActive, welcome.Client.State)

	send(t, conn, protocol.OpSubscribeToEvents, protocol.SubscribeParams{})
	resp := read(t, conn)
	require.Equal(t, ws.TypeResponse, resp.Type)
	require.True(t, resp.Response.OK)

	send(t, conn, protocol.OpCreateNode, protocol.CreateNodeParams{Width: 10, Height: 10})

	var sawResponse, sawEvent bool
	for !sawResponse || !sawEvent {
		fr := read(t, conn)
		switch fr.Type {
		case ws.TypeResponse:
			assert.True(t, fr.Response.OK)
			sawResponse = true
		case ws.TypeEvent:
			assert.Equal(t, domain.EventNodeCreated, fr.Event.Kind)
			assert.NotZero(t, fr.Subscription)
			sawEvent = true
		default:
			t.Fatalf("unexpected frame %q", fr.Type)
		}
	}
}

func TestSession_RejectsBadHello(t *testing.T) {
	f := setup(t, protocol.WithAuthorizer(protocol.TokenAuthorizer("s3cret")))

	conn := f.dial(t)
	fr := hello(t, conn, "wrong")
	require.Equal(t, ws.TypeError, fr.Type)
	assert.Equal(t, "unauthorized", fr.Error.Code)

	conn = f.dial(t)
	require.NoError(t, conn.WriteJSON(ws.Frame{Type: ws.TypeRequest}))
	fr = read(t, conn)
	assert.Equal(t, "invalid_request", fr.Error.Code)
}

func TestSession_MalformedFrameKeepsSession(t *testing.T) {
	f := setup(t)
	conn := f.dial(t)
	hello(t, conn, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	fr := read(t, conn)
	assert.Equal(t, ws.TypeError, fr.Type)

	send(t, conn, protocol.OpGetNodeInfo, protocol.NodeParams{NodeID: 1})
	fr = read(t, conn)
	require.Equal(t, ws.TypeResponse, fr.Type)
	assert.ErrorIs(t, fr.Response.Err(), domain.ErrNotFound)
}

func TestSession_CloseDisconnectsClient(t *testing.T) {
	f := setup(t)
	conn := f.dial(t)
	hello(t, conn, "")
	send(t, conn, protocol.OpSubscribeToEvents, protocol.SubscribeParams{})
	read(t, conn)
	require.Equal(t, 1, f.d.Len())
	require.Equal(t, 1, f.events.Len())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return f.d.Len() == 0 && f.events.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
