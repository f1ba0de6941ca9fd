// Package ws serves the protocol over a WebSocket: the client sends a hello
// frame followed by requests, and receives responses and the events of every
// subscription it opens on the same connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomwm/loom/internal/logging"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/events"
	"github.com/loomwm/loom/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// Frame types.
const (
	TypeHello    = "hello"
	TypeWelcome  = "welcome"
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
	TypeError    = "error"
)

// Hello opens the session. It must be the first frame a client sends.
type Hello struct {
	Name    string `json:"name"`
	Token   string `json:"token,omitempty"`
	Version int    `json:"version"`
}

// Frame is one WebSocket message in either direction.
type Frame struct {
	Type         string                `json:"type"`
	Hello        *Hello                `json:"hello,omitempty"`
	Client       *protocol.ClientInfo  `json:"client,omitempty"`
	Request      *protocol.Request     `json:"request,omitempty"`
	Response     *protocol.Response    `json:"response,omitempty"`
	Subscription events.SubscriptionID `json:"subscription,omitempty"`
	Event        *domain.Event         `json:"event,omitempty"`
	Error        *protocol.Error       `json:"error,omitempty"`
}

// Handler upgrades HTTP requests to protocol sessions.
type Handler struct {
	dispatcher *protocol.Dispatcher
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithCheckOrigin replaces the same-origin check of the upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// NewHandler creates a WebSocket handler for d.
func NewHandler(d *protocol.Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		dispatcher: d,
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	s := &session{conn: conn, h: h}
	s.run(r.Context())
}

type session struct {
	h    *Handler
	conn *websocket.Conn
	id   domain.ClientID

	writeMu sync.Mutex
	pumps   sync.WaitGroup
}

func (s *session) write(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

func (s *session) fail(err error) {
	_ = s.write(Frame{Type: TypeError, Error: &protocol.Error{Code: domain.Code(err), Message: err.Error()}})
}

func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer func() {
		cancel()
		s.pumps.Wait()
		_ = s.conn.Close()
	}()

	var first Frame
	if err := s.conn.ReadJSON(&first); err != nil {
		return
	}
	if first.Type != TypeHello || first.Hello == nil {
		s.fail(fmt.Errorf("%w: first frame must be hello", domain.ErrInvalidRequest))
		return
	}
	version := first.Hello.Version
	if version == 0 {
		version = protocol.Version
	}
	info, err := s.h.dispatcher.Open(ctx, first.Hello.Name, first.Hello.Token, version)
	if err != nil {
		s.fail(err)
		return
	}
	s.id = info.ID
	defer func() {
		if err := s.h.dispatcher.Disconnect(context.Background(), s.id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.h.logger.Warn("disconnect failed", "client", s.id, "error", err)
		}
	}()
	s.h.logger.Info("websocket client connected", "client", s.id, "name", info.Name)
	if err := s.write(Frame{Type: TypeWelcome, Client: &info}); err != nil {
		return
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.h.logger.Debug("websocket read failed", "client", s.id, "error", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type != TypeRequest || f.Request == nil {
			s.fail(fmt.Errorf("%w: expected a request frame", domain.ErrInvalidRequest))
			continue
		}

		resp := s.h.dispatcher.Handle(ctx, s.id, *f.Request)
		if err := s.write(Frame{Type: TypeResponse, Response: &resp}); err != nil {
			return
		}
		if resp.OK && f.Request.Op == protocol.OpSubscribeToEvents {
			if res, ok := resp.Result.(protocol.SubscribeResult); ok {
				s.pump(ctx, res.SubscriptionID)
			}
		}
	}
}

// pump forwards a subscription's events until it is removed or the session
// ends.
func (s *session) pump(ctx context.Context, id events.SubscriptionID) {
	sub, err := s.h.dispatcher.Subscription(s.id, id)
	if err != nil {
		return
	}
	s.pumps.Add(1)
	go func() {
		defer s.pumps.Done()
		for {
			e, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if err := s.write(Frame{Type: TypeEvent, Subscription: id, Event: &e}); err != nil {
				return
			}
		}
	}()
}
