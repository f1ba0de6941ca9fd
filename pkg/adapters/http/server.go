// Package http exposes the protocol dispatcher over HTTP: JSON requests per
// client and server-sent event streams per subscription.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loomwm/loom/internal/logging"
	"github.com/loomwm/loom/internal/presentation/graph"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/events"
	"github.com/loomwm/loom/pkg/protocol"
)

const maxBodyBytes = 1 << 20

// Inspector exposes the canvas read models served outside the protocol.
type Inspector interface {
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
}

// OpenRequest is the body of POST /clients.
type OpenRequest struct {
	Name    string `json:"name"`
	Token   string `json:"token,omitempty"`
	Version int    `json:"version"`
}

// Server serves one dispatcher.
type Server struct {
	Dispatcher *protocol.Dispatcher
	Inspector  Inspector
	Metrics    http.Handler
	Version    string
	Logger     *slog.Logger
	Heartbeat  time.Duration
	// IdleTimeout disconnects clients opened over HTTP that made no request
	// and held no event stream for that long. Zero keeps them forever.
	IdleTimeout time.Duration

	mu      sync.Mutex
	clients map[domain.ClientID]*presence
	clock   func() time.Time
}

type presence struct {
	seen    time.Time
	streams int
}

// Option configures the handler.
type Option func(*Server)

func WithInspector(i Inspector) Option {
	return func(s *Server) { s.Inspector = i }
}

// WithMetrics mounts h under GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.Metrics = h }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.Version = v }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.Logger = logger }
}

// WithHeartbeat sets the interval of SSE keep-alive comments.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.Heartbeat = d }
}

// WithIdleTimeout sets Server.IdleTimeout. ExpireIdle enforces it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.IdleTimeout = d }
}

// WithClock overrides the time source of idle tracking.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

// New creates the server for d.
func New(d *protocol.Dispatcher, opts ...Option) *Server {
	s := &Server{
		Dispatcher: d,
		Version:    "dev",
		Logger:     logging.NewNop(),
		Heartbeat:  15 * time.Second,
		clients:    make(map[domain.ClientID]*presence),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewHandler creates the HTTP handler for d. Use New and run ExpireIdle
// next to the handler to enforce an idle timeout.
func NewHandler(d *protocol.Dispatcher, opts ...Option) http.Handler {
	return New(d, opts...).Handler()
}

// Handler routes the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	if s.Inspector != nil {
		r.Get("/snapshot", s.GetSnapshot)
		r.Get("/graph", s.GetGraph)
	}

	r.Route("/clients", func(r chi.Router) {
		r.Get("/", s.ListClients)
		r.Post("/", s.OpenClient)
		r.Route("/{clientID}", func(r chi.Router) {
			r.Use(s.touch)
			r.Get("/", s.GetClient)
			r.Delete("/", s.CloseClient)
			r.Post("/requests", s.HandleRequest)
			r.Get("/subscriptions/{subID}/events", s.SubscribeEvents)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) touch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if p, ok := s.clients[clientID(r)]; ok {
			p.seen = s.clock()
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) track(id domain.ClientID) {
	s.mu.Lock()
	s.clients[id] = &presence{seen: s.clock()}
	s.mu.Unlock()
}

func (s *Server) forget(id domain.ClientID) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

// stream counts an open event stream of id and returns its release func.
func (s *Server) stream(id domain.ClientID) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.clients[id]
	if !ok {
		return func() {}
	}
	p.streams++
	return func() {
		s.mu.Lock()
		p.streams--
		p.seen = s.clock()
		s.mu.Unlock()
	}
}

// ExpireIdle disconnects idle HTTP clients until ctx is done. It returns at
// once when no idle timeout is set.
func (s *Server) ExpireIdle(ctx context.Context) error {
	if s.IdleTimeout <= 0 {
		return nil
	}
	ticker := time.NewTicker(max(s.IdleTimeout/4, 10*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep disconnects every HTTP client idle for longer than IdleTimeout and
// returns their ids. A client with an open event stream is never idle.
func (s *Server) Sweep(ctx context.Context) []domain.ClientID {
	if s.IdleTimeout <= 0 {
		return nil
	}
	now := s.clock()
	var idle []domain.ClientID
	s.mu.Lock()
	for id, p := range s.clients {
		if p.streams == 0 && now.Sub(p.seen) > s.IdleTimeout {
			idle = append(idle, id)
			delete(s.clients, id)
		}
	}
	s.mu.Unlock()

	for _, id := range idle {
		err := s.Dispatcher.Disconnect(ctx, id)
		switch {
		case err == nil:
			s.Logger.Info("idle client disconnected", "client", id)
		case !errors.Is(err, domain.ErrNotFound):
			s.Logger.Warn("idle client disconnect failed", "client", id, "error", err)
		}
	}
	return idle
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	switch domain.Code(err) {
	case "ok":
		return http.StatusOK
	case "not_found":
		return http.StatusNotFound
	case "invalid_geometry", "invalid_endpoint", "invalid_request", "unknown_op", "unsupported_version":
		return http.StatusBadRequest
	case "duplicate_connection", "not_active":
		return http.StatusConflict
	case "resource_exhausted":
		return http.StatusTooManyRequests
	case "unauthorized":
		return http.StatusUnauthorized
	case "closed":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.Logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, protocol.Error{Code: domain.Code(err), Message: err.Error()})
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func clientID(r *http.Request) domain.ClientID {
	return domain.ClientID(chi.URLParam(r, "clientID"))
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"app":              "loom",
		"version":          strings.TrimSpace(s.Version),
		"protocol_version": protocol.Version,
		"clients":          s.Dispatcher.Len(),
	})
}

// GetSnapshot handles GET /snapshot.
func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Inspector.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// GetGraph handles GET /graph and returns a Mermaid flowchart.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Inspector.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, graph.GenerateMermaid(snap.Nodes, snap.Connections, nil))
}

// ListClients handles GET /clients.
func (s *Server) ListClients(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Dispatcher.Clients())
}

// OpenClient handles POST /clients: connect, authorize and activate in one
// step. The token may also be sent as a bearer Authorization header.
func (s *Server) OpenClient(w http.ResponseWriter, r *http.Request) {
	var body OpenRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.Token == "" {
		body.Token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if body.Version == 0 {
		body.Version = protocol.Version
	}

	info, err := s.Dispatcher.Open(r.Context(), body.Name, body.Token, body.Version)
	if err != nil {
		s.Logger.Warn("client rejected", "name", body.Name, "error", err)
		s.writeError(w, err)
		return
	}
	s.track(info.ID)
	s.Logger.Info("client opened", "client", info.ID, "name", info.Name)
	s.writeJSON(w, http.StatusCreated, info)
}

// GetClient handles GET /clients/{clientID}.
func (s *Server) GetClient(w http.ResponseWriter, r *http.Request) {
	info, err := s.Dispatcher.Client(clientID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// CloseClient handles DELETE /clients/{clientID}.
func (s *Server) CloseClient(w http.ResponseWriter, r *http.Request) {
	id := clientID(r)
	if err := s.Dispatcher.Disconnect(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRequest handles POST /clients/{clientID}/requests. The body is one
// protocol request and the response body is its protocol response.
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	resp := s.Dispatcher.Handle(r.Context(), clientID(r), req)
	s.writeJSON(w, StatusFor(resp.Err()), resp)
}

// SubscribeEvents handles GET /clients/{clientID}/subscriptions/{subID}/events
// as a server-sent event stream. The stream ends when the subscription is
// removed or the client goes away.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.Logger.Error("streaming not supported")
		return
	}

	raw, err := strconv.ParseUint(chi.URLParam(r, "subID"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: bad subscription id", domain.ErrInvalidRequest))
		return
	}
	id := clientID(r)
	sub, err := s.Dispatcher.Subscription(id, events.SubscriptionID(raw))
	if err != nil {
		s.writeError(w, err)
		return
	}

	defer s.stream(id)()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.Logger.Debug("event stream opened", "client", id, "subscription", sub.ID)

	ctx := r.Context()
	next := make(chan domain.Event)
	errc := make(chan error, 1)
	go func() {
		for {
			e, err := sub.Next(ctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case next <- e:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	ticker := time.NewTicker(s.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case e := <-next:
			data, err := json.Marshal(e)
			if err != nil {
				s.Logger.Error("event encode failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Kind, data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case err := <-errc:
			if errors.Is(err, domain.ErrClosed) {
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				flusher.Flush()
			}
			s.Logger.Debug("event stream closed", "client", id, "subscription", sub.ID)
			return
		}
	}
}
