package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomwm/loom/internal/logging"
	"github.com/loomwm/loom/internal/runtime"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/events"
	"github.com/loomwm/loom/pkg/ports"
)

const (
	DefaultMaxClients = 256

	// AIClient is the trusted client AI commands are issued as.
	AIClient domain.ClientID = "ai"
)

// Limits caps what a single client may hold. Zero disables a limit.
type Limits struct {
	MaxClients       int
	MaxNodes         int
	MaxConnections   int
	MaxSubscriptions int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxClients:       DefaultMaxClients,
		MaxNodes:         1000,
		MaxConnections:   10_000,
		MaxSubscriptions: 16,
	}
}

// Observer receives per-request statistics.
type Observer interface {
	RequestHandled(op, code string, d time.Duration)
}

// Dispatcher multiplexes protocol clients onto the canvas event loop.
type Dispatcher struct {
	exec   ports.Executor
	canvas *runtime.Canvas
	events *events.Manager

	auth     Authorizer
	limits   Limits
	observer Observer
	logger   *slog.Logger
	clock    func() time.Time
	newID    func() string

	mu      sync.Mutex
	clients map[domain.ClientID]*client
	closed  bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithAuthorizer(a Authorizer) Option {
	return func(d *Dispatcher) {
		d.auth = a
	}
}

func WithLimits(l Limits) Option {
	return func(d *Dispatcher) {
		d.limits = l
	}
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// WithLogger sets a custom structured logger for the dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithIDGenerator overrides the uuid client id generator.
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) {
		d.newID = fn
	}
}

// New creates a dispatcher executing requests on exec against canvas.
func New(exec ports.Executor, canvas *runtime.Canvas, ev *events.Manager, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		exec:    exec,
		canvas:  canvas,
		events:  ev,
		auth:    TokenAuthorizer(""),
		limits:  DefaultLimits(),
		logger:  logging.NewNop(),
		clock:   time.Now,
		newID:   uuid.NewString,
		clients: make(map[domain.ClientID]*client),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect registers a new client in the Connected state.
func (d *Dispatcher) Connect(name string) (ClientInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ClientInfo{}, domain.ErrClosed
	}
	if d.limits.MaxClients > 0 && d.countLocked() >= d.limits.MaxClients {
		return ClientInfo{}, fmt.Errorf("%w: client limit %d reached", domain.ErrResourceExhausted, d.limits.MaxClients)
	}
	c := &client{info: ClientInfo{
		ID:          domain.ClientID(d.newID()),
		Name:        name,
		State:       StateConnected,
		ConnectedAt: d.clock(),
	}}
	d.clients[c.info.ID] = c
	d.logger.Debug("client connected", "client", c.info.ID, "name", name)
	return c.info, nil
}

// countLocked counts untrusted clients; trusted ones do not use up slots.
func (d *Dispatcher) countLocked() int {
	n := 0
	for _, c := range d.clients {
		if !c.info.Trusted {
			n++
		}
	}
	return n
}

// ConnectTrusted registers an in-process client that skips authorization and
// is Active immediately. Connecting an existing trusted id returns it.
func (d *Dispatcher) ConnectTrusted(id domain.ClientID) (ClientInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ClientInfo{}, domain.ErrClosed
	}
	if c, ok := d.clients[id]; ok {
		if !c.info.Trusted {
			return ClientInfo{}, fmt.Errorf("%w: client %s exists", domain.ErrInvalidRequest, id)
		}
		return c.info, nil
	}
	c := &client{info: ClientInfo{ID: id, Name: string(id), State: StateActive, Trusted: true, ConnectedAt: d.clock()}}
	d.clients[id] = c
	return c.info, nil
}

// transition moves a client from one state to the next.
func (d *Dispatcher) transition(id domain.ClientID, from, to State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[id]
	if !ok {
		return fmt.Errorf("client %s: %w", id, domain.ErrNotFound)
	}
	if c.info.State != from {
		return fmt.Errorf("%w: client %s is %s, want %s", domain.ErrInvalidRequest, id, c.info.State, from)
	}
	c.info.State = to
	return nil
}

// Authorize checks the client's token and moves it to Authorized.
func (d *Dispatcher) Authorize(id domain.ClientID, token string) error {
	info, err := d.Client(id)
	if err != nil {
		return err
	}
	if info.State != StateConnected {
		return fmt.Errorf("%w: client %s is %s", domain.ErrInvalidRequest, id, info.State)
	}
	if !d.auth.Authorize(info.Name, token) {
		d.logger.Warn("client rejected", "client", id, "name", info.Name)
		return fmt.Errorf("client %s: %w", id, domain.ErrUnauthorized)
	}
	return d.transition(id, StateConnected, StateAuthorized)
}

// Activate negotiates the protocol version and moves the client to Active.
func (d *Dispatcher) Activate(id domain.ClientID, version int) error {
	if version != Version {
		return fmt.Errorf("%w: %d (server speaks %d)", domain.ErrUnsupportedVersion, version, Version)
	}
	return d.transition(id, StateAuthorized, StateActive)
}

// Open runs Connect, Authorize and Activate. A client that fails a step is
// disconnected again.
func (d *Dispatcher) Open(ctx context.Context, name, token string, version int) (ClientInfo, error) {
	info, err := d.Connect(name)
	if err != nil {
		return ClientInfo{}, err
	}
	if err := d.Authorize(info.ID, token); err != nil {
		_ = d.Disconnect(ctx, info.ID)
		return ClientInfo{}, err
	}
	if err := d.Activate(info.ID, version); err != nil {
		_ = d.Disconnect(ctx, info.ID)
		return ClientInfo{}, err
	}
	return d.Client(info.ID)
}

// Disconnect tears a client down: it becomes Closing, its subscriptions are
// removed on the event loop, and it ends Closed and forgotten. Nodes and
// connections it created stay on the canvas.
func (d *Dispatcher) Disconnect(ctx context.Context, id domain.ClientID) error {
	d.mu.Lock()
	c, ok := d.clients[id]
	if !ok || c.info.State >= StateClosing {
		d.mu.Unlock()
		return fmt.Errorf("client %s: %w", id, domain.ErrNotFound)
	}
	c.info.State = StateClosing
	d.mu.Unlock()

	removed := 0
	teardown := func() { removed = d.events.UnsubscribeClient(id) }
	if err := d.exec.Do(ctx, teardown); err != nil {
		// teardown did not run and never will; the manager locks on its own
		teardown()
	}

	d.mu.Lock()
	c.info.State = StateClosed
	delete(d.clients, id)
	d.mu.Unlock()
	d.logger.Debug("client disconnected", "client", id, "subscriptions", removed)
	return nil
}

// Client returns a snapshot of a client.
func (d *Dispatcher) Client(id domain.ClientID) (ClientInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[id]
	if !ok {
		return ClientInfo{}, fmt.Errorf("client %s: %w", id, domain.ErrNotFound)
	}
	return c.info, nil
}

// Clients lists connected clients ordered by connection time.
func (d *Dispatcher) Clients() []ClientInfo {
	d.mu.Lock()
	out := make([]ClientInfo, 0, len(d.clients))
	for _, c := range d.clients {
		out = append(out, c.info)
	}
	d.mu.Unlock()
	slices.SortFunc(out, func(a, b ClientInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of connected clients.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *Dispatcher) active(id domain.ClientID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return domain.ErrClosed
	}
	c, ok := d.clients[id]
	if !ok {
		return fmt.Errorf("client %s: %w", id, domain.ErrNotFound)
	}
	if c.info.State != StateActive {
		return fmt.Errorf("%w: client %s is %s", domain.ErrNotActive, id, c.info.State)
	}
	return nil
}

// Handle executes one request for an Active client on the event loop.
func (d *Dispatcher) Handle(ctx context.Context, id domain.ClientID, req Request) Response {
	start := d.clock()
	resp := d.handle(ctx, id, req)
	if d.observer != nil {
		code := "ok"
		if resp.Error != nil {
			code = resp.Error.Code
		}
		d.observer.RequestHandled(string(req.Op), code, d.clock().Sub(start))
	}
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, id domain.ClientID, req Request) Response {
	if err := d.active(id); err != nil {
		return errorResponse(req.ID, err)
	}
	op, ok := handlers[req.Op]
	if !ok {
		return errorResponse(req.ID, fmt.Errorf("%w: %q", domain.ErrUnknownOp, req.Op))
	}

	var (
		result any
		err    error
	)
	task := func() {
		// the client may have started closing while the task was queued
		if err = d.active(id); err != nil {
			return
		}
		result, err = op(d, id, req.Params)
	}
	if doErr := d.exec.Do(ctx, task); doErr != nil {
		return errorResponse(req.ID, doErr)
	}
	if err != nil {
		if !isClientError(err) {
			d.logger.Error("request failed", "client", id, "op", req.Op, "err", err)
		}
		return errorResponse(req.ID, err)
	}
	return Response{ID: req.ID, OK: true, Result: result}
}

func isClientError(err error) bool {
	return domain.Code(err) != "internal"
}

// Subscription returns a subscription owned by the client, for transports
// that stream its events.
func (d *Dispatcher) Subscription(id domain.ClientID, sub events.SubscriptionID) (*events.Subscription, error) {
	s, err := d.events.Get(sub)
	if err != nil {
		return nil, err
	}
	if s.Client != id {
		return nil, fmt.Errorf("subscription %d: %w", sub, domain.ErrNotFound)
	}
	return s, nil
}

// Close disconnects every client. Further calls fail with domain.ErrClosed.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	ids := make([]domain.ClientID, 0, len(d.clients))
	for id := range d.clients {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := d.Disconnect(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
