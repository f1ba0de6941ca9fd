package loom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomwm/loom/internal/config"
	"github.com/loomwm/loom/internal/input"
	"github.com/loomwm/loom/internal/logging"
	"github.com/loomwm/loom/internal/metrics"
	"github.com/loomwm/loom/internal/perf"
	"github.com/loomwm/loom/internal/runtime"
	"github.com/loomwm/loom/internal/surface"
	"github.com/loomwm/loom/internal/viewport"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/events"
	"github.com/loomwm/loom/pkg/ports"
	"github.com/loomwm/loom/pkg/protocol"
)

type (
	// Config is the daemon configuration.
	Config = config.Config
	// PointerResult reports where a pointer event landed.
	PointerResult = input.Result
	// FrameStats summarizes recent frame timings.
	FrameStats = perf.Stats
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config { return config.Default() }

// FrameSink receives the render list of every output once per frame, on the
// event loop. It must not block or call back into the engine.
type FrameSink func(output domain.OutputID, items []domain.RenderItem)

const (
	taskQueueSize  = 64
	persistTimeout = 5 * time.Second
)

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("engine already started")

const (
	taskPending int32 = iota
	taskRunning
	taskAbandoned
)

// task is claimed exactly once: by the loop, which runs it, or by a submitter
// that gave up waiting, in which case the loop skips it.
type task struct {
	fn    func()
	done  chan struct{}
	state atomic.Int32
}

func (t *task) claim(to int32) bool { return t.state.CompareAndSwap(taskPending, to) }

// Engine owns one canvas and runs its event loop. Every canvas read and
// mutation runs as a task on that loop; the exported methods are safe for
// concurrent use and block until their task has run.
type Engine struct {
	cfg    *Config
	logger *slog.Logger
	clock  func() time.Time

	events     *events.Manager
	canvas     *runtime.Canvas
	views      *viewport.Controller
	binder     *surface.Binder
	router     *input.Router
	dispatcher *protocol.Dispatcher
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	frames     *perf.FrameTimer
	sink       FrameSink

	store  ports.SnapshotStore
	locker ports.Locker

	tasks   chan *task
	saves   chan domain.Snapshot
	stopped chan struct{}

	mu      sync.Mutex
	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine and every
// component it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStore persists snapshots to s. Without a store the canvas lives in
// memory only.
func WithStore(s ports.SnapshotStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithLocker guards every snapshot write with a distributed lock on the
// canvas id.
func WithLocker(l ports.Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithRegistry registers the engine metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithFrameSink delivers render lists to sink.
func WithFrameSink(sink FrameSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithClock overrides the time source of the canvas and events.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// New builds an engine from cfg. A nil cfg selects the defaults.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logging.NewNop(),
		clock:   time.Now,
		tasks:   make(chan *task, taskQueueSize),
		saves:   make(chan domain.Snapshot, 1),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("canvas", cfg.Canvas.ID)

	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}
	e.metrics = metrics.New(e.registry)
	e.frames = perf.NewFrameTimer(perf.TargetFor(cfg.Render.FPS))

	limit := cfg.Canvas.CoordLimit
	bounds := domain.RectFromBounds(-limit, -limit, limit, limit)

	e.events = events.NewManager(
		events.WithQueueSize(cfg.Events.QueueSize),
		events.WithObserver(e.metrics),
		events.WithLogger(e.logger),
		events.WithClock(e.clock),
	)
	e.canvas = runtime.New(runtime.Config{
		MaxNodes:       cfg.Canvas.MaxNodes,
		MaxConnections: cfg.Canvas.MaxConnections,
		Bounds:         bounds,
	}, e.events, runtime.WithLogger(e.logger), runtime.WithClock(e.clock))

	e.views = viewport.NewController(viewport.Config{
		MinZoom: cfg.Viewport.MinZoom,
		MaxZoom: cfg.Viewport.MaxZoom,
		Bounds:  bounds,
	})
	for _, o := range cfg.Outputs {
		vp, err := e.views.Add(domain.OutputID(o.Name), o.Width, o.Height)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", o.Name, err)
		}
		if z := cfg.Viewport.InitialZoom; z > 0 && z != 1 {
			if err := vp.SetZoom(z); err != nil {
				return nil, fmt.Errorf("output %s: %w", o.Name, err)
			}
		}
	}

	e.binder = surface.New(e.canvas, e.views,
		surface.WithMaxPerClient(cfg.Surface.MaxPerClient),
		surface.WithLogger(e.logger),
	)
	e.router = input.NewRouter(e.canvas, e.views, input.Config{
		ZoomSensitivity: cfg.Viewport.ZoomSensitivity,
		PanSensitivity:  cfg.Viewport.PanSensitivity,
	})
	e.dispatcher = protocol.New(e, e.canvas, e.events,
		protocol.WithAuthorizer(protocol.TokenAuthorizer(cfg.Server.AuthToken)),
		protocol.WithLimits(protocol.Limits{
			MaxClients:       cfg.Limits.MaxClients,
			MaxNodes:         cfg.Limits.MaxNodesPerClient,
			MaxConnections:   cfg.Limits.MaxConnectionsPerClient,
			MaxSubscriptions: cfg.Limits.MaxSubscriptionsPerClient,
		}),
		protocol.WithObserver(e.metrics),
		protocol.WithLogger(e.logger),
	)
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *Config { return e.cfg }

// Dispatcher returns the protocol dispatcher transports attach to.
func (e *Engine) Dispatcher() *protocol.Dispatcher { return e.dispatcher }

// MetricsHandler serves the engine metrics in the Prometheus text format.
func (e *Engine) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Do runs fn on the event loop and waits for it. It fails with
// domain.ErrClosed once the loop has stopped. When Do returns an error fn has
// not run and never will; once fn has started Do waits for it to finish.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	t := &task{fn: fn, done: make(chan struct{})}
	select {
	case e.tasks <- t:
	case <-e.stopped:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return nil
	case <-e.stopped:
		if t.claim(taskAbandoned) {
			return domain.ErrClosed
		}
	case <-ctx.Done():
		if t.claim(taskAbandoned) {
			return ctx.Err()
		}
	}
	// the loop claimed the task first
	<-t.done
	return nil
}

// Run restores the stored snapshot and runs the event loop until ctx is done.
// On the way out it saves a final snapshot and tears the canvas down.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	if err := e.restore(ctx); err != nil {
		close(e.stopped)
		e.teardown()
		return err
	}

	var persisted sync.WaitGroup
	persisted.Add(1)
	go func() {
		defer persisted.Done()
		e.persister()
	}()

	frame := time.NewTicker(e.frames.Target())
	defer frame.Stop()
	var autosave <-chan time.Time
	if e.store != nil && e.cfg.Storage.SnapshotInterval.Duration > 0 {
		t := time.NewTicker(e.cfg.Storage.SnapshotInterval.Duration)
		defer t.Stop()
		autosave = t.C
	}

	e.logger.Info("engine started", "outputs", len(e.views.Outputs()), "nodes", e.canvas.NodeCount())
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case t := <-e.tasks:
			if t.claim(taskRunning) {
				t.fn()
			}
			close(t.done)
		case <-frame.C:
			e.frame()
		case <-autosave:
			e.queueSave()
		}
	}

	if e.store != nil {
		e.queueSave()
	}
	close(e.saves)
	close(e.stopped)
	e.teardown()
	persisted.Wait()
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) teardown() {
	if err := e.dispatcher.Close(context.Background()); err != nil {
		e.logger.Warn("dispatcher close failed", "error", err)
	}
	e.events.Close()
	e.canvas.Close()
}

func (e *Engine) restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, err := e.store.Load(ctx, e.cfg.Canvas.ID)
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.Info("no stored snapshot, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := e.canvas.Restore(*snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	for _, s := range snap.Viewports {
		vp, err := e.views.Get(s.Output)
		if err != nil {
			continue
		}
		if err := vp.Restore(s); err != nil {
			e.logger.Warn("viewport state skipped", "output", s.Output, "error", err)
		}
	}
	e.logger.Info("snapshot restored", "nodes", len(snap.Nodes), "connections", len(snap.Connections))
	return nil
}

func (e *Engine) snapshot() domain.Snapshot {
	snap := e.canvas.Snapshot()
	snap.CanvasID = e.cfg.Canvas.ID
	snap.Viewports = e.views.States()
	return snap
}

// queueSave hands the current snapshot to the persister, replacing one that
// has not been written yet.
func (e *Engine) queueSave() {
	snap := e.snapshot()
	select {
	case e.saves <- snap:
		return
	default:
	}
	select {
	case <-e.saves:
	default:
	}
	select {
	case e.saves <- snap:
	default:
	}
}

func (e *Engine) persister() {
	for snap := range e.saves {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := e.persist(ctx, &snap); err != nil {
			e.metrics.SnapshotFailures.Inc()
			e.logger.Error("snapshot save failed", "error", err)
		}
		cancel()
	}
}

func (e *Engine) persist(ctx context.Context, snap *domain.Snapshot) error {
	if e.locker != nil {
		unlock, err := e.locker.Lock(ctx, e.cfg.Canvas.ID, e.cfg.Storage.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("lock canvas: %w", err)
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				e.logger.Warn("unlock canvas failed", "error", err)
			}
		}()
	}
	return e.store.Save(ctx, e.cfg.Canvas.ID, snap)
}

// Save writes a snapshot now and waits for the write.
func (e *Engine) Save(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("%w: no snapshot store configured", domain.ErrInvalidRequest)
	}
	var snap domain.Snapshot
	if err := e.Do(ctx, func() { snap = e.snapshot() }); err != nil {
		return err
	}
	return e.persist(ctx, &snap)
}

// frame renders every output, hands the lists to the sink and clears the
// dirty state they carried.
func (e *Engine) frame() {
	e.frames.Begin()
	var all []domain.RenderItem
	for _, o := range e.views.Outputs() {
		vp, err := e.views.Get(o)
		if err != nil {
			continue
		}
		items := e.canvas.RenderList(vp)
		if e.sink != nil {
			e.sink(o, items)
		}
		all = append(all, items...)
	}
	e.canvas.Consume(all)
	d, stutter := e.frames.End()
	e.metrics.ObserveFrame(d, stutter)
	if stutter {
		e.logger.Debug("frame stutter", "duration", d, "target", e.frames.Target())
	}
	e.metrics.SetCanvas(e.canvas.NodeCount(), e.canvas.ConnectionCount(), e.events.Len(), e.dispatcher.Len())
}
