package loom_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwm/loom"
	"github.com/loomwm/loom/internal/config"
	"github.com/loomwm/loom/pkg/adapters/memory"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/protocol"
)

type running struct {
	eng  *loom.Engine
	stop func() error
}

// quietConfig ticks frames once a second so tests drive frames themselves.
func quietConfig() *loom.Config {
	cfg := loom.DefaultConfig()
	cfg.Render.FPS = 1
	return cfg
}

func start(t *testing.T, cfg *loom.Config, opts ...loom.Option) running {
	t.Helper()
	if cfg == nil {
		cfg = quietConfig()
	}
	eng, err := loom.New(cfg, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			runErr = <-done
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return running{eng: eng, stop: stop}
}

func TestEngine_SurfaceLifecycle(t *testing.T) {
	r := start(t, nil)
	ctx := context.Background()

	id, err := r.eng.CommitSurface(ctx, domain.SurfaceCommit{Surface: "s1", Client: "foot", Width: 200, Height: 100})
	require.NoError(t, err)

	items, err := r.eng.RenderList(ctx, "default")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].Node)
	assert.True(t, items[0].Dirty)

	require.NoError(t, r.eng.Frame(ctx))
	items, err = r.eng.RenderList(ctx, "default")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].Dirty, "a frame consumes dirty state")

	n, err := r.eng.DisconnectSurfaceClient(ctx, "foot")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	nodes, err := r.eng.Nodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	_, err = r.eng.RenderList(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_ProtocolRunsOnLoop(t *testing.T) {
	r := start(t, nil)
	ctx := context.Background()
	d := r.eng.Dispatcher()

	info, err := d.Open(ctx, "test", "", protocol.Version)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := protocol.NewRequest(protocol.OpCreateNode, protocol.CreateNodeParams{
				X: float64(i * 20), Width: 10, Height: 10,
			})
			assert.True(t, d.Handle(ctx, info.ID, req).OK)
		}(i)
	}
	wg.Wait()

	nodes, err := r.eng.Nodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 20)
}

func TestEngine_AICommands(t *testing.T) {
	r := start(t, nil)
	ctx := context.Background()

	resp := r.eng.Execute(ctx, domain.Command{
		Kind:     domain.CommandCreateNode,
		Geometry: domain.Geometry{Width: 50, Height: 50},
		Label:    "from ai",
	})
	require.True(t, resp.OK, "%+v", resp.Error)

	resp = r.eng.Execute(ctx, domain.Command{Kind: domain.CommandMoveNode, Node: 99, X: 1, Y: 1})
	assert.ErrorIs(t, resp.Err(), domain.ErrNotFound)
}

func TestEngine_PointerAndViewport(t *testing.T) {
	r := start(t, nil)
	ctx := context.Background()

	require.NoError(t, r.eng.AddOutput(ctx, "side", 800, 600))
	before, err := r.eng.Viewport(ctx, "side")
	require.NoError(t, err)

	require.NoError(t, r.eng.Pan(ctx, "side", 100, 0))
	after, err := r.eng.Viewport(ctx, "side")
	require.NoError(t, err)
	assert.Equal(t, before.Pan.X+100, after.Pan.X)

	res, err := r.eng.HandlePointer(ctx, domain.PointerEvent{Output: "side", Kind: domain.PointerAxis, X: 400, Y: 300, Delta: -10})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Zoom, 1e-9)

	require.NoError(t, r.eng.ZoomAt(ctx, "side", 100, domain.Point{}))
	st, err := r.eng.Viewport(ctx, "side")
	require.NoError(t, err)
	assert.Equal(t, 10.0, st.Zoom, "zoom is clamped")

	require.NoError(t, r.eng.RemoveOutput(ctx, "side"))
	assert.ErrorIs(t, r.eng.RemoveOutput(ctx, "side"), domain.ErrNotFound)

	focus, err := r.eng.Focus(ctx)
	require.NoError(t, err)
	assert.Zero(t, focus)
}

func TestEngine_SnapshotSurvivesRestart(t *testing.T) {
	store := memory.NewStore()
	cfg := quietConfig()
	ctx := context.Background()

	first := start(t, cfg, loom.WithStore(store))
	res := first.eng.Execute(ctx, domain.Command{Kind: domain.CommandCreateNode, Geometry: domain.Geometry{X: 5, Y: 5, Width: 10, Height: 10}, Label: "keep"})
	require.True(t, res.OK)
	_, err := first.eng.CommitSurface(ctx, domain.SurfaceCommit{Surface: "s", Width: 10, Height: 10})
	require.NoError(t, err)
	require.NoError(t, first.eng.Pan(ctx, "default", 40, 0))
	require.NoError(t, first.stop())

	_, err = first.eng.Nodes(ctx)
	assert.ErrorIs(t, err, domain.ErrClosed)

	second := start(t, cfg, loom.WithStore(store))
	nodes, err := second.eng.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1, "surface nodes are not persisted")
	assert.Equal(t, "keep", nodes[0].Label)

	vp, err := second.eng.Viewport(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, -960.0+40, vp.Pan.X)

	res = second.eng.Execute(ctx, domain.Command{Kind: domain.CommandCreateNode, Geometry: domain.Geometry{Width: 1, Height: 1}})
	require.True(t, res.OK)
	nodes, _ = second.eng.Nodes(ctx)
	require.Len(t, nodes, 2)
	assert.Greater(t, nodes[1].ID, domain.NodeID(2), "ids continue after the snapshot")
}

func TestEngine_SaveWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := quietConfig()
	cfg.Storage.Backend = "redis"
	cfg.Storage.RedisAddr = mr.Addr()

	storage, err := loom.OpenStorage(cfg.Storage)
	require.NoError(t, err)
	defer storage.Close()
	require.NotNil(t, storage.Locker)

	r := start(t, cfg, storage.Options()...)
	ctx := context.Background()
	require.True(t, r.eng.Execute(ctx, domain.Command{Kind: domain.CommandCreateNode, Geometry: domain.Geometry{Width: 1, Height: 1}}).OK)

	require.NoError(t, r.eng.Save(ctx))
	assert.True(t, mr.Exists("loom:canvas:default"))
	assert.False(t, mr.Exists("loom:lock:default"), "the lock is released after the write")
	require.NoError(t, r.stop())
}

func TestEngine_SaveWithoutStore(t *testing.T) {
	r := start(t, nil)
	assert.ErrorIs(t, r.eng.Save(context.Background()), domain.ErrInvalidRequest)
}

func TestEngine_FrameSinkAndMetrics(t *testing.T) {
	var mu sync.Mutex
	seen := map[domain.OutputID]int{}
	r := start(t, nil, loom.WithFrameSink(func(o domain.OutputID, items []domain.RenderItem) {
		mu.Lock()
		defer mu.Unlock()
		seen[o] += len(items)
	}))
	ctx := context.Background()

	_, err := r.eng.CommitSurface(ctx, domain.SurfaceCommit{Surface: "s", Width: 10, Height: 10})
	require.NoError(t, err)
	require.NoError(t, r.eng.Frame(ctx))

	mu.Lock()
	assert.Positive(t, seen["default"])
	mu.Unlock()

	stats, err := r.eng.FrameStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Max, stats.Min)

	rec := httptest.NewRecorder()
	r.eng.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "loom_canvas_nodes")
}

func TestEngine_RunTwice(t *testing.T) {
	r := start(t, nil)
	// make sure the first Run is past its start check
	require.NoError(t, r.eng.Frame(context.Background()))
	assert.ErrorIs(t, r.eng.Run(context.Background()), loom.ErrAlreadyStarted)
}

func TestEngine_DoHonoursContext(t *testing.T) {
	eng, err := loom.New(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// the loop is not running: the queue accepts the task but nothing runs it
	assert.ErrorIs(t, eng.Do(ctx, func() {}), context.DeadlineExceeded)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Canvas.MaxNodes = 0
	_, err := loom.New(cfg)
	assert.Error(t, err)
}

func TestEngine_AbandonedTaskNeverRuns(t *testing.T) {
	r := start(t, nil)
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	go func() {
		_ = r.eng.Do(ctx, func() {
			close(started)
			<-release
		})
	}()
	<-started

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	resp := r.eng.Execute(short, domain.Command{Kind: domain.CommandCreateNode, Geometry: domain.Geometry{Width: 10, Height: 10}})
	assert.False(t, resp.OK)

	close(release)
	nodes, err := r.eng.Nodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes, "a request reported as failed leaves the canvas unchanged")

	resp = r.eng.Execute(ctx, domain.Command{Kind: domain.CommandCreateNode, Geometry: domain.Geometry{Width: 10, Height: 10}})
	require.True(t, resp.OK)
	nodes, err = r.eng.Nodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}
