package loupe

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

type renderFunc func(ctx context.Context, cfg Config) (PreviewResult, error)

func (f renderFunc) Render(ctx context.Context, cfg Config) (PreviewResult, error) {
	return f(ctx, cfg)
}

type countingMetrics struct {
	NoOpMetricsProvider
	success   atomic.Int32
	failure   atomic.Int32
	discarded atomic.Int32
}

func (m *countingMetrics) OnRenderSuccess(time.Duration)             { m.success.Add(1) }
func (m *countingMetrics) OnRenderFailure(ErrorKind, time.Duration) { m.failure.Add(1) }
func (m *countingMetrics) OnRenderDiscarded()                        { m.discarded.Add(1) }

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestEngine(r Renderer, opts ...Option) (*PreviewEngine, *PreviewStore, *ErrorAggregator, *Loading) {
	preview := NewPreviewStore()
	errs := NewErrorAggregator()
	loading := NewLoading()
	return NewPreviewEngine(r, preview, errs, loading, opts...), preview, errs, loading
}

func TestPreviewStore_Placeholder(t *testing.T) {
	store := NewPreviewStore()
	cur := store.Current()
	if !cur.Placeholder {
		t.Error("expected placeholder before first render")
	}
	if cur.Title != PlaceholderTitle {
		t.Errorf("expected title %q, got %q", PlaceholderTitle, cur.Title)
	}

	store.Update(PreviewResult{Title: "Clock", Image: []byte{1}})
	store.Update(PreviewResult{Image: []byte{2}})
	if store.Title() != "Clock" {
		t.Errorf("expected empty title to keep previous, got %q", store.Title())
	}
}

func TestPreviewEngine_SyncRender(t *testing.T) {
	ctx := context.Background()
	engine, preview, errs, _ := newTestEngine(renderFunc(func(_ context.Context, cfg Config) (PreviewResult, error) {
		v, _ := cfg.Get("name")
		return PreviewResult{Title: "Hello " + v, Image: []byte("img"), Format: ImageGIF}, nil
	}))
	engine.SyncMode()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	errs.Raise(ctx, "stale", "stale")
	engine.OnConfigChanged(Config{"name": {ID: "name", Value: "world"}})

	cur := preview.Current()
	if cur.Title != "Hello world" {
		t.Errorf("expected title 'Hello world', got %q", cur.Title)
	}
	if cur.Format != ImageGIF {
		t.Errorf("expected gif, got %s", cur.Format)
	}
	if len(errs.Active()) != 0 {
		t.Error("expected clean render to clear errors")
	}
	if _, ok := errs.Inactive()["stale"]; !ok {
		t.Error("expected cleared error in inactive set")
	}
}

func TestPreviewEngine_EmbeddedError(t *testing.T) {
	ctx := context.Background()
	engine, preview, errs, _ := newTestEngine(renderFunc(func(context.Context, Config) (PreviewResult, error) {
		return PreviewResult{Title: "App", Image: []byte("img"), Error: "bad value"}, nil
	}))

	engine.Render(ctx, Config{})

	if preview.Title() != "App" {
		t.Errorf("expected preview still applied, got %q", preview.Title())
	}
	rec, ok := errs.Active()["bad value"]
	if !ok {
		t.Fatal("expected embedded error raised")
	}
	if rec.Kind != KindRender {
		t.Errorf("expected render kind, got %s", rec.Kind)
	}
}

func TestPreviewEngine_TransportError(t *testing.T) {
	ctx := context.Background()
	metrics := &countingMetrics{}
	engine, preview, errs, _ := newTestEngine(renderFunc(func(context.Context, Config) (PreviewResult, error) {
		return PreviewResult{}, &Error{Kind: KindTransport, Op: "render", Err: errors.New("connection refused")}
	}))
	engine.Metrics(metrics)

	engine.Render(ctx, Config{})

	if !preview.Current().Placeholder {
		t.Error("expected preview unchanged after failure")
	}
	if _, ok := errs.Active()["render: connection refused"]; !ok {
		t.Errorf("expected transport error raised, got %v", errs.Active())
	}
	if metrics.failure.Load() != 1 {
		t.Errorf("expected 1 failure, got %d", metrics.failure.Load())
	}
}

func TestPreviewEngine_Debounce(t *testing.T) {
	clock := clockz.NewFakeClock()

	var count atomic.Int32
	var last atomic.Value
	engine, _, _, _ := newTestEngine(renderFunc(func(_ context.Context, cfg Config) (PreviewResult, error) {
		v, _ := cfg.Get("n")
		last.Store(v)
		count.Add(1)
		return PreviewResult{Title: "t"}, nil
	}))
	engine.Debounce(300 * time.Millisecond).Clock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		engine.Wait()
	}()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, v := range []string{"1", "2", "3"} {
		engine.OnConfigChanged(Config{"n": {ID: "n", Value: v}})
		time.Sleep(5 * time.Millisecond)
	}

	// Allow goroutine to receive changes
	time.Sleep(10 * time.Millisecond)

	if count.Load() != 0 {
		t.Errorf("expected no render while debouncing, got %d", count.Load())
	}

	clock.Advance(350 * time.Millisecond)
	clock.BlockUntilReady()

	waitFor(t, func() bool { return count.Load() == 1 })
	if last.Load() != "3" {
		t.Errorf("expected latest snapshot rendered, got %v", last.Load())
	}
}

func TestPreviewEngine_StaleResponseDiscarded(t *testing.T) {
	ctx := context.Background()
	metrics := &countingMetrics{}

	entered := make(chan struct{})
	release := make(chan struct{})
	engine, preview, errs, _ := newTestEngine(renderFunc(func(_ context.Context, cfg Config) (PreviewResult, error) {
		if _, slow := cfg.Get("slow"); slow {
			close(entered)
			<-release
			return PreviewResult{}, errors.New("late failure")
		}
		return PreviewResult{Title: "fresh"}, nil
	}))
	engine.Metrics(metrics)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Render(ctx, Config{"slow": {ID: "slow", Value: "1"}})
	}()
	<-entered

	engine.Render(ctx, Config{"fast": {ID: "fast", Value: "1"}})
	close(release)
	wg.Wait()

	if preview.Title() != "fresh" {
		t.Errorf("expected newer response kept, got %q", preview.Title())
	}
	if len(errs.Active()) != 0 {
		t.Errorf("expected stale failure not raised, got %v", errs.Active())
	}
	if metrics.discarded.Load() != 1 {
		t.Errorf("expected 1 discarded, got %d", metrics.discarded.Load())
	}
	if metrics.success.Load() != 1 {
		t.Errorf("expected 1 success, got %d", metrics.success.Load())
	}
}

func TestPreviewEngine_Loading(t *testing.T) {
	ctx := context.Background()
	var during bool
	var loading *Loading
	engine, _, _, l := newTestEngine(renderFunc(func(context.Context, Config) (PreviewResult, error) {
		during = loading.Active()
		return PreviewResult{}, nil
	}))
	loading = l

	var changes []bool
	loading.Observe(func(v bool) { changes = append(changes, v) })

	engine.Render(ctx, Config{})

	if !during {
		t.Error("expected loading during render")
	}
	if loading.Active() {
		t.Error("expected loading cleared after render")
	}
	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Errorf("expected [true false], got %v", changes)
	}
}

func TestPreviewEngine_Mirror(t *testing.T) {
	var mirrored url.Values
	engine, _, _, _ := newTestEngine(renderFunc(func(context.Context, Config) (PreviewResult, error) {
		return PreviewResult{}, nil
	}))
	engine.QueryLimit(8).Mirror(func(q url.Values) { mirrored = q })

	engine.Render(context.Background(), Config{
		"name":  {ID: "name", Value: "short"},
		"image": {ID: "image", Value: strings.Repeat("x", 8)},
	})

	if mirrored.Get("name") != "short" {
		t.Errorf("expected name mirrored, got %v", mirrored)
	}
	if mirrored.Has("image") {
		t.Error("expected long value left out of mirror")
	}
}

func TestPreviewEngine_Middleware(t *testing.T) {
	var seen Config
	engine, _, _, _ := newTestEngine(
		renderFunc(func(_ context.Context, cfg Config) (PreviewResult, error) {
			seen = cfg
			return PreviewResult{}, nil
		}),
		WithMiddleware(
			UseApply("inject", func(_ context.Context, call *RenderCall) (*RenderCall, error) {
				cfg := call.Config.Clone()
				cfg["$tz"] = Entry{ID: "$tz", Value: "UTC"}
				call.Config = cfg
				return call, nil
			}),
		),
	)

	engine.Render(context.Background(), Config{})

	if v, _ := seen.Get("$tz"); v != "UTC" {
		t.Errorf("expected injected entry, got %v", seen)
	}
}

func TestPreviewEngine_StartTwice(t *testing.T) {
	engine, _, _, _ := newTestEngine(renderFunc(func(context.Context, Config) (PreviewResult, error) {
		return PreviewResult{}, nil
	}))
	engine.SyncMode()

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := engine.Start(context.Background()); err == nil {
		t.Error("expected error on second Start")
	}
}
