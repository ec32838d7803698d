package loupe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// DefaultDebounce is the default debounce window for configuration changes.
const DefaultDebounce = 300 * time.Millisecond

// PlaceholderTitle is the title shown before the first successful render.
const PlaceholderTitle = "Preview"

var renderID = pipz.NewIdentity("loupe:render", "Submit configuration to the rendering service")

// ImageFormat is the encoding of a preview image.
type ImageFormat int

const (
	// ImageWebP is a WebP image.
	ImageWebP ImageFormat = iota
	// ImageGIF is a GIF image.
	ImageGIF
)

// ParseImageFormat resolves a backend format tag. Anything other than
// "gif" is treated as WebP.
func ParseImageFormat(s string) ImageFormat {
	if s == "gif" {
		return ImageGIF
	}
	return ImageWebP
}

// String returns the backend format tag.
func (f ImageFormat) String() string {
	switch f {
	case ImageWebP:
		return "webp"
	case ImageGIF:
		return "gif"
	default:
		return "unknown"
	}
}

// PreviewResult is the rendered artifact returned by the rendering service.
type PreviewResult struct {
	Title  string
	Image  []byte
	Format ImageFormat

	// Error is a render error embedded in an otherwise successful response.
	Error string

	// Placeholder marks the static result shown before the first render.
	Placeholder bool
}

// Placeholder returns the static result used before the first render.
func Placeholder() PreviewResult {
	return PreviewResult{Title: PlaceholderTitle, Format: ImageWebP, Placeholder: true}
}

// PreviewStore holds the latest preview artifact and page title.
type PreviewStore struct {
	mu        sync.Mutex
	current   atomic.Pointer[PreviewResult]
	version   uint64
	observers observers[PreviewResult]
}

// NewPreviewStore creates a store holding the placeholder.
func NewPreviewStore() *PreviewStore {
	s := &PreviewStore{}
	p := Placeholder()
	s.current.Store(&p)
	return s
}

// Current returns the latest result.
func (s *PreviewStore) Current() PreviewResult {
	return *s.current.Load()
}

// Title returns the page title of the latest result.
func (s *PreviewStore) Title() string {
	return s.Current().Title
}

// Observe registers fn to receive every new result.
func (s *PreviewStore) Observe(fn func(PreviewResult)) func() {
	return s.observers.add(fn)
}

// Update replaces the result. An empty title keeps the previous one.
func (s *PreviewStore) Update(r PreviewResult) {
	s.mu.Lock()
	if r.Title == "" {
		r.Title = s.Title()
	}
	s.current.Store(&r)
	s.version++
	s.mu.Unlock()
	s.observers.publish(s.latest)
}

func (s *PreviewStore) latest() (uint64, PreviewResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.Current()
}

// Renderer submits a configuration snapshot to the rendering service.
type Renderer interface {
	Render(ctx context.Context, cfg Config) (PreviewResult, error)
}

// RenderCall carries one render request through the pipeline.
type RenderCall struct {
	// Seq is the monotonic sequence number of the request.
	Seq uint64

	// Config is the snapshot being rendered.
	Config Config

	// Result is filled in by the terminal stage.
	Result PreviewResult
}

// PreviewEngine keeps the preview consistent with the latest configuration
// snapshot. Changes are debounced, rendered through a pipeline, and applied
// to the PreviewStore and ErrorAggregator.
//
// Responses are fenced: each request carries a sequence number and a
// response older than the most recently applied one is dropped.
type PreviewEngine struct {
	renderer   Renderer
	preview    *PreviewStore
	errors     *ErrorAggregator
	loading    *Loading
	pipeline   pipz.Chainable[*RenderCall]
	debounce   time.Duration
	syncMode   bool
	clock      clockz.Clock
	metrics    MetricsProvider
	mirror     func(url.Values)
	queryLimit int

	seq atomic.Uint64

	appliedMu sync.Mutex
	applied   uint64

	pendingMu  sync.Mutex
	pending    Config
	hasPending bool
	notify     chan struct{}

	mu      sync.Mutex
	started bool
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewPreviewEngine creates an engine rendering through renderer.
//
// Pipeline options (With*) wrap the render call. Instance configuration
// uses chainable methods before calling Start.
func NewPreviewEngine(
	renderer Renderer,
	preview *PreviewStore,
	errs *ErrorAggregator,
	loading *Loading,
	opts ...Option,
) *PreviewEngine {
	terminal := pipz.Apply(renderID, func(ctx context.Context, call *RenderCall) (*RenderCall, error) {
		res, err := renderer.Render(ctx, call.Config)
		if err != nil {
			return call, err
		}
		call.Result = res
		return call, nil
	})

	return &PreviewEngine{
		renderer:   renderer,
		preview:    preview,
		errors:     errs,
		loading:    loading,
		pipeline:   buildPipeline(terminal, opts),
		debounce:   DefaultDebounce,
		clock:      clockz.RealClock,
		queryLimit: DefaultQueryLimit,
		notify:     make(chan struct{}, 1),
		ctx:        context.Background(),
	}
}

// Debounce sets the window in which changes coalesce into one request.
// Zero renders every change immediately. Must be called before Start.
func (e *PreviewEngine) Debounce(d time.Duration) *PreviewEngine {
	e.debounce = d
	return e
}

// SyncMode renders inline on the calling goroutine, without debouncing.
// Use it for deterministic tests. Must be called before Start.
func (e *PreviewEngine) SyncMode() *PreviewEngine {
	e.syncMode = true
	return e
}

// Clock sets the clock used for the debounce timer.
// Must be called before Start.
func (e *PreviewEngine) Clock(clock clockz.Clock) *PreviewEngine {
	e.clock = clock
	return e
}

// Metrics sets a metrics provider. Must be called before Start.
func (e *PreviewEngine) Metrics(provider MetricsProvider) *PreviewEngine {
	e.metrics = provider
	return e
}

// Mirror sets a sink receiving the shareable query mirror of every
// rendered snapshot. Must be called before Start.
func (e *PreviewEngine) Mirror(fn func(url.Values)) *PreviewEngine {
	e.mirror = fn
	return e
}

// QueryLimit sets the value length at or above which entries are left
// out of the query mirror. Must be called before Start.
func (e *PreviewEngine) QueryLimit(n int) *PreviewEngine {
	e.queryLimit = n
	return e
}

// Start begins the debounce loop. It returns immediately; the loop stops
// when ctx is canceled. Start can only be called once.
func (e *PreviewEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("preview engine already started")
	}
	e.started = true
	e.ctx = ctx

	if e.syncMode {
		return nil
	}

	e.wg.Add(1)
	go e.loop(ctx)
	return nil
}

// Wait blocks until the loop and every render it dispatched have finished.
func (e *PreviewEngine) Wait() {
	e.wg.Wait()
}

// OnConfigChanged schedules a render of snapshot. Only the most recent
// snapshot within the debounce window is sent. In sync mode the render
// happens before OnConfigChanged returns.
func (e *PreviewEngine) OnConfigChanged(snapshot Config) {
	e.mu.Lock()
	ctx, syncMode := e.ctx, e.syncMode
	e.mu.Unlock()

	if syncMode {
		e.render(ctx, snapshot)
		return
	}

	e.pendingMu.Lock()
	e.pending = snapshot
	e.hasPending = true
	e.pendingMu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Render sends snapshot immediately, bypassing the debounce window, and
// waits for the response to be applied.
func (e *PreviewEngine) Render(ctx context.Context, snapshot Config) {
	e.render(ctx, snapshot)
}

// loop owns the debounce timer. A change restarts the timer; only its
// expiry dispatches a request.
func (e *PreviewEngine) loop(ctx context.Context) {
	defer e.wg.Done()

	var timer clockz.Timer

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-e.notify:
			if e.debounce <= 0 {
				e.dispatch(ctx)
				continue
			}
			if timer == nil {
				timer = e.clock.NewTimer(e.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
				timer.Reset(e.debounce)
			}

		case <-timerC:
			e.dispatch(ctx)
		}
	}
}

// dispatch sends the pending snapshot on its own goroutine. Sent requests
// are not canceled by later changes; they race and the fence decides.
func (e *PreviewEngine) dispatch(ctx context.Context) {
	e.pendingMu.Lock()
	snapshot, ok := e.pending, e.hasPending
	e.pending, e.hasPending = nil, false
	e.pendingMu.Unlock()
	if !ok {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.render(ctx, snapshot)
	}()
}

func (e *PreviewEngine) render(ctx context.Context, snapshot Config) {
	done := e.loading.Begin()
	defer done()

	seq := e.seq.Add(1)
	start := e.clock.Now()

	if e.mirror != nil {
		e.mirror(QueryMirror(snapshot, e.queryLimit))
	}

	capitan.Emit(ctx, RenderRequested,
		KeySequence.Field(int(seq)),
		KeyCount.Field(len(snapshot)),
	)

	call, err := e.pipeline.Process(ctx, &RenderCall{Seq: seq, Config: snapshot})
	if !e.claim(seq) {
		capitan.Emit(ctx, RenderDiscarded,
			KeySequence.Field(int(seq)),
		)
		if e.metrics != nil {
			e.metrics.OnRenderDiscarded()
		}
		return
	}

	if err != nil {
		var pe *pipz.Error[*RenderCall]
		if errors.As(err, &pe) && pe.Err != nil {
			err = pe.Err
		}
		le := asError("render", KindTransport, err)
		e.errors.RaiseError(ctx, le)
		capitan.Emit(ctx, RenderFailed,
			KeySequence.Field(int(seq)),
			KeyErrorKind.Field(le.Kind.String()),
			KeyError.Field(le.Error()),
		)
		if e.metrics != nil {
			e.metrics.OnRenderFailure(le.Kind, e.clock.Since(start))
		}
		return
	}

	result := call.Result
	e.preview.Update(result)
	if result.Error != "" {
		e.errors.raise(ctx, ErrorRecord{ID: result.Error, Message: result.Error, Kind: KindRender})
	} else {
		// A clean render means the configuration is currently valid.
		e.errors.ClearAll(ctx)
	}

	capitan.Emit(ctx, RenderSucceeded,
		KeySequence.Field(int(seq)),
		KeyTitle.Field(result.Title),
		KeyDuration.Field(e.clock.Since(start)),
	)
	if e.metrics != nil {
		e.metrics.OnRenderSuccess(e.clock.Since(start))
	}
}

// claim reports whether the response to seq is newer than every response
// applied so far, and records it as applied.
func (e *PreviewEngine) claim(seq uint64) bool {
	e.appliedMu.Lock()
	defer e.appliedMu.Unlock()
	if seq <= e.applied {
		return false
	}
	e.applied = seq
	return true
}
