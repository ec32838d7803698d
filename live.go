package loupe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Push channel defaults.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultBackoffMax     = 30 * time.Second
)

// Frame type tags sent by the backend.
const (
	FramePreview = "preview"
	FrameImage   = "image"
	FrameImg     = "img"
	FrameWebP    = "webp"
	FrameSchema  = "schema"
	FrameError   = "error"
)

// lostConnectionMessage is raised once per close code.
const lostConnectionMessage = "lost connection to backend: %d"

// LiveWatcher maintains the single persistent push channel from the
// backend and applies pushed previews, schemas, and errors.
//
// After any close or failed dial the watcher redials with exponential
// backoff. A dial still connecting after the connect timeout is torn down
// and redialed through the same path. An open channel that delivers neither
// a frame nor a keepalive beat for the read timeout is treated as lost.
type LiveWatcher struct {
	url            string
	dialer         Dialer
	schema         *SchemaStore
	preview        *PreviewStore
	errors         *ErrorAggregator
	clock          clockz.Clock
	connectTimeout time.Duration
	readTimeout    time.Duration
	backoffBase    time.Duration
	backoffMax     time.Duration
	maxReconnects  int
	metrics        MetricsProvider
	onStop         func(ConnectionState)

	state    atomic.Int32
	attempts atomic.Int32

	mu      sync.Mutex
	started bool
	conn    Conn
}

// NewLiveWatcher creates a watcher for the push channel at url.
func NewLiveWatcher(
	url string,
	dialer Dialer,
	schema *SchemaStore,
	preview *PreviewStore,
	errs *ErrorAggregator,
) *LiveWatcher {
	w := &LiveWatcher{
		url:            url,
		dialer:         dialer,
		schema:         schema,
		preview:        preview,
		errors:         errs,
		clock:          clockz.RealClock,
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		backoffBase:    DefaultBackoffBase,
		backoffMax:     DefaultBackoffMax,
	}
	w.state.Store(int32(StateClosed))
	return w
}

// Clock sets the clock used for timeouts and backoff.
// Must be called before Run.
func (w *LiveWatcher) Clock(clock clockz.Clock) *LiveWatcher {
	w.clock = clock
	return w
}

// ConnectTimeout sets how long a dial may stay in Connecting.
// Default: 5s. Must be called before Run.
func (w *LiveWatcher) ConnectTimeout(d time.Duration) *LiveWatcher {
	w.connectTimeout = d
	return w
}

// ReadTimeout sets how long an open channel may stay silent. Frames and,
// for a KeepaliveConn, keepalive beats both count as activity. Zero disables
// the check. Default: 60s. Must be called before Run.
func (w *LiveWatcher) ReadTimeout(d time.Duration) *LiveWatcher {
	w.readTimeout = d
	return w
}

// Backoff sets the first redial delay and its cap. The delay doubles on
// every consecutive failure. Must be called before Run.
func (w *LiveWatcher) Backoff(base, max time.Duration) *LiveWatcher {
	w.backoffBase = base
	w.backoffMax = max
	return w
}

// MaxReconnects bounds consecutive redials. Zero (default) never gives up.
// Must be called before Run.
func (w *LiveWatcher) MaxReconnects(n int) *LiveWatcher {
	w.maxReconnects = n
	return w
}

// Metrics sets a metrics provider. Must be called before Run.
func (w *LiveWatcher) Metrics(provider MetricsProvider) *LiveWatcher {
	w.metrics = provider
	return w
}

// OnStop sets a callback invoked with the final state when Run returns.
// Must be called before Run.
func (w *LiveWatcher) OnStop(fn func(ConnectionState)) *LiveWatcher {
	w.onStop = fn
	return w
}

// State returns the current connection state.
func (w *LiveWatcher) State() ConnectionState {
	return ConnectionState(w.state.Load())
}

// Attempts returns the number of consecutive redials since the channel
// was last open.
func (w *LiveWatcher) Attempts() int {
	return int(w.attempts.Load())
}

// Reconnect tears down the current connection, if any. Run redials it.
func (w *LiveWatcher) Reconnect() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Run keeps the push channel connected until ctx is canceled or the
// reconnect limit is reached. Run can only be called once.
func (w *LiveWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("live watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	defer func() {
		if w.onStop != nil {
			w.onStop(w.State())
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		w.transition(ctx, StateConnecting)
		conn, err := w.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.transition(ctx, StateClosed)
				return nil
			}
			w.transition(ctx, StateClosed)
			if !errors.Is(err, context.DeadlineExceeded) {
				w.raiseLost(ctx, CloseAbnormal)
			}
			if !w.wait(ctx) {
				return w.exhausted(ctx)
			}
			continue
		}

		w.setConn(conn)
		seen := w.track(conn)
		w.attempts.Store(0)
		w.transition(ctx, StateOpen)
		// Reconnecting is treated as recovery.
		w.errors.ClearAll(ctx)

		code := w.read(ctx, conn, seen)
		w.setConn(nil)
		w.transition(ctx, StateClosed)
		if ctx.Err() != nil {
			return nil
		}
		w.raiseLost(ctx, code)

		if !w.wait(ctx) {
			return w.exhausted(ctx)
		}
	}
}

// dial connects with the connect timeout applied.
func (w *LiveWatcher) dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := w.clock.WithTimeout(ctx, w.connectTimeout)
	defer cancel()

	conn, err := w.dialer.Dial(dialCtx, w.url)
	if err != nil {
		if ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			capitan.Emit(ctx, LiveConnectTimeout,
				KeyURL.Field(w.url),
				KeyDuration.Field(w.connectTimeout),
			)
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return conn, nil
}

// track records the last time conn showed activity, starting now, and
// subscribes to its keepalive beats.
func (w *LiveWatcher) track(conn Conn) *atomic.Pointer[time.Time] {
	seen := &atomic.Pointer[time.Time]{}
	w.touch(seen)
	if ka, ok := conn.(KeepaliveConn); ok {
		ka.OnKeepalive(func() { w.touch(seen) })
	}
	return seen
}

func (w *LiveWatcher) touch(seen *atomic.Pointer[time.Time]) {
	now := w.clock.Now()
	seen.Store(&now)
}

// read dispatches frames until the connection closes and returns the
// close code. A silent connection is closed and reported as abnormal.
func (w *LiveWatcher) read(ctx context.Context, conn Conn, seen *atomic.Pointer[time.Time]) int {
	stop := make(chan struct{})
	defer close(stop)
	var silent atomic.Bool
	go w.watchdog(ctx, conn, seen, &silent, stop)

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			var ce *CloseError
			if silent.Load() || !errors.As(err, &ce) {
				return CloseAbnormal
			}
			return ce.Code
		}
		w.touch(seen)
		w.Dispatch(ctx, frame)
	}
}

// watchdog closes conn when ctx is done or, with a read timeout set, when
// no activity was seen for that long.
func (w *LiveWatcher) watchdog(ctx context.Context, conn Conn, seen *atomic.Pointer[time.Time], silent *atomic.Bool, stop <-chan struct{}) {
	if w.readTimeout <= 0 {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
		return
	}

	for {
		idle := w.clock.Since(*seen.Load())
		if idle >= w.readTimeout {
			capitan.Emit(ctx, LiveReadTimeout,
				KeyURL.Field(w.url),
				KeyDuration.Field(w.readTimeout),
			)
			silent.Store(true)
			conn.Close()
			return
		}

		timer := w.clock.NewTimer(w.readTimeout - idle)
		select {
		case <-ctx.Done():
			timer.Stop()
			conn.Close()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

// Dispatch applies one inbound frame. Unknown types are signaled and
// ignored.
func (w *LiveWatcher) Dispatch(ctx context.Context, frame []byte) {
	if !gjson.ValidBytes(frame) {
		w.errors.RaiseError(ctx, &Error{Kind: KindDecode, Op: "live", Err: errors.New("frame is not valid JSON")})
		return
	}
	parsed := gjson.ParseBytes(frame)
	typ := parsed.Get("type").String()
	msg := parsed.Get("message")

	capitan.Emit(ctx, LiveMessageReceived,
		KeyType.Field(typ),
	)

	switch typ {
	case FramePreview, FrameImage, FrameImg, FrameWebP:
		image, err := base64.StdEncoding.DecodeString(msg.String())
		if err != nil {
			w.errors.RaiseError(ctx, &Error{Kind: KindDecode, Op: "live preview", Err: err})
			return
		}
		w.preview.Update(PreviewResult{
			Image:  image,
			Format: ParseImageFormat(parsed.Get("img_type").String()),
		})
		w.errors.ClearAll(ctx)

	case FrameSchema:
		// The payload is a JSON-encoded document; tolerate an inline object.
		payload := []byte(msg.Raw)
		if msg.Type == gjson.String {
			payload = []byte(msg.String())
		}
		schema, err := DecodeSchema(payload)
		if err != nil {
			w.errors.RaiseError(ctx, err)
			return
		}
		w.schema.Update(ctx, schema)

	case FrameError:
		text := msg.String()
		w.errors.raise(ctx, ErrorRecord{ID: text, Message: text, Kind: KindRender})

	default:
		capitan.Emit(ctx, LiveMessageUnknown,
			KeyType.Field(typ),
		)
	}
}

// wait sleeps for the next backoff delay. It returns false when ctx is done
// or the reconnect limit is reached.
func (w *LiveWatcher) wait(ctx context.Context) bool {
	attempt := int(w.attempts.Add(1))
	if w.maxReconnects > 0 && attempt > w.maxReconnects {
		return false
	}

	delay := w.backoffBase
	for i := 1; i < attempt && delay < w.backoffMax; i++ {
		delay *= 2
	}
	if delay > w.backoffMax {
		delay = w.backoffMax
	}

	timer := w.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}

func (w *LiveWatcher) exhausted(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	return &Error{
		Kind: KindConnection,
		Op:   "live",
		Err:  fmt.Errorf("gave up after %d reconnect attempts", w.maxReconnects),
	}
}

func (w *LiveWatcher) raiseLost(ctx context.Context, code int) {
	msg := fmt.Sprintf(lostConnectionMessage, code)
	w.errors.raise(ctx, ErrorRecord{ID: msg, Message: msg, Kind: KindConnection})
}

func (w *LiveWatcher) setConn(conn Conn) {
	w.mu.Lock()
	old := w.conn
	w.conn = conn
	w.mu.Unlock()
	// Only one connection is live at a time.
	if old != nil && old != conn {
		old.Close()
	}
}

func (w *LiveWatcher) transition(ctx context.Context, next ConnectionState) {
	prev := ConnectionState(w.state.Swap(int32(next)))
	if prev == next {
		return
	}
	capitan.Emit(ctx, LiveStateChanged,
		KeyOldState.Field(prev.String()),
		KeyNewState.Field(next.String()),
		KeyAttempt.Field(w.Attempts()),
	)
	if w.metrics != nil {
		w.metrics.OnConnectionStateChange(prev, next)
	}
}
