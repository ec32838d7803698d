package loupe

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"golang.org/x/sync/errgroup"
)

// Session wires the stores and components of one editing session. It owns
// every store; components receive them at construction and share nothing
// else.
//
// Fields are exposed so callers can read stores and tune components before
// Start.
type Session struct {
	Config    *ConfigStore
	Schema    *SchemaStore
	Errors    *ErrorAggregator
	Preview   *PreviewStore
	Loading   *Loading
	Client    *Client
	Engine    *PreviewEngine
	Handlers  *HandlerInvoker
	Generated *GeneratedResolver

	// Live is nil when the session was created without a dialer.
	Live *LiveWatcher

	query  url.Values
	follow *FileWatcher
	codec  Codec

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	unsubs   []func()
	stopOnce sync.Once
}

// NewSession creates a session against client. When dialer is nil the push
// channel is not used. Render pipeline options are passed to the engine.
func NewSession(client *Client, dialer Dialer, opts ...Option) *Session {
	s := &Session{
		Config:  NewConfigStore(),
		Schema:  NewSchemaStore(),
		Errors:  NewErrorAggregator(),
		Preview: NewPreviewStore(),
		Loading: NewLoading(),
		Client:  client,
	}
	s.Engine = NewPreviewEngine(client, s.Preview, s.Errors, s.Loading, opts...)
	s.Handlers = NewHandlerInvoker(client, s.Errors, s.Loading)
	s.Generated = NewGeneratedResolver(s.Schema, s.Handlers, s.Errors)
	if dialer != nil {
		s.Live = NewLiveWatcher(client.LiveURL(), dialer, s.Schema, s.Preview, s.Errors)
	}
	return s
}

// Query sets the query parameters hydrated into the configuration at start.
func (s *Session) Query(q url.Values) *Session {
	s.query = q
	return s
}

// Follow replaces the configuration whenever the file at path is written.
// The format is picked from the extension.
func (s *Session) Follow(path string) *Session {
	s.follow = NewFileWatcher(path)
	s.codec = CodecFor(path)
	return s
}

// SyncMode makes rendering and generated-field resolution happen inline,
// for deterministic tests.
func (s *Session) SyncMode() *Session {
	s.Engine.SyncMode()
	s.Generated.SyncMode()
	return s
}

// Clock sets the clock of every time-dependent component.
func (s *Session) Clock(clock clockz.Clock) *Session {
	s.Client.Clock(clock)
	s.Engine.Clock(clock)
	s.Handlers.Clock(clock)
	if s.Live != nil {
		s.Live.Clock(clock)
	}
	return s
}

// Metrics sets the metrics provider of every component.
func (s *Session) Metrics(provider MetricsProvider) *Session {
	s.Engine.Metrics(provider)
	s.Handlers.Metrics(provider)
	if s.Live != nil {
		s.Live.Metrics(provider)
	}
	return s
}

// Start bootstraps the session: load the schema, hydrate the query, apply
// defaults, subscribe the reactive components, and send one initial render
// carrying the hydrated and defaulted configuration. It returns an error
// only when the schema cannot be loaded. Start can only be called once.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	schema, err := s.Client.FetchSchema(ctx)
	if err != nil {
		s.Errors.RaiseError(ctx, err)
		s.cancel()
		return fmt.Errorf("failed to load schema: %w", err)
	}
	s.Schema.Update(ctx, schema)

	if len(s.query) > 0 {
		Hydrate(ctx, s.Config, s.query)
	}
	s.applyDefaults(ctx, s.Schema.State())

	if err := s.Engine.Start(ctx); err != nil {
		s.cancel()
		return err
	}
	s.Generated.Start(ctx)

	// Subscribed after bootstrap so the initial render below is the only
	// request carrying the bootstrap snapshot.
	s.unsubs = append(s.unsubs,
		s.Config.Observe(s.Engine.OnConfigChanged),
		s.Config.Observe(s.Generated.OnConfigChanged),
		s.Schema.Observe(func(st SchemaState) {
			s.applyDefaults(ctx, st)
			s.Generated.OnConfigChanged(s.Config.Snapshot())
		}),
	)

	snapshot := s.Config.Snapshot()
	s.Engine.Render(ctx, snapshot)
	s.Generated.OnConfigChanged(snapshot)

	capitan.Emit(ctx, SessionStarted,
		KeyURL.Field(s.Client.Base()),
		KeyCount.Field(len(schema.Fields)),
	)
	return nil
}

// Run starts the session if needed and runs its workers until ctx is
// canceled or one of them fails.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	defer s.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if s.Live != nil {
		g.Go(func() error {
			return s.Live.Run(gctx)
		})
	}
	if s.follow != nil {
		g.Go(func() error {
			return Follow(gctx, s.follow, s.Config, s.Errors, s.codec)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

// applyDefaults fills missing entries from the defaults of both schemas.
func (s *Session) applyDefaults(ctx context.Context, st SchemaState) {
	applied := s.Config.ApplyDefaults(st.Value)
	applied = append(applied, s.Config.ApplyDefaults(st.Generated)...)
	if len(applied) == 0 {
		return
	}
	capitan.Emit(ctx, ConfigDefaultsApplied,
		KeyCount.Field(len(applied)),
	)
}

// Stop unsubscribes the reactive components and waits for in-flight
// renders and resolves. It is safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		unsubs := s.unsubs
		s.unsubs = nil
		s.mu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.Engine.Wait()
		s.Generated.Wait()

		capitan.Emit(context.Background(), SessionStopped,
			KeyURL.Field(s.Client.Base()),
		)
	})
}
