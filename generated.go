package loupe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// missingSourceMessage reports a generated field whose source is not declared.
const missingSourceMessage = "schema.Generated references source that does not exist: %s"

// GeneratedResolver keeps the generated schema in step with the values of
// the fields that generated fields read from. Whenever a source value
// changes its handler is called with the new value and the returned schema
// document replaces that field's share of the generated schema.
type GeneratedResolver struct {
	schema  *SchemaStore
	invoker *HandlerInvoker
	errors  *ErrorAggregator

	mu     sync.Mutex
	ctx    context.Context
	sent   map[string]string
	parts  map[string]Schema
	wg     sync.WaitGroup
	inline bool
}

// NewGeneratedResolver creates a resolver for the generated fields of schema.
func NewGeneratedResolver(schema *SchemaStore, invoker *HandlerInvoker, errs *ErrorAggregator) *GeneratedResolver {
	return &GeneratedResolver{
		schema:  schema,
		invoker: invoker,
		errors:  errs,
		ctx:     context.Background(),
		sent:    make(map[string]string),
		parts:   make(map[string]Schema),
	}
}

// SyncMode resolves inline on the notifying goroutine.
// Must be called before Start.
func (g *GeneratedResolver) SyncMode() *GeneratedResolver {
	g.inline = true
	return g
}

// Start sets the context used by asynchronous resolves.
func (g *GeneratedResolver) Start(ctx context.Context) {
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()
}

// Wait blocks until every dispatched resolve has finished.
func (g *GeneratedResolver) Wait() {
	g.wg.Wait()
}

// OnConfigChanged resolves cfg in the background, or inline in sync mode.
func (g *GeneratedResolver) OnConfigChanged(cfg Config) {
	g.mu.Lock()
	ctx := g.ctx
	g.mu.Unlock()

	if g.inline {
		g.Resolve(ctx, cfg)
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.Resolve(ctx, cfg)
	}()
}

// Resolve calls the handler of every generated field whose source value in
// cfg differs from the value last sent. A source missing from the primary
// schema is raised and skipped without affecting other fields.
func (g *GeneratedResolver) Resolve(ctx context.Context, cfg Config) {
	primary := g.schema.Value()

	declared := make(map[string]struct{}, len(primary.Fields))
	for _, f := range primary.Fields {
		declared[f.ID] = struct{}{}
	}

	var (
		wg      sync.WaitGroup
		changed bool
	)
	live := make(map[string]struct{})
	for _, f := range primary.Fields {
		if f.Kind != FieldGenerated {
			continue
		}
		live[f.ID] = struct{}{}

		if _, ok := declared[f.Source]; !ok {
			msg := fmt.Sprintf(missingSourceMessage, f.Source)
			g.errors.raise(ctx, ErrorRecord{ID: msg, Message: msg, Kind: KindSchema})
			continue
		}

		value, ok := cfg.Get(f.Source)
		if !ok {
			continue
		}

		g.mu.Lock()
		prev, seen := g.sent[f.ID]
		if seen && prev == value {
			g.mu.Unlock()
			continue
		}
		g.sent[f.ID] = value
		g.mu.Unlock()

		wg.Add(1)
		go func(f FieldDescriptor, value string) {
			defer wg.Done()
			g.call(ctx, f, value)
		}(f, value)
	}
	wg.Wait()

	// Drop the share of generated fields no longer declared.
	g.mu.Lock()
	for id := range g.parts {
		if _, ok := live[id]; !ok {
			delete(g.parts, id)
			delete(g.sent, id)
			changed = true
		}
	}
	g.mu.Unlock()
	if changed {
		g.publish(ctx, primary)
	}
}

func (g *GeneratedResolver) call(ctx context.Context, f FieldDescriptor, value string) {
	err := g.invoker.InvokeAndApply(ctx, f.ID, f.Handler, value, func(raw json.RawMessage) error {
		generated, err := DecodeSchema(raw)
		if err != nil {
			return err
		}
		g.mu.Lock()
		g.parts[f.ID] = generated
		g.mu.Unlock()
		g.publish(ctx, g.schema.Value())
		return nil
	})
	if err != nil {
		// Allow the same value to be retried on the next change.
		g.mu.Lock()
		if g.sent[f.ID] == value {
			delete(g.sent, f.ID)
		}
		g.mu.Unlock()
	}
}

// publish rebuilds the generated schema from every field's share, in
// primary schema order.
func (g *GeneratedResolver) publish(ctx context.Context, primary Schema) {
	out := Schema{Version: "1"}
	g.mu.Lock()
	for _, f := range primary.Fields {
		part, ok := g.parts[f.ID]
		if !ok {
			continue
		}
		if part.Version != "" {
			out.Version = part.Version
		}
		out.Fields = append(out.Fields, part.Fields...)
	}
	// Swapped under the resolver lock so concurrent resolves store in the
	// order their shares were combined.
	g.schema.swap(func(st *SchemaState) { st.Generated = out })
	g.mu.Unlock()
	g.schema.announceGenerated(ctx, out)
}
