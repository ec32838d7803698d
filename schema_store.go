package loupe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
)

// SchemaState is an immutable snapshot of both schemas held by a SchemaStore.
type SchemaState struct {
	// Value is the primary schema declared by the backend.
	Value Schema

	// Generated holds fields synthesized by a generated field's handler.
	Generated Schema
}

// Fields returns every renderable field: primary fields first, then
// generated ones.
func (s SchemaState) Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(s.Value.Fields)+len(s.Generated.Fields))
	for _, f := range s.Value.Fields {
		if f.Renderable() {
			out = append(out, f)
		}
	}
	for _, f := range s.Generated.Fields {
		if f.Renderable() {
			out = append(out, f)
		}
	}
	return out
}

// SchemaStore holds the primary schema and the separately tracked generated
// schema. Both are replaced wholesale, never edited in place.
type SchemaStore struct {
	mu        sync.Mutex
	current   atomic.Pointer[SchemaState]
	version   uint64
	observers observers[SchemaState]
}

// NewSchemaStore creates a store holding two empty schemas.
func NewSchemaStore() *SchemaStore {
	s := &SchemaStore{}
	s.current.Store(&SchemaState{
		Value:     Schema{Version: "1"},
		Generated: Schema{Version: "1"},
	})
	return s
}

// State returns the current snapshot.
func (s *SchemaStore) State() SchemaState {
	return *s.current.Load()
}

// Value returns the primary schema.
func (s *SchemaStore) Value() Schema {
	return s.State().Value
}

// Generated returns the generated schema.
func (s *SchemaStore) Generated() Schema {
	return s.State().Generated
}

// Observe registers fn to receive every new snapshot.
func (s *SchemaStore) Observe(fn func(SchemaState)) func() {
	return s.observers.add(fn)
}

// Update replaces the primary schema atomically.
func (s *SchemaStore) Update(ctx context.Context, schema Schema) {
	s.swap(func(st *SchemaState) { st.Value = schema })
	capitan.Emit(ctx, SchemaUpdated,
		KeyCount.Field(len(schema.Fields)),
	)
	s.observers.publish(s.latest)
}

// UpdateGenerated replaces the generated schema atomically.
func (s *SchemaStore) UpdateGenerated(ctx context.Context, schema Schema) {
	s.swap(func(st *SchemaState) { st.Generated = schema })
	s.announceGenerated(ctx, schema)
}

// announceGenerated emits and publishes a generated schema already swapped in.
func (s *SchemaStore) announceGenerated(ctx context.Context, schema Schema) {
	capitan.Emit(ctx, SchemaGeneratedUpdated,
		KeyCount.Field(len(schema.Fields)),
	)
	s.observers.publish(s.latest)
}

func (s *SchemaStore) swap(fn func(*SchemaState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.current.Load()
	fn(&next)
	s.current.Store(&next)
	s.version++
}

func (s *SchemaStore) latest() (uint64, SchemaState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, *s.current.Load()
}
