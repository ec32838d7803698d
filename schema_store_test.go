package loupe

import (
	"context"
	"testing"
)

func TestSchemaStore_Empty(t *testing.T) {
	store := NewSchemaStore()
	if len(store.Value().Fields) != 0 || len(store.Generated().Fields) != 0 {
		t.Error("expected empty schemas")
	}
	if store.Value().Version != "1" {
		t.Errorf("expected version 1, got %q", store.Value().Version)
	}
}

func TestSchemaStore_UpdatesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewSchemaStore()

	var states []SchemaState
	cancel := store.Observe(func(s SchemaState) { states = append(states, s) })

	store.Update(ctx, Schema{Fields: []FieldDescriptor{{ID: "a", Kind: FieldText}}})
	store.UpdateGenerated(ctx, Schema{Fields: []FieldDescriptor{{ID: "g", Kind: FieldText}}})
	store.Update(ctx, Schema{Fields: []FieldDescriptor{{ID: "b", Kind: FieldText}}})

	if len(states) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(states))
	}
	if _, ok := store.Generated().Field("g"); !ok {
		t.Error("expected generated schema kept across primary update")
	}
	if _, ok := store.Value().Field("a"); ok {
		t.Error("expected primary schema replaced wholesale")
	}
	if _, ok := states[0].Generated.Field("g"); ok {
		t.Error("expected earlier snapshot unchanged")
	}

	cancel()
	store.Update(ctx, Schema{})
	if len(states) != 3 {
		t.Error("expected no notification after cancel")
	}
}

func TestSchemaState_Fields(t *testing.T) {
	state := SchemaState{
		Value: Schema{Fields: []FieldDescriptor{
			{ID: "a", Kind: FieldText},
			{ID: "gen", Kind: FieldGenerated},
			{ID: "b", Kind: FieldTypeahead},
		}},
		Generated: Schema{Fields: []FieldDescriptor{
			{ID: "c", Kind: FieldColor},
		}},
	}

	fields := state.Fields()
	want := []string{"a", "b", "c"}
	if len(fields) != len(want) {
		t.Fatalf("expected %v, got %+v", want, fields)
	}
	for i, id := range want {
		if fields[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, fields[i].ID)
		}
	}
}

func TestSchemaStore_ConcurrentUpdatesEndOnLatest(t *testing.T) {
	ctx := context.Background()
	store := NewSchemaStore()

	entered := make(chan struct{})
	release := make(chan struct{})
	var last SchemaState
	store.Observe(func(st SchemaState) {
		if _, gen := st.Generated.Field("gen"); !gen {
			close(entered)
			<-release
		}
		last = st
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Update(ctx, Schema{Fields: []FieldDescriptor{{ID: "old", Kind: FieldText}}})
	}()
	<-entered

	store.UpdateGenerated(ctx, Schema{Fields: []FieldDescriptor{{ID: "gen", Kind: FieldText}}})
	close(release)
	<-done

	if _, ok := last.Generated.Field("gen"); !ok {
		t.Errorf("expected observer to end on the generated update, got %+v", last)
	}
	if _, ok := last.Value.Field("old"); !ok {
		t.Errorf("expected primary schema kept, got %+v", last)
	}
}
