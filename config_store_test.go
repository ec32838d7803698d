package loupe

import (
	"testing"
)

func TestConfigStore_SetNotifiesFullSnapshot(t *testing.T) {
	store := NewConfigStore()

	var got []Config
	store.Observe(func(c Config) { got = append(got, c) })

	store.Set("a", "1")
	store.Set("b", "2")
	store.Set("a", "3")

	if len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(got))
	}
	last := got[2]
	if len(last) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(last))
	}
	if v, _ := last.Get("a"); v != "3" {
		t.Errorf("expected a=3, got %q", v)
	}
	if v, _ := last.Get("b"); v != "2" {
		t.Errorf("expected b=2, got %q", v)
	}
	// Earlier snapshots are immutable.
	if v, _ := got[0].Get("a"); v != "1" {
		t.Errorf("expected first snapshot a=1, got %q", v)
	}
	if _, ok := got[0].Get("b"); ok {
		t.Error("expected first snapshot without b")
	}
}

func TestConfigStore_LastWriteWins(t *testing.T) {
	store := NewConfigStore()
	ops := []struct {
		id, value string
		remove    bool
	}{
		{id: "x", value: "1"},
		{id: "y", value: "2"},
		{id: "x", remove: true},
		{id: "x", value: "4"},
		{id: "y", value: "5"},
		{id: "z", remove: true},
	}

	for _, op := range ops {
		if op.remove {
			store.Remove(op.id)
		} else {
			store.Set(op.id, op.value)
		}
	}

	snap := store.Snapshot()
	if v, _ := snap.Get("x"); v != "4" {
		t.Errorf("expected x=4, got %q", v)
	}
	if v, _ := snap.Get("y"); v != "5" {
		t.Errorf("expected y=5, got %q", v)
	}
	if _, ok := snap.Get("z"); ok {
		t.Error("expected z absent")
	}
	for id, e := range snap {
		if e.ID != id {
			t.Errorf("entry %q carries id %q", id, e.ID)
		}
	}
}

func TestConfigStore_RemoveAbsentIsNoop(t *testing.T) {
	store := NewConfigStore()
	store.Set("a", "1")

	notified := 0
	store.Observe(func(Config) { notified++ })

	store.Remove("missing")
	if notified != 0 {
		t.Errorf("expected no notification, got %d", notified)
	}

	store.Remove("a")
	if notified != 1 {
		t.Errorf("expected 1 notification, got %d", notified)
	}
	if len(store.Snapshot()) != 0 {
		t.Error("expected empty config")
	}
}

func TestConfigStore_ReplaceAndClear(t *testing.T) {
	store := NewConfigStore()
	store.Set("old", "1")

	store.Replace(Config{"new": {ID: "new", Value: "2"}})
	snap := store.Snapshot()
	if _, ok := snap.Get("old"); ok {
		t.Error("expected old entry replaced")
	}
	if v, _ := snap.Get("new"); v != "2" {
		t.Errorf("expected new=2, got %q", v)
	}

	store.Clear()
	if len(store.Snapshot()) != 0 {
		t.Error("expected empty config after Clear")
	}
}

func TestConfigStore_MergeSingleNotification(t *testing.T) {
	store := NewConfigStore()
	notified := 0
	store.Observe(func(Config) { notified++ })

	store.Merge(Config{
		"a": {ID: "a", Value: "1"},
		"b": {ID: "b", Value: "2"},
	})
	store.Merge(nil)

	if notified != 1 {
		t.Errorf("expected 1 notification, got %d", notified)
	}
}

func TestConfigStore_ObserveCancel(t *testing.T) {
	store := NewConfigStore()
	notified := 0
	cancel := store.Observe(func(Config) { notified++ })

	store.Set("a", "1")
	cancel()
	cancel()
	store.Set("a", "2")

	if notified != 1 {
		t.Errorf("expected 1 notification, got %d", notified)
	}
}

func TestConfigStore_ObserverMayMutate(t *testing.T) {
	store := NewConfigStore()
	store.Observe(func(c Config) {
		if _, ok := c.Get("mirror"); !ok {
			store.Set("mirror", "set")
		}
	})

	store.Set("a", "1")

	if v, _ := store.Get("mirror"); v != "set" {
		t.Errorf("expected mirror=set, got %q", v)
	}
}

func TestConfigStore_ObserverMutationDeliveredAfter(t *testing.T) {
	store := NewConfigStore()
	var seen []string
	store.Observe(func(c Config) {
		v, _ := c.Get("a")
		seen = append(seen, v)
		if v == "1" {
			store.Set("a", "2")
		}
	})

	store.Set("a", "1")

	if len(seen) != 2 || seen[0] != "1" || seen[1] != "2" {
		t.Errorf("expected [1 2], got %v", seen)
	}
}

func TestConfigStore_ConcurrentSetsEndOnLatest(t *testing.T) {
	store := NewConfigStore()

	entered := make(chan struct{})
	release := make(chan struct{})
	var last string
	store.Observe(func(c Config) {
		v, _ := c.Get("x")
		if v == "1" {
			close(entered)
			<-release
		}
		last = v
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Set("x", "1")
	}()
	<-entered

	// Published while the first snapshot is still being delivered.
	store.Set("x", "2")
	close(release)
	<-done

	if v, _ := store.Get("x"); v != "2" {
		t.Fatalf("expected store x=2, got %q", v)
	}
	if last != "2" {
		t.Errorf("expected observer to end on x=2, got %q", last)
	}
}

func TestConfigStore_ApplyDefaults(t *testing.T) {
	schema := Schema{Fields: []FieldDescriptor{
		{ID: "name", Kind: FieldText, Default: "world"},
		{ID: "count", Kind: FieldText, Default: "3"},
		{ID: "plain", Kind: FieldText},
		{ID: "gen", Kind: FieldGenerated, Source: "name", Default: "ignored"},
	}}

	store := NewConfigStore()
	store.Set("count", "7")

	notified := 0
	store.Observe(func(Config) { notified++ })

	applied := store.ApplyDefaults(schema)
	if len(applied) != 1 || applied[0] != "name" {
		t.Fatalf("expected [name] applied, got %v", applied)
	}
	if notified != 1 {
		t.Errorf("expected 1 notification, got %d", notified)
	}

	snap := store.Snapshot()
	if v, _ := snap.Get("name"); v != "world" {
		t.Errorf("expected name=world, got %q", v)
	}
	if v, _ := snap.Get("count"); v != "7" {
		t.Errorf("expected user value count=7 kept, got %q", v)
	}
	if _, ok := snap.Get("plain"); ok {
		t.Error("expected no entry for field without default")
	}
	if _, ok := snap.Get("gen"); ok {
		t.Error("expected no entry for generated field")
	}
}

func TestConfigStore_ApplyDefaultsOnce(t *testing.T) {
	schema := Schema{Fields: []FieldDescriptor{
		{ID: "name", Kind: FieldText, Default: "world"},
	}}

	store := NewConfigStore()
	store.ApplyDefaults(schema)
	store.Remove("name")

	notified := 0
	store.Observe(func(Config) { notified++ })

	if applied := store.ApplyDefaults(schema); len(applied) != 0 {
		t.Errorf("expected nothing applied, got %v", applied)
	}
	if notified != 0 {
		t.Errorf("expected no notification, got %d", notified)
	}
	if _, ok := store.Get("name"); ok {
		t.Error("expected removed default not to come back")
	}
}

func TestConfig_IDsSorted(t *testing.T) {
	cfg := Config{
		"b": {ID: "b"},
		"a": {ID: "a"},
		"c": {ID: "c"},
	}
	ids := cfg.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("expected [a b c], got %v", ids)
	}
}

func TestConfig_CloneIsIndependent(t *testing.T) {
	cfg := Config{"a": {ID: "a", Value: "1"}}
	clone := cfg.Clone()
	clone["a"] = Entry{ID: "a", Value: "2"}

	if v, _ := cfg.Get("a"); v != "1" {
		t.Errorf("expected original untouched, got %q", v)
	}
	if cfg.Equal(clone) {
		t.Error("expected configs to differ")
	}
}
