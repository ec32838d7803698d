package loupe

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// Entry is the value of one configuration field. Values are always strings;
// binary data is base64 encoded.
type Entry struct {
	ID    string `json:"id" yaml:"id"`
	Value string `json:"value" yaml:"value"`
}

// Config is an immutable snapshot of the configuration keyed by field id.
// Snapshots handed out by a ConfigStore must not be modified; use Clone to
// obtain a mutable copy.
type Config map[string]Entry

// Get returns the value for id.
func (c Config) Get(id string) (string, bool) {
	e, ok := c[id]
	return e.Value, ok
}

// IDs returns the field ids in sorted order.
func (c Config) IDs() []string {
	return slices.Sorted(maps.Keys(c))
}

// Clone returns a mutable copy of the snapshot.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	maps.Copy(out, c)
	return out
}

// Equal reports whether two snapshots hold the same entries.
func (c Config) Equal(other Config) bool {
	return maps.Equal(c, other)
}

// ConfigStore is the single source of truth for user-entered configuration.
// Every mutation publishes a new snapshot and notifies observers with it.
// Observers run after the store lock is released, so they may call back into
// the store. Under concurrent mutation observers always end on the latest
// snapshot.
type ConfigStore struct {
	mu        sync.Mutex
	current   atomic.Pointer[Config]
	version   uint64
	defaulted map[string]struct{}
	observers observers[Config]
}

// NewConfigStore creates an empty store.
func NewConfigStore() *ConfigStore {
	s := &ConfigStore{defaulted: make(map[string]struct{})}
	empty := Config{}
	s.current.Store(&empty)
	return s
}

// Snapshot returns the current configuration.
func (s *ConfigStore) Snapshot() Config {
	return *s.current.Load()
}

// Get returns the value for id from the current snapshot.
func (s *ConfigStore) Get(id string) (string, bool) {
	return s.Snapshot().Get(id)
}

// Observe registers fn to receive every new snapshot. The returned function
// removes the observer.
func (s *ConfigStore) Observe(fn func(Config)) func() {
	return s.observers.add(fn)
}

// Set upserts a single entry, overwriting any existing value.
func (s *ConfigStore) Set(id, value string) {
	s.mutate(func(c Config) bool {
		c[id] = Entry{ID: id, Value: value}
		return true
	})
}

// Remove deletes the entry for id. Removing an absent id is a no-op and
// does not notify observers.
func (s *ConfigStore) Remove(id string) {
	s.mutate(func(c Config) bool {
		if _, ok := c[id]; !ok {
			return false
		}
		delete(c, id)
		return true
	})
}

// Merge upserts every entry of cfg in a single mutation.
func (s *ConfigStore) Merge(cfg Config) {
	if len(cfg) == 0 {
		return
	}
	s.mutate(func(c Config) bool {
		for id, e := range cfg {
			c[id] = Entry{ID: id, Value: e.Value}
		}
		return true
	})
}

// Replace swaps the whole configuration, e.g. after importing a file.
func (s *ConfigStore) Replace(cfg Config) {
	s.mutate(func(c Config) bool {
		clear(c)
		for id, e := range cfg {
			c[id] = Entry{ID: id, Value: e.Value}
		}
		return true
	})
}

// Clear removes every entry.
func (s *ConfigStore) Clear() {
	s.mutate(func(c Config) bool {
		clear(c)
		return true
	})
}

// ApplyDefaults gives every renderable field with a non-empty default and no
// entry its default value. Each field is defaulted at most once for the
// lifetime of the store, so removing a defaulted entry does not bring the
// default back. It returns the ids that were set, in schema order.
func (s *ConfigStore) ApplyDefaults(schema Schema) []string {
	var applied []string
	s.mutate(func(c Config) bool {
		for _, f := range schema.Fields {
			if f.Default == "" || !f.Renderable() {
				continue
			}
			if _, done := s.defaulted[f.ID]; done {
				continue
			}
			s.defaulted[f.ID] = struct{}{}
			if _, ok := c[f.ID]; ok {
				continue
			}
			c[f.ID] = Entry{ID: f.ID, Value: f.Default}
			applied = append(applied, f.ID)
		}
		return len(applied) > 0
	})
	return applied
}

// mutate applies fn to a copy of the current snapshot and publishes it when
// fn reports a change.
func (s *ConfigStore) mutate(fn func(Config) bool) {
	s.mu.Lock()
	next := s.Snapshot().Clone()
	if !fn(next) {
		s.mu.Unlock()
		return
	}
	s.current.Store(&next)
	s.version++
	s.mu.Unlock()

	s.observers.publish(s.latest)
}

func (s *ConfigStore) latest() (uint64, Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.Snapshot()
}
