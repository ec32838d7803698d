package loupe

import (
	"context"
	"fmt"
	"io"

	"github.com/zoobzio/capitan"
)

// Export writes cfg to w in the configuration file shape
// {"<id>": {"id": "<id>", "value": "<value>"}}.
func Export(w io.Writer, cfg Config, codec Codec) error {
	if cfg == nil {
		cfg = Config{}
	}
	data, err := codec.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Import reads a configuration file written by Export.
func Import(r io.Reader, codec Codec) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return DecodeConfig(data, codec)
}

// DecodeConfig decodes a configuration document. The map key is the entry
// id; an entry carrying a different id is rejected.
func DecodeConfig(data []byte, codec Codec) (Config, error) {
	var raw map[string]Entry
	if err := codec.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Kind: KindDecode, Op: "import", Err: err}
	}
	cfg := make(Config, len(raw))
	for id, e := range raw {
		if e.ID != "" && e.ID != id {
			return nil, &Error{
				Kind: KindDecode,
				Op:   "import",
				Err:  fmt.Errorf("entry %q carries id %q", id, e.ID),
			}
		}
		cfg[id] = Entry{ID: id, Value: e.Value}
	}
	return cfg, nil
}

// Follow replaces store with every document emitted by watcher until ctx is
// canceled or the watcher closes. Documents that fail to decode are raised
// through errs and leave the store untouched.
func Follow(ctx context.Context, watcher *FileWatcher, store *ConfigStore, errs *ErrorAggregator, codec Codec) error {
	ch, err := watcher.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			cfg, err := DecodeConfig(data, codec)
			if err != nil {
				errs.RaiseError(ctx, err)
				continue
			}
			if cfg.Equal(store.Snapshot()) {
				continue
			}
			store.Replace(cfg)
			capitan.Emit(ctx, ConfigImported,
				KeyPath.Field(watcher.Path()),
				KeyCount.Field(len(cfg)),
			)
		}
	}
}
