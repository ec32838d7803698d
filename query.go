package loupe

import (
	"context"
	"net/url"
	"strings"

	"github.com/zoobzio/capitan"
)

// DefaultQueryLimit is the value length at which an entry no longer fits
// the shareable query mirror.
const DefaultQueryLimit = 1024

// QueryMirror returns the query-string form of cfg. Entries whose value is
// limit bytes or longer (in practice images) are left out so links stay
// within URL length limits; reloading such a link loses those fields.
func QueryMirror(cfg Config, limit int) url.Values {
	q := make(url.Values, len(cfg))
	for id, e := range cfg {
		if len(e.Value) < limit {
			q.Set(id, e.Value)
		}
	}
	return q
}

// Hydrate imports every query parameter verbatim into store as a single
// mutation. Only the first value of a repeated parameter is used. It
// returns the number of imported entries.
func Hydrate(ctx context.Context, store *ConfigStore, query url.Values) int {
	cfg := make(Config, len(query))
	for id, vals := range query {
		if len(vals) == 0 {
			continue
		}
		cfg[id] = Entry{ID: id, Value: vals[0]}
	}
	store.Merge(cfg)

	capitan.Emit(ctx, ConfigHydrated,
		KeyCount.Field(len(cfg)),
	)
	return len(cfg)
}

// HydrateQuery parses a raw query string such as "?count=7&name=x" and
// hydrates store from it.
func HydrateQuery(ctx context.Context, store *ConfigStore, raw string) (int, error) {
	query, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return 0, &Error{Kind: KindDecode, Op: "hydrate", Err: err}
	}
	return Hydrate(ctx, store, query), nil
}
