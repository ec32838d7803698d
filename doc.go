/*
Package loupe keeps a schema-driven configuration, its rendered preview, and
a backend's pushed updates consistent with each other.

A backend declares a typed field schema. The client edits a configuration
against it and every edit is reflected in a rendered preview. loupe is the
synchronization engine between the two: it owns the configuration state and
reconciles it with user input, query-string hydration, and a persistent push
channel. It drives debounced, retried render calls and per-field handler
calls, and aggregates the resulting errors.

# Session

A Session wires every store and component for one editing session:

	client := loupe.NewClient("http://localhost:8080")
	session := loupe.NewSession(client, loupe.WebSocketDialer{},
	    loupe.WithTimeout(10*time.Second),
	).Query(r.URL.Query())

	session.Preview.Observe(func(p loupe.PreviewResult) {
	    display(p.Title, p.Image)
	})

	if err := session.Run(ctx); err != nil {
	    log.Printf("session stopped: %v", err)
	}

Start loads the schema (retrying while the backend answers 404), hydrates
the query, applies schema defaults, and sends one initial render. After that
every ConfigStore mutation schedules a debounced render.

# Stores

ConfigStore, SchemaStore, PreviewStore, and ErrorAggregator publish
immutable snapshots. Observers receive the full snapshot on the mutating
goroutine after the store's lock is released.

# Rendering

PreviewEngine collapses changes within the debounce window (300ms by
default) into one request carrying the latest snapshot. Requests are
numbered; a response older than the last applied one is dropped. The render
call runs through a pipz pipeline so timeouts, rate limits, and circuit
breaking can be layered on:

	engine := loupe.NewPreviewEngine(client, preview, errs, loading,
	    loupe.WithCircuitBreaker(5, 30*time.Second),
	    loupe.WithMiddleware(
	        loupe.UseEffect("audit", auditFn),
	    ),
	).Debounce(200 * time.Millisecond)

# Push channel

LiveWatcher keeps one WebSocket to the backend and applies pushed previews,
schemas, and errors. Any close is reported once and redialed with
exponential backoff.

# Observability

loupe does not log. Components emit capitan signals (loupe.render.*,
loupe.live.*, loupe.error.*, ...) and report to an optional MetricsProvider.
*/
package loupe
