package loupe

import "github.com/zoobzio/capitan"

// Session lifecycle signals.
var (
	// SessionStarted is emitted when a Session has hydrated and loaded its schema.
	SessionStarted = capitan.NewSignal(
		"loupe.session.started",
		"Session bootstrap completed",
	)

	// SessionStopped is emitted when a Session stops running.
	SessionStopped = capitan.NewSignal(
		"loupe.session.stopped",
		"Session stopped",
	)

	// ConfigHydrated is emitted after query parameters were imported.
	ConfigHydrated = capitan.NewSignal(
		"loupe.config.hydrated",
		"Configuration imported from query string",
	)

	// ConfigDefaultsApplied is emitted when schema defaults filled missing entries.
	ConfigDefaultsApplied = capitan.NewSignal(
		"loupe.config.defaults.applied",
		"Schema defaults applied to configuration",
	)

	// ConfigImported is emitted when a configuration document replaced the store.
	ConfigImported = capitan.NewSignal(
		"loupe.config.imported",
		"Configuration imported from document",
	)
)

// Render signals.
var (
	// RenderRequested is emitted when a render request is sent.
	RenderRequested = capitan.NewSignal(
		"loupe.render.requested",
		"Render request sent",
	)

	// RequestRetried is emitted when a not-ready answer triggers another attempt.
	RequestRetried = capitan.NewSignal(
		"loupe.request.retried",
		"Request retried after not-ready answer",
	)

	// RenderSucceeded is emitted when a render response was applied.
	RenderSucceeded = capitan.NewSignal(
		"loupe.render.succeeded",
		"Render response applied",
	)

	// RenderFailed is emitted when a render request failed.
	RenderFailed = capitan.NewSignal(
		"loupe.render.failed",
		"Render request failed",
	)

	// RenderDiscarded is emitted when a response older than the applied one arrives.
	RenderDiscarded = capitan.NewSignal(
		"loupe.render.discarded",
		"Stale render response discarded",
	)
)

// Schema signals.
var (
	// SchemaUpdated is emitted when the primary schema is replaced.
	SchemaUpdated = capitan.NewSignal(
		"loupe.schema.updated",
		"Primary schema replaced",
	)

	// SchemaGeneratedUpdated is emitted when the generated schema is replaced.
	SchemaGeneratedUpdated = capitan.NewSignal(
		"loupe.schema.generated.updated",
		"Generated schema replaced",
	)
)

// Handler signals.
var (
	// HandlerInvoked is emitted when a handler call returned successfully.
	HandlerInvoked = capitan.NewSignal(
		"loupe.handler.invoked",
		"Handler call succeeded",
	)

	// HandlerFailed is emitted when a handler call failed.
	HandlerFailed = capitan.NewSignal(
		"loupe.handler.failed",
		"Handler call failed",
	)
)

// Live channel signals.
var (
	// LiveStateChanged is emitted on every connection state transition.
	LiveStateChanged = capitan.NewSignal(
		"loupe.live.state.changed",
		"Push channel state transition",
	)

	// LiveConnectTimeout is emitted when a dial stays in Connecting too long.
	LiveConnectTimeout = capitan.NewSignal(
		"loupe.live.connect.timeout",
		"Push channel connect timed out",
	)

	// LiveReadTimeout is emitted when an open push channel went silent for
	// longer than the read timeout and is torn down.
	LiveReadTimeout = capitan.NewSignal(
		"loupe.live.read.timeout",
		"Push channel read timed out",
	)

	// LiveMessageReceived is emitted for every inbound frame.
	LiveMessageReceived = capitan.NewSignal(
		"loupe.live.message.received",
		"Push channel frame received",
	)

	// LiveMessageUnknown is emitted for frames with an unrecognized type.
	LiveMessageUnknown = capitan.NewSignal(
		"loupe.live.message.unknown",
		"Push channel frame with unknown type ignored",
	)
)

// Error aggregation signals.
var (
	// ErrorRaised is emitted when a new record enters the active set.
	ErrorRaised = capitan.NewSignal(
		"loupe.error.raised",
		"Error raised",
	)

	// ErrorsCleared is emitted when the active set is moved to inactive.
	ErrorsCleared = capitan.NewSignal(
		"loupe.error.cleared",
		"Active errors cleared",
	)
)
