package backend

import "github.com/zoobzio/capitan"

// Backend signals.
var (
	// ClientConnected is emitted when a push channel client connects.
	ClientConnected = capitan.NewSignal(
		"loupe.backend.client.connected",
		"Push channel client connected",
	)

	// ClientDisconnected is emitted when a push channel client goes away.
	ClientDisconnected = capitan.NewSignal(
		"loupe.backend.client.disconnected",
		"Push channel client disconnected",
	)

	// PreviewServed is emitted after a preview request was rendered.
	PreviewServed = capitan.NewSignal(
		"loupe.backend.preview.served",
		"Preview rendered for request",
	)

	// HandlerServed is emitted after a handler request completed.
	HandlerServed = capitan.NewSignal(
		"loupe.backend.handler.served",
		"Handler request completed",
	)

	// FileChanged is emitted when the watched file was rewritten.
	FileChanged = capitan.NewSignal(
		"loupe.backend.file.changed",
		"Watched file changed, rerendering",
	)
)

// Field keys for backend events.
var (
	// KeyRemote is the remote address of a client.
	KeyRemote = capitan.NewStringKey("remote")

	// KeyClients is the number of connected clients.
	KeyClients = capitan.NewIntKey("clients")

	// KeyHandler is the handler name of a request.
	KeyHandler = capitan.NewStringKey("handler")

	// KeyPath is the watched file path.
	KeyPath = capitan.NewStringKey("path")

	// KeyError is the error message when a request fails.
	KeyError = capitan.NewStringKey("error")
)
