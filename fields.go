package loupe

import "github.com/zoobzio/capitan"

// Field keys for loupe events.
var (
	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyErrorID is the dedup key of an error record.
	KeyErrorID = capitan.NewStringKey("error_id")

	// KeyErrorKind is the classification of an error.
	KeyErrorKind = capitan.NewStringKey("error_kind")

	// KeyField is the configuration field id involved.
	KeyField = capitan.NewStringKey("field")

	// KeyOp is the operation being performed, e.g. "render" or "schema".
	KeyOp = capitan.NewStringKey("op")

	// KeyHandler is the backend handler name.
	KeyHandler = capitan.NewStringKey("handler")

	// KeyType is the type tag of a push frame.
	KeyType = capitan.NewStringKey("type")

	// KeyTitle is the title returned by a render.
	KeyTitle = capitan.NewStringKey("title")

	// KeyURL is a request or socket URL.
	KeyURL = capitan.NewStringKey("url")

	// KeyPath is a watched file path.
	KeyPath = capitan.NewStringKey("path")

	// KeyAttempt is the attempt number of a retried or reconnecting operation.
	KeyAttempt = capitan.NewIntKey("attempt")

	// KeySequence is the sequence number of a render request.
	KeySequence = capitan.NewIntKey("sequence")

	// KeyCount is a generic count, e.g. of entries or cleared errors.
	KeyCount = capitan.NewIntKey("count")

	// KeyDuration is the elapsed time of an operation.
	KeyDuration = capitan.NewDurationKey("duration")
)
