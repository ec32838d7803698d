package loupe

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/zoobzio/capitan"
)

// suppressedMessage is a transient backend startup message that never
// reaches the active set.
const suppressedMessage = "didn't export a main() function"

// ErrorRecord is one displayable error condition. ID is both the dedup key
// and the display key.
type ErrorRecord struct {
	ID      string
	Message string
	Kind    ErrorKind
}

// ErrorSet is an immutable snapshot of an ErrorAggregator.
type ErrorSet struct {
	// Active records are currently shown.
	Active map[string]ErrorRecord

	// Inactive records were active until the last clear and should be
	// dismissed by the UI. A raise empties it: once a new banner is shown
	// the dismissal has already happened.
	Inactive map[string]ErrorRecord
}

// ErrorAggregator is the deduplicated, keyed set of error conditions every
// component reports through.
type ErrorAggregator struct {
	mu        sync.Mutex
	set       ErrorSet
	version   uint64
	history   *eventRing
	observers observers[ErrorSet]
}

// NewErrorAggregator creates an aggregator with no errors.
func NewErrorAggregator() *ErrorAggregator {
	return &ErrorAggregator{
		set: ErrorSet{
			Active:   map[string]ErrorRecord{},
			Inactive: map[string]ErrorRecord{},
		},
	}
}

// HistorySize retains up to n of the most recent raise and clear events for
// History. Must be called before the aggregator is shared.
func (a *ErrorAggregator) HistorySize(n int) *ErrorAggregator {
	a.history = newEventRing(n)
	return a
}

// Observe registers fn to receive every new snapshot.
func (a *ErrorAggregator) Observe(fn func(ErrorSet)) func() {
	return a.observers.add(fn)
}

// Snapshot returns the current active and inactive sets.
func (a *ErrorAggregator) Snapshot() ErrorSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set
}

// Active returns the currently shown records.
func (a *ErrorAggregator) Active() map[string]ErrorRecord {
	return a.Snapshot().Active
}

// Inactive returns the records superseded by the last clear.
func (a *ErrorAggregator) Inactive() map[string]ErrorRecord {
	return a.Snapshot().Inactive
}

// History returns recent events, oldest first. It returns nil unless
// HistorySize was set.
func (a *ErrorAggregator) History() []ErrorEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.all()
}

// Raise adds a record keyed by id. It reports false without changing
// anything when id is already active or the message is suppressed.
func (a *ErrorAggregator) Raise(ctx context.Context, id, message string) bool {
	return a.raise(ctx, ErrorRecord{ID: id, Message: message, Kind: KindTransport})
}

// RaiseError raises err keyed by its message text.
func (a *ErrorAggregator) RaiseError(ctx context.Context, err error) bool {
	le := asError("", KindTransport, err)
	msg := le.Error()
	return a.raise(ctx, ErrorRecord{ID: msg, Message: msg, Kind: le.Kind})
}

func (a *ErrorAggregator) raise(ctx context.Context, rec ErrorRecord) bool {
	if strings.Contains(rec.Message, suppressedMessage) {
		return false
	}

	a.mu.Lock()
	if _, ok := a.set.Active[rec.ID]; ok {
		a.mu.Unlock()
		return false
	}
	active := maps.Clone(a.set.Active)
	active[rec.ID] = rec
	// Inactive only describes the latest clear; once something new is shown
	// there is nothing left to dismiss.
	a.set = ErrorSet{Active: active, Inactive: map[string]ErrorRecord{}}
	a.version++
	a.history.push(OpRaised, rec)
	a.mu.Unlock()

	capitan.Emit(ctx, ErrorRaised,
		KeyErrorID.Field(rec.ID),
		KeyErrorKind.Field(rec.Kind.String()),
		KeyError.Field(rec.Message),
	)
	a.observers.publish(a.latest)
	return true
}

// ClearAll moves the entire active set to inactive and starts a new empty
// active set.
func (a *ErrorAggregator) ClearAll(ctx context.Context) {
	a.mu.Lock()
	if len(a.set.Active) == 0 && len(a.set.Inactive) == 0 {
		a.mu.Unlock()
		return
	}
	cleared := len(a.set.Active)
	for _, id := range slices.Sorted(maps.Keys(a.set.Active)) {
		a.history.push(OpCleared, a.set.Active[id])
	}
	a.set = ErrorSet{Active: map[string]ErrorRecord{}, Inactive: a.set.Active}
	a.version++
	a.mu.Unlock()

	capitan.Emit(ctx, ErrorsCleared,
		KeyCount.Field(cleared),
	)
	a.observers.publish(a.latest)
}

func (a *ErrorAggregator) latest() (uint64, ErrorSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version, a.set
}
