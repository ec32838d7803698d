package loupe

// ErrorOp says what happened to a record in an aggregator's history.
type ErrorOp int

const (
	// OpRaised marks a record added to the active set.
	OpRaised ErrorOp = iota
	// OpCleared marks a record moved to the inactive set by ClearAll.
	OpCleared
)

func (o ErrorOp) String() string {
	switch o {
	case OpRaised:
		return "raised"
	case OpCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// ErrorEvent is one entry of an aggregator's history.
type ErrorEvent struct {
	Op     ErrorOp
	Record ErrorRecord
}

// eventRing keeps the most recent aggregator events. It has no lock of its
// own: the aggregator pushes while holding its mutex, so the history order
// matches the order of state changes.
type eventRing struct {
	events []ErrorEvent
	head   int
	count  int
}

// newEventRing creates a ring with the given capacity.
// If size is 0, the ring is disabled.
func newEventRing(size int) *eventRing {
	if size <= 0 {
		return nil
	}
	return &eventRing{events: make([]ErrorEvent, size)}
}

func (r *eventRing) push(op ErrorOp, rec ErrorRecord) {
	if r == nil {
		return
	}
	r.events[r.head] = ErrorEvent{Op: op, Record: rec}
	r.head = (r.head + 1) % len(r.events)
	if r.count < len(r.events) {
		r.count++
	}
}

// all returns the retained events, oldest first.
func (r *eventRing) all() []ErrorEvent {
	if r == nil || r.count == 0 {
		return nil
	}
	size := len(r.events)
	out := make([]ErrorEvent, r.count)
	start := (r.head - r.count + size) % size
	for i := range out {
		out[i] = r.events[(start+i)%size]
	}
	return out
}
