package loupe

import "sync"

// Loading tracks in-flight network operations. It reads true while at least
// one render or handler call is outstanding, so overlapping calls do not
// clear each other's flag.
type Loading struct {
	mu        sync.Mutex
	inflight  int
	version   uint64
	observers observers[bool]
}

// NewLoading creates an idle tracker.
func NewLoading() *Loading {
	return &Loading{}
}

// Active reports whether any operation is in flight.
func (l *Loading) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight > 0
}

// Observe registers fn to receive every change of the flag.
func (l *Loading) Observe(fn func(bool)) func() {
	return l.observers.add(fn)
}

// Begin marks an operation as started. The returned function marks it done
// and is safe to call more than once.
func (l *Loading) Begin() func() {
	l.mu.Lock()
	l.inflight++
	changed := l.inflight == 1
	if changed {
		l.version++
	}
	l.mu.Unlock()
	if changed {
		l.observers.publish(l.latest)
	}

	var once sync.Once
	return func() {
		once.Do(l.end)
	}
}

func (l *Loading) end() {
	l.mu.Lock()
	l.inflight--
	changed := l.inflight == 0
	if changed {
		l.version++
	}
	l.mu.Unlock()
	if changed {
		l.observers.publish(l.latest)
	}
}

func (l *Loading) latest() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version, l.inflight > 0
}
