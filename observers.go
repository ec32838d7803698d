package loupe

import "sync"

// observers is a registry of snapshot callbacks shared by the stores.
type observers[T any] struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(T)
	// order keeps registration order so notifications are deterministic.
	order []int

	pub        sync.Mutex
	delivering bool
	delivered  uint64
}

func (o *observers[T]) add(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = make(map[int]func(T))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	o.order = append(o.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *observers[T]) remove(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.fns, id)
	for i, v := range o.order {
		if v == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// publish delivers the newest snapshot reported by latest. Only one
// goroutine delivers at a time; a publish arriving meanwhile, including one
// made from inside an observer, returns at once and its snapshot is picked
// up by the delivering goroutine on its next pass. Observers may skip
// intermediate snapshots but never receive one older than a snapshot they
// have already seen.
func (o *observers[T]) publish(latest func() (uint64, T)) {
	o.pub.Lock()
	if o.delivering {
		o.pub.Unlock()
		return
	}
	o.delivering = true
	for {
		version, v := latest()
		if version <= o.delivered {
			break
		}
		o.delivered = version
		o.pub.Unlock()
		o.notify(v)
		o.pub.Lock()
	}
	o.delivering = false
	o.pub.Unlock()
}

func (o *observers[T]) notify(v T) {
	o.mu.RLock()
	fns := make([]func(T), 0, len(o.order))
	for _, id := range o.order {
		fns = append(fns, o.fns[id])
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}
