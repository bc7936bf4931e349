package engine

import "sync"

// FlushResult aggregates one reconciliation pass.
type FlushResult struct {
	Synced int
	Failed int
}

// dispatcher fans sync outcomes out to registered hooks. Callbacks run
// outside the dispatcher lock so a hook may re-enter the engine.
type dispatcher struct {
	mu           sync.Mutex
	nextID       int64
	completed    map[int64]func(FlushResult)
	failures     map[int64]func(error)
	connectivity map[int64]func(online bool)
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		completed:    make(map[int64]func(FlushResult)),
		failures:     make(map[int64]func(error)),
		connectivity: make(map[int64]func(online bool)),
	}
}

func (d *dispatcher) onCompleted(callback func(FlushResult)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.completed[id] = callback
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.completed, id)
	}
}

func (d *dispatcher) onFailure(callback func(error)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.failures[id] = callback
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.failures, id)
	}
}

func (d *dispatcher) onConnectivity(callback func(online bool)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.connectivity[id] = callback
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.connectivity, id)
	}
}

func (d *dispatcher) publishCompleted(result FlushResult) {
	d.mu.Lock()
	callbacks := make([]func(FlushResult), 0, len(d.completed))
	for _, callback := range d.completed {
		callbacks = append(callbacks, callback)
	}
	d.mu.Unlock()
	for _, callback := range callbacks {
		callback(result)
	}
}

func (d *dispatcher) publishFailure(err error) {
	d.mu.Lock()
	callbacks := make([]func(error), 0, len(d.failures))
	for _, callback := range d.failures {
		callbacks = append(callbacks, callback)
	}
	d.mu.Unlock()
	for _, callback := range callbacks {
		callback(err)
	}
}

func (d *dispatcher) publishConnectivity(online bool) {
	d.mu.Lock()
	callbacks := make([]func(online bool), 0, len(d.connectivity))
	for _, callback := range d.connectivity {
		callbacks = append(callbacks, callback)
	}
	d.mu.Unlock()
	for _, callback := range callbacks {
		callback(online)
	}
}
