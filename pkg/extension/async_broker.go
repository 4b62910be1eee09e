package extension

import (
	"context"
	"errors"
	"sync"
	"time"
)

// AsyncEventBroker maintains a list of listeners interested in a specific type of event.  Events
// are sent in parallel to all listeners, and no result is returned.
type AsyncEventBroker[E any] struct {
	mu        sync.RWMutex
	listeners listeners[func(E)]
	running   sync.WaitGroup
}

// Emit sends the provided event to each registered listener in parallel.
func (eb *AsyncEventBroker[E]) Emit(event *E) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, l := range eb.listeners.funcs {
		l := l
		eb.running.Add(1)
		// Events are copied to minimize the risk of mutation.
		go func(e E) {
			defer eb.running.Done()
			l(e)
		}(*event)
	}
}

// Wait blocks until every listener started by Emit has returned, or ctx is done.
func (eb *AsyncEventBroker[E]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		eb.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddListener registers the named listener, replacing one with a duplicate name if present.
func (eb *AsyncEventBroker[E]) AddListener(name string, listener func(E)) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners.put(name, listener)
}

// RemoveListener unregisters the named listener.
func (eb *AsyncEventBroker[E]) RemoveListener(name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners.remove(name)
}

// Listeners returns the registered listener names.
func (eb *AsyncEventBroker[E]) Listeners() []string {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.listeners.list()
}

// AsyncTestListener returns a func that will wait for an event and return it, or timeout
// with an error.
func (eb *AsyncEventBroker[E]) AsyncTestListener(name string, capacity int) func() (*E, error) {
	events := make(chan E, capacity)
	eb.AddListener(name, func(msg E) { events <- msg })

	count := 0
	return func() (*E, error) {
		count++
		defer func() {
			if count >= capacity {
				eb.RemoveListener(name)
			}
		}()

		select {
		case event := <-events:
			return &event, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("timeout waiting for event")
		}
	}
}
