package extension

import (
	"sync"
)

// EventBroker maintains a list of listeners interested in a specific type of event.  Listeners
// are called synchronously, in order, until one returns a non-nil result.
type EventBroker[E any, R any] struct {
	mu        sync.RWMutex
	listeners listeners[func(E) *R]
}

// Emit sends the provided event to each registered listener in order, until one returns a
// non-nil result.  That result will be returned to the caller.
func (eb *EventBroker[E, R]) Emit(event *E) *R {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, l := range eb.listeners.funcs {
		// Events are copied to minimize the risk of mutation.
		if result := l(*event); result != nil {
			return result
		}
	}
	return nil
}

// AddListener registers the named listener, replacing one with a duplicate name if present.
// Listeners should be added in order of priority, most significant first.
func (eb *EventBroker[E, R]) AddListener(name string, listener func(E) *R) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners.put(name, listener)
}

// RemoveListener unregisters the named listener.
func (eb *EventBroker[E, R]) RemoveListener(name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners.remove(name)
}

// Listeners returns the registered listener names in call order.
func (eb *EventBroker[E, R]) Listeners() []string {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.listeners.list()
}
