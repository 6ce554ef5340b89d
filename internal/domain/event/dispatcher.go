package event

import (
	"sync"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
)

// Listener observes cache status changes of single resources
type Listener interface {
	// OnCacheChange is called synchronously on the goroutine that observed the change
	OnCacheChange(path string, status domain.CacheStatus)
}

// FuncListener adapts a plain function to Listener.
// Always use it through a pointer so it can be removed again.
type FuncListener struct {
	fn func(path string, status domain.CacheStatus)
}

// NewFuncListener creates a new FuncListener
func NewFuncListener(fn func(path string, status domain.CacheStatus)) *FuncListener {
	return &FuncListener{fn: fn}
}

// OnCacheChange calls the wrapped function
func (l *FuncListener) OnCacheChange(path string, status domain.CacheStatus) {
	l.fn(path, status)
}

// Dispatcher fans status changes out to registered listeners
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Dispatch sends a change to all registered listeners.
// Listeners are called after the lock is released so they may query the cache.
func (d *Dispatcher) Dispatch(path string, status domain.CacheStatus) {
	d.mu.RLock()
	listeners := make([]Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, l := range listeners {
		l.OnCacheChange(path, status)
	}
}

// Add registers a listener. Adding the same listener twice is a no-op.
func (d *Dispatcher) Add(l Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.listeners {
		if existing == l {
			return false
		}
	}
	d.listeners = append(d.listeners, l)
	return true
}

// Remove unregisters a listener
func (d *Dispatcher) Remove(l Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, existing := range d.listeners {
		if existing == l {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAll unregisters every listener
func (d *Dispatcher) RemoveAll() {
	d.mu.Lock()
	d.listeners = nil
	d.mu.Unlock()
}

// Len returns the number of registered listeners
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}
