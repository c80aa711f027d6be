// Package source defines the reactive source contract consumed by the live
// engine: a push-based producer of values over time with explicit close and
// removal signaling. Application code supplies sources; the engine only
// subscribes to them and closes them on teardown.
package source

import "sync"

// Emission is one delivery from a Source: either a value update or the
// removal sentinel. The sentinel is a tagged variant, not a magic value, so
// handlers must treat both cases explicitly.
type Emission struct {
	removed bool
	value   any
}

// Of wraps a value as an emission. A nil value is a valid "nothing changed"
// signal and is ignored by subscribers in the engine.
func Of(v any) Emission {
	return Emission{value: v}
}

// Removed returns the removal sentinel, meaning the subscribing component's
// UI should be deleted and its resources released.
func Removed() Emission {
	return Emission{removed: true}
}

// IsRemoved reports whether the emission is the removal sentinel.
func (e Emission) IsRemoved() bool {
	return e.removed
}

// Value returns the emitted value. It is nil for the removal sentinel.
func (e Emission) Value() any {
	return e.value
}

// Source is a push-based value producer.
//
// Subscribe registers a handler for future emissions and returns a cancel
// function that unregisters it. Close releases the source; both Close and
// cancel functions must be idempotent and safe to call concurrently with
// emissions.
type Source interface {
	Subscribe(fn func(Emission)) (cancel func())
	Close() error
}

// Var is a settable value source. Set delivers the new value to every
// subscriber; Remove delivers the removal sentinel. Handlers are invoked
// outside the internal lock, so a handler may call back into the Var.
type Var struct {
	mu     sync.Mutex
	subs   map[uint64]func(Emission)
	nextID uint64
	closed bool
}

// NewVar creates an empty Var.
func NewVar() *Var {
	return &Var{subs: make(map[uint64]func(Emission))}
}

// Set emits a value update to all current subscribers.
func (v *Var) Set(value any) {
	v.emit(Of(value))
}

// Remove emits the removal sentinel to all current subscribers.
func (v *Var) Remove() {
	v.emit(Removed())
}

func (v *Var) emit(e Emission) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	handlers := make([]func(Emission), 0, len(v.subs))
	for _, fn := range v.subs {
		handlers = append(handlers, fn)
	}
	v.mu.Unlock()

	for _, fn := range handlers {
		fn(e)
	}
}

// Subscribe registers a handler for future emissions.
func (v *Var) Subscribe(fn func(Emission)) (cancel func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return func() {}
	}

	id := v.nextID
	v.nextID++
	v.subs[id] = fn

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}

// Close releases the source and drops all subscribers. Idempotent.
func (v *Var) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.subs = nil
	return nil
}

// Closed reports whether the Var has been closed.
func (v *Var) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// SubscriberCount returns the number of active subscriptions.
func (v *Var) SubscriberCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}
