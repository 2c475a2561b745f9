// Package observe implements the ordered onChange registry and async
// notification streams of spec §4.5: handlers for a given property fire
// in registration order, a registration handle deregisters on demand,
// and notification subscriptions can be
// consumed as an async stream with a termination hook.
//
// Ordered registration is grounded on internal/lua/lua_api_suite.go's use
// of github.com/wk8/go-ordered-map/v2 to preserve insertion order;
// recv/dispatch loop shape is grounded on internal/device/subscription.go's
// runSubscription.
package observe

import (
	"sync"
	"sync/atomic"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Handle is returned by Registry.Register. Deregister removes the handler;
// calling it more than once is a no-op.
type Handle struct {
	id    uint64
	dereg func(uint64)
	once  sync.Once
}

// Deregister removes the associated handler. The removal runs directly on
// the calling goroutine; it is not posted to a serial execution context,
// so the Registry's concurrency rule applies to it. Handle only guarantees
// at-most-once delivery of the request.
func (h *Handle) Deregister() {
	h.once.Do(func() {
		if h.dereg != nil {
			h.dereg(h.id)
		}
	})
}

// Registry is an ordered collection of change handlers for a single
// observable property. Not safe for concurrent use by itself — callers
// that mutate a Registry from multiple goroutines must do so through a
// serial execution context, matching the rest of the runtime's
// concurrency model (spec §5).
type Registry[T any] struct {
	handlers *orderedmap.OrderedMap[uint64, func(T)]
	nextID   uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{handlers: orderedmap.New[uint64, func(T)]()}
}

// Register adds fn, returning a Handle that removes it again. Handlers
// fire in the order Register was called.
func (r *Registry[T]) Register(fn func(T)) *Handle {
	id := atomic.AddUint64(&r.nextID, 1)
	r.handlers.Set(id, fn)
	return &Handle{id: id, dereg: r.remove}
}

func (r *Registry[T]) remove(id uint64) {
	r.handlers.Delete(id)
}

// Fire invokes every registered handler, in registration order, with
// value. Handlers that deregister themselves mid-Fire do not affect the
// handlers still to run in this pass.
func (r *Registry[T]) Fire(value T) {
	snapshot := make([]func(T), 0, r.handlers.Len())
	for pair := r.handlers.Oldest(); pair != nil; pair = pair.Next() {
		snapshot = append(snapshot, pair.Value)
	}
	for _, fn := range snapshot {
		fn(value)
	}
}

// Len reports the number of currently registered handlers.
func (r *Registry[T]) Len() int {
	return r.handlers.Len()
}

// Stream is an async-consumable notification channel with a termination
// hook, for callers that prefer pulling values over registering a
// callback (e.g. the PTY bridge). Grounded on the channel-drain shape of
// internal/device/subscription.go's runSubscription loop.
type Stream[T any] struct {
	values    chan T
	done      chan struct{}
	onClosed  func()
	closeOnce sync.Once
}

// NewStream creates a Stream with the given channel buffer depth. A
// depth of 0 applies backpressure to the producer on every Send.
func NewStream[T any](depth int, onClosed func()) *Stream[T] {
	return &Stream[T]{
		values:   make(chan T, depth),
		done:     make(chan struct{}),
		onClosed: onClosed,
	}
}

// Send delivers v to the stream, or drops it if the stream has been
// closed. Send blocks while the channel is unbuffered or full and the
// stream is still open.
func (s *Stream[T]) Send(v T) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.values <- v:
	case <-s.done:
	}
}

// C returns the channel of delivered values. It is closed when Close is
// called.
func (s *Stream[T]) C() <-chan T {
	return s.values
}

// Close terminates the stream and invokes the termination hook exactly
// once. Safe to call more than once.
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.values)
		if s.onClosed != nil {
			s.onClosed()
		}
	})
}
