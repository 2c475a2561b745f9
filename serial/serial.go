// Package serial implements the single-threaded cooperative execution
// context of spec §5: every mutation of central/peripheral/discovery
// state runs as a job on one worker goroutine, processed strictly FIFO.
// Callers on other goroutines only ever enqueue; they never touch shared
// state directly.
//
// The FIFO queue itself is grounded on internal/groutine's named-goroutine
// convention for the worker, and on internal/lua/lua_output_collector.go's
// use of github.com/hedzr/go-ringbuf/v2/mpmc as the underlying buffer.
// mpmc's attested constructor (NewOverlappedRingBuffer) is lossy under
// pressure — acceptable for best-effort log collection, not for a job
// queue where losing a job would silently corrupt state. Context gates
// every Enqueue behind a counting semaphore sized to the ring's capacity,
// so the ring itself never actually overflows.
package serial

import (
	"context"
	"fmt"
	"runtime/pprof"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Job is a unit of work run exclusively by the Context's worker goroutine.
type Job func()

// Context is a single-threaded cooperative execution context: a bounded
// FIFO queue plus one worker goroutine that drains it. Constructed via
// New and stopped via Close.
type Context struct {
	name   string
	queue  mpmc.RichOverlappedRingBuffer[Job]
	sem    chan struct{} // counting semaphore, capacity == queue capacity
	wake   chan struct{}
	done   chan struct{}
	closed chan struct{}
}

// New creates a Context with the given queue capacity and starts its
// worker goroutine under a goroutine name usable in pprof labels, mirroring
// groutine.Go's named-goroutine convention.
func New(name string, capacity uint32) *Context {
	if capacity == 0 {
		capacity = 256
	}
	c := &Context{
		name:   name,
		queue:  mpmc.NewOverlappedRingBuffer[Job](capacity),
		sem:    make(chan struct{}, capacity),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}

	labels := pprof.Labels("goroutine_name", name)
	go pprof.Do(context.Background(), labels, func(ctx context.Context) {
		c.run()
	})

	return c
}

func (c *Context) run() {
	defer close(c.closed)
	for {
		select {
		case <-c.wake:
		case <-c.done:
			c.drain()
			return
		}
		c.drainAvailable()
	}
}

func (c *Context) drainAvailable() {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		if c.queue.IsEmpty() {
			return
		}
		job, err := c.queue.Dequeue()
		if err != nil {
			return
		}
		<-c.sem
		job()
	}
}

func (c *Context) drain() {
	for !c.queue.IsEmpty() {
		job, err := c.queue.Dequeue()
		if err != nil {
			return
		}
		<-c.sem
		job()
	}
}

// Post enqueues job to run on the worker goroutine, in FIFO order relative
// to every other Post call that has already returned. Post blocks only
// long enough to reserve a queue slot; it never runs job itself.
func (c *Context) Post(job Job) {
	select {
	case c.sem <- struct{}{}:
	case <-c.closed:
		return
	}
	if _, err := c.queue.EnqueueM(job); err != nil {
		<-c.sem
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Call enqueues job and blocks the caller until it has run, returning
// whatever job communicates back through the closure. This is the
// standard way to perform a synchronous read of shared state from outside
// the context.
func Call[T any](c *Context, job func() T) T {
	result := make(chan T, 1)
	c.Post(func() {
		result <- job()
	})
	return <-result
}

// Close stops the worker after draining any jobs already posted. It is
// safe to call Close more than once.
func (c *Context) Close() {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	<-c.closed
}

// Name returns the context's goroutine label, for diagnostics.
func (c *Context) Name() string {
	return c.name
}

func (c *Context) String() string {
	return fmt.Sprintf("serial.Context(%s)", c.name)
}
