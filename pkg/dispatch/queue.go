// Package dispatch runs breakpoint callbacks off the debug event thread.
//
// The event loop must resume the target quickly, so callbacks that read
// target memory are queued here and executed by a single worker in the
// order they were enqueued.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/sirupsen/logrus"
)

type task[E any] struct {
	ev E
	cb func(E)
}

// Queue is an unbounded FIFO of (event, callback) pairs drained by one
// worker goroutine. Enqueue never blocks on the worker.
type Queue[E any] struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	pending []task[E]
	closed  bool

	done chan struct{}
	log  *logrus.Entry
}

// New starts a queue and its worker. name labels its metrics and logs.
func New[E any](name string) *Queue[E] {
	q := &Queue[E]{
		name: name,
		done: make(chan struct{}),
		log:  logflags.DispatchLogger().WithField("queue", name),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Enqueue schedules cb(ev). It returns false once the queue is closed.
func (q *Queue[E]) Enqueue(ev E, cb func(E)) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, task[E]{ev: ev, cb: cb})
	depth := len(q.pending)
	q.mu.Unlock()

	queueDepth.WithLabelValues(q.name).Set(float64(depth))
	q.cond.Signal()
	return true
}

// Len returns the number of callbacks not yet started.
func (q *Queue[E]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Sync waits until every callback enqueued before the call has run.
func (q *Queue[E]) Sync(ctx context.Context) error {
	reached := make(chan struct{})
	var zero E
	if !q.Enqueue(zero, func(E) { close(reached) }) {
		return fmt.Errorf("queue %s closed", q.name)
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting callbacks, lets the worker finish the ones already
// queued and waits for it to exit.
func (q *Queue[E]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	<-q.done
}

func (q *Queue[E]) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		t := q.pending[0]
		q.pending[0] = task[E]{}
		q.pending = q.pending[1:]
		depth := len(q.pending)
		q.mu.Unlock()

		queueDepth.WithLabelValues(q.name).Set(float64(depth))
		q.invoke(t)
	}
}

// invoke runs one callback. A panicking callback is logged and the worker
// moves on to the next one.
func (q *Queue[E]) invoke(t task[E]) {
	defer func() {
		if r := recover(); r != nil {
			callbacks.WithLabelValues(q.name, "panic").Inc()
			q.log.Errorf("callback panic: %v\n%s", r, debug.Stack())
		}
	}()
	t.cb(t.ev)
	callbacks.WithLabelValues(q.name, "ok").Inc()
}
