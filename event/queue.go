// Package event provides completion queues for asynchronous crypto operations.
package event

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/packet"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev", "event")

var (
	// ErrQueueFull is returned when the queue has no space for an event
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueClosed is returned on enqueue to a closed queue
	ErrQueueClosed = errors.New("queue is closed")
)

// DefaultQueueSize is the default capacity of a queue
const DefaultQueueSize = 1024

// Completion is posted when an asynchronous crypto operation completes
type Completion struct {
	// Packet is the output packet of the operation
	Packet *packet.Packet
	// Result is the operation result
	Result any
}

// Free releases the packet of the completion
func (c *Completion) Free() {
	if c.Packet != nil {
		c.Packet.Free()
		c.Packet = nil
	}
}

// Queue is a bounded queue of completion events
type Queue struct {
	name string
	ch   chan *Completion

	lock   sync.RWMutex
	closed bool
}

// NewQueue returns a queue with capacity of size events
func NewQueue(name string, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		name: name,
		ch:   make(chan *Completion, size),
	}
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Enqueue adds the event to the queue without blocking
func (q *Queue) Enqueue(ev *Completion) error {
	q.lock.RLock()
	defer q.lock.RUnlock()

	if q.closed {
		return errors.Wrapf(ErrQueueClosed, "queue=%s", q.name)
	}
	select {
	case q.ch <- ev:
		return nil
	default:
		logger.KV(xlog.DEBUG, "reason", "full", "queue", q.name, "size", cap(q.ch))
		return errors.Wrapf(ErrQueueFull, "queue=%s", q.name)
	}
}

// Dequeue returns the next event, or false if the queue is empty
func (q *Queue) Dequeue() (*Completion, bool) {
	select {
	case ev, ok := <-q.ch:
		return ev, ok
	default:
		return nil, false
	}
}

// DequeueMulti fills evs with available events, and returns their number
func (q *Queue) DequeueMulti(evs []*Completion) int {
	n := 0
	for n < len(evs) {
		ev, ok := q.Dequeue()
		if !ok {
			break
		}
		evs[n] = ev
		n++
	}
	return n
}

// Wait blocks until an event is available, the queue is closed and drained,
// or ctx is done
func (q *Queue) Wait(ctx context.Context) (*Completion, error) {
	select {
	case ev, ok := <-q.ch:
		if !ok {
			return nil, errors.Wrapf(ErrQueueClosed, "queue=%s", q.name)
		}
		return ev, nil
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// Close rejects further events, queued events can still be dequeued
func (q *Queue) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
