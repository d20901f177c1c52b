package device

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"depthview/internal/models"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded FIFO of device messages for one output stream.
// A non-blocking queue drops its oldest message when full; a blocking queue
// makes the producer wait for space.
type Queue struct {
	name string

	mu       sync.Mutex
	items    []models.Message
	maxSize  int
	blocking bool
	closed   bool
	dropped  uint64

	readable chan struct{}
	writable chan struct{}
}

func NewQueue(name string, maxSize int, blocking bool) *Queue {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Queue{
		name:     name,
		maxSize:  maxSize,
		blocking: blocking,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (q *Queue) Name() string { return q.name }

// Configure changes capacity and policy. Shrinking drops the oldest messages.
func (q *Queue) Configure(maxSize int, blocking bool) {
	if maxSize < 1 {
		maxSize = 1
	}
	q.mu.Lock()
	q.maxSize = maxSize
	q.blocking = blocking
	for len(q.items) > q.maxSize {
		q.popLocked()
		q.dropped++
	}
	q.mu.Unlock()
	signal(q.writable)
}

func (q *Queue) popLocked() models.Message {
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return m
}

// Put enqueues m, waiting for space only when the queue is blocking.
func (q *Queue) Put(ctx context.Context, m models.Message) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			signal(q.writable)
			return ErrQueueClosed
		}
		if len(q.items) < q.maxSize {
			q.items = append(q.items, m)
			q.mu.Unlock()
			signal(q.readable)
			return nil
		}
		if !q.blocking {
			q.popLocked()
			q.dropped++
			q.items = append(q.items, m)
			q.mu.Unlock()
			signal(q.readable)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.writable:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Get waits for the next message. After Close the remaining messages are
// still returned, then ErrQueueClosed.
func (q *Queue) Get(ctx context.Context) (models.Message, error) {
	for {
		if m, ok, closed := q.take(); ok {
			return m, nil
		} else if closed {
			signal(q.readable)
			return nil, ErrQueueClosed
		}

		select {
		case <-q.readable:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryGet returns the next message without waiting.
func (q *Queue) TryGet() (models.Message, bool) {
	m, ok, _ := q.take()
	return m, ok
}

func (q *Queue) take() (models.Message, bool, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		closed := q.closed
		q.mu.Unlock()
		return nil, false, closed
	}
	m := q.popLocked()
	more := len(q.items) > 0
	q.mu.Unlock()

	if more {
		signal(q.readable)
	}
	signal(q.writable)
	return m, true, false
}

// Has reports whether a message is ready.
func (q *Queue) Has() bool {
	return q.Len() > 0
}

// Closed reports whether the queue is closed and drained.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped counts messages discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	signal(q.readable)
	signal(q.writable)
}

// Next takes the next message from q and asserts its type.
func Next[T models.Message](ctx context.Context, q *Queue) (T, error) {
	var zero T
	m, err := q.Get(ctx)
	if err != nil {
		return zero, err
	}
	v, ok := m.(T)
	if !ok {
		return zero, errors.Errorf("stream %q carried %T, want %T", q.name, m, zero)
	}
	return v, nil
}
