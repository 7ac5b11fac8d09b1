// Package queue is the hand-off between producers and the single dispatcher.
// Sends never block: a bounded queue refuses records when full.
package queue

import (
	"errors"
	"sync"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

var (
	ErrFull   = errors.New("sending on a full channel")
	ErrClosed = errors.New("sending on a closed channel")
	ErrEmpty  = errors.New("receiving on an empty channel")
)

type Queue struct {
	mu       sync.Mutex
	items    []logging.Log
	capacity int
	closed   bool
	notify   chan struct{}
}

// New creates a queue holding at most capacity records; 0 means unbounded.
func New(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (q *Queue) TrySend(rec logging.Log) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrFull
	}
	q.items = append(q.items, rec)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// TryRecv pops the oldest record. ErrClosed is only returned once the queue
// is closed and drained.
func (q *Queue) TryRecv() (logging.Log, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if q.closed {
			return logging.Log{}, ErrClosed
		}
		return logging.Log{}, ErrEmpty
	}

	rec := q.items[0]
	q.items[0] = logging.Log{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return rec, nil
}

// Notify is signalled after every send and closed by Close. A signal may be
// stale, so receivers must re-check with TryRecv.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Cap() int {
	return q.capacity
}
