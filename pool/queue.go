package pool

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded blocking queue of tasks with fairness-aware dequeue.
//
// Selection is a linear scan of the queued tasks on every dequeue, so its cost
// grows with queue depth. Replacing it with an indexed structure would change
// which task is picked, so it stays a scan.
type Queue struct {
	fairness *Fairness
	delay    time.Duration
	now      func() time.Time

	mu     sync.Mutex
	items  []queued
	closed bool

	// ready holds at most one wakeup; a taker that finds more work re-arms it.
	ready chan struct{}
	done  chan struct{}
}

type queued struct {
	task Task
	at   time.Time
}

// NewQueue returns an empty queue that reads fairness from f.
// The queue never writes to f; that is the pool's job.
func NewQueue(f *Fairness, delay time.Duration, now func() time.Time) *Queue {
	if f == nil {
		f = NewFairness()
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{
		fairness: f,
		delay:    delay,
		now:      now,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Put appends t. It never blocks. It fails with ErrPoolClosed after Close.
func (q *Queue) Put(t Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrPoolClosed
	}
	q.items = append(q.items, queued{task: t, at: q.now()})
	q.mu.Unlock()
	q.signal()
	return nil
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue from accepting tasks. Tasks already queued can still be taken;
// once the queue is empty, blocked takers return ErrPoolClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Take blocks until a task is available, the queue is closed and drained, or ctx is done.
func (q *Queue) Take(ctx context.Context) (Task, error) {
	it, err := q.take(ctx.Done(), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return it.task, nil
}

// Poll waits up to timeout for a task.
func (q *Queue) Poll(timeout time.Duration) (Task, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	it, err := q.take(nil, timer.C)
	if err != nil {
		return nil, false
	}
	return it.task, true
}

// TryPoll returns a task if one is queued, without blocking.
func (q *Queue) TryPoll() (Task, bool) {
	q.mu.Lock()
	it, ok := q.pickLocked()
	more := len(q.items) > 0
	q.mu.Unlock()
	if more {
		q.signal()
	}
	if !ok {
		return nil, false
	}
	return it.task, true
}

func (q *Queue) take(cancel <-chan struct{}, timeout <-chan time.Time) (queued, error) {
	for {
		q.mu.Lock()
		it, ok := q.pickLocked()
		more := len(q.items) > 0
		closed := q.closed
		q.mu.Unlock()
		if ok {
			if more {
				q.signal()
			}
			return it, nil
		}
		if closed {
			return queued{}, ErrPoolClosed
		}
		select {
		case <-q.ready:
		case <-q.done:
		case <-cancel:
			return queued{}, context.Canceled
		case <-timeout:
			return queued{}, errPollTimeout
		}
	}
}

// pickLocked removes and returns the fairness-preferred task. q.mu must be held.
func (q *Queue) pickLocked() (queued, bool) {
	if len(q.items) == 0 {
		return queued{}, false
	}
	idx := 0
	now := q.now()
	for i, it := range q.items {
		if q.fairness.Eligible(it.task.User(), now, q.delay) {
			idx = i
			break
		}
	}
	it := q.items[idx]
	copy(q.items[idx:], q.items[idx+1:])
	q.items[len(q.items)-1] = queued{}
	q.items = q.items[:len(q.items)-1]
	return it, true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
