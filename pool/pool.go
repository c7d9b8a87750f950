// Package pool runs work items on a fixed number of goroutines, picking the
// next item so that no single user keeps the pool to themselves.
//
// Every dequeue prefers the oldest item whose user has no running items and
// whose last item finished more than a fairness delay ago. When no queued item
// qualifies, the pool falls back to arrival order. This approximates
// round-robin between users; a lone user with many items still runs them
// back to back.
package pool

import (
	"context"
	"errors"
)

const Namespace = "pool"

var (
	ErrPoolClosed    = errors.New(Namespace + ": pool is closed")
	ErrInvalidConfig = errors.New(Namespace + ": invalid configuration")

	errPollTimeout = errors.New(Namespace + ": poll timed out")
)

// Task is one unit of work owned by a user.
// Run must handle its own failures; the pool only recovers panics.
type Task interface {
	// User returns the identity used for fairness grouping.
	User() string
	Run(ctx context.Context)
}

// TaskFunc adapts a function into a Task owned by user.
func TaskFunc(user string, fn func(ctx context.Context)) Task {
	return funcTask{user: user, fn: fn}
}

type funcTask struct {
	user string
	fn   func(ctx context.Context)
}

func (t funcTask) User() string            { return t.user }
func (t funcTask) Run(ctx context.Context) { t.fn(ctx) }
