package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFairnessDelay is how long a user must have been idle before their
// items jump the queue again. It covers the gap between a task finishing and
// its successor being resubmitted, where the running count briefly reads zero.
const DefaultFairnessDelay = 5 * time.Second

// Fairness holds per-user running counts and last-finish times.
// Entries are never removed; the set of users is small and bounded.
type Fairness struct {
	users sync.Map // string -> *userState
}

type userState struct {
	running    atomic.Int64
	lastFinish atomic.Int64 // unix nanos, 0 when nothing has finished yet
}

// NewFairness returns empty fairness state.
func NewFairness() *Fairness { return &Fairness{} }

func (f *Fairness) state(user string) *userState {
	if s, ok := f.users.Load(user); ok {
		return s.(*userState)
	}
	s, _ := f.users.LoadOrStore(user, &userState{})
	return s.(*userState)
}

// Start records that a task of user began running.
func (f *Fairness) Start(user string) {
	f.state(user).running.Add(1)
}

// Finish records that a task of user stopped running at now.
func (f *Fairness) Finish(user string, now time.Time) {
	s := f.state(user)
	s.running.Add(-1)
	s.lastFinish.Store(now.UnixNano())
}

// Running returns the number of tasks of user currently running.
func (f *Fairness) Running(user string) int64 {
	s, ok := f.users.Load(user)
	if !ok {
		return 0
	}
	return s.(*userState).running.Load()
}

// LastFinish returns when the last task of user finished, or the zero time.
func (f *Fairness) LastFinish(user string) time.Time {
	s, ok := f.users.Load(user)
	if !ok {
		return time.Time{}
	}
	ns := s.(*userState).lastFinish.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Eligible reports whether user has nothing running and has been idle for longer than delay.
func (f *Fairness) Eligible(user string, now time.Time, delay time.Duration) bool {
	s, ok := f.users.Load(user)
	if !ok {
		return true
	}
	us := s.(*userState)
	if us.running.Load() != 0 {
		return false
	}
	last := us.lastFinish.Load()
	return last == 0 || last+int64(delay) < now.UnixNano()
}
