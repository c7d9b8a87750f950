package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func named(user, name string) Task {
	return namedTask{user: user, name: name}
}

type namedTask struct{ user, name string }

func (t namedTask) User() string          { return t.user }
func (t namedTask) Run(_ context.Context) {}

// runSequentially emulates a pool of size one: take, start, finish, repeat.
func runSequentially(t *testing.T, q *Queue, f *Fairness, clock *fakeClock) []string {
	t.Helper()
	var order []string
	for {
		task, ok := q.TryPoll()
		if !ok {
			return order
		}
		f.Start(task.User())
		order = append(order, task.(namedTask).name)
		clock.Advance(time.Millisecond)
		f.Finish(task.User(), clock.Now())
	}
}

func TestQueue_Selection(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *Fairness, clock *fakeClock)
		want  []string
	}{
		{
			name:  "idle user jumps ahead of a user who just finished",
			setup: func(*Fairness, *fakeClock) {},
			want:  []string{"A1", "B1", "A2", "A3"},
		},
		{
			name: "user who finished within the delay is not preferred, strict FIFO",
			setup: func(f *Fairness, clock *fakeClock) {
				f.Start("B")
				f.Finish("B", clock.Now())
			},
			want: []string{"A1", "A2", "A3", "B1"},
		},
		{
			name: "user who finished long ago is eligible again",
			setup: func(f *Fairness, clock *fakeClock) {
				f.Start("B")
				f.Finish("B", clock.Now())
				clock.Advance(DefaultFairnessDelay + time.Second)
			},
			want: []string{"A1", "B1", "A2", "A3"},
		},
		{
			name: "user with a running task is never preferred",
			setup: func(f *Fairness, _ *fakeClock) {
				f.Start("B")
			},
			want: []string{"A1", "A2", "A3", "B1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			f := NewFairness()
			q := NewQueue(f, DefaultFairnessDelay, clock.Now)
			tt.setup(f, clock)

			for _, n := range []string{"A1", "A2", "A3"} {
				require.NoError(t, q.Put(named("A", n)))
			}
			clock.Advance(10 * time.Millisecond)
			require.NoError(t, q.Put(named("B", "B1")))

			assert.Equal(t, tt.want, runSequentially(t, q, f, clock))
		})
	}
}

func TestQueue_TieBreakIsArrivalOrder(t *testing.T) {
	clock := newFakeClock()
	f := NewFairness()
	q := NewQueue(f, DefaultFairnessDelay, clock.Now)

	f.Start("A") // A busy, so B and C are both eligible
	require.NoError(t, q.Put(named("A", "A1")))
	require.NoError(t, q.Put(named("C", "C1")))
	require.NoError(t, q.Put(named("B", "B1")))

	got, ok := q.TryPoll()
	require.True(t, ok)
	assert.Equal(t, "C1", got.(namedTask).name)
}

func TestQueue_TakeBlocksUntilPut(t *testing.T) {
	q := NewQueue(nil, 0, nil)

	got := make(chan Task, 1)
	go func() {
		task, err := q.Take(context.Background())
		if err == nil {
			got <- task
		}
	}()

	select {
	case <-got:
		t.Fatalf("Take returned before any Put")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Put(named("A", "A1")))
	select {
	case task := <-got:
		assert.Equal(t, "A1", task.(namedTask).name)
	case <-time.After(time.Second):
		t.Fatalf("Take did not return after Put")
	}
}

func TestQueue_TakeHonoursContext(t *testing.T) {
	q := NewQueue(nil, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Take(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Poll(t *testing.T) {
	q := NewQueue(nil, 0, nil)

	start := time.Now()
	_, ok := q.Poll(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	require.NoError(t, q.Put(named("A", "A1")))
	task, ok := q.Poll(time.Second)
	require.True(t, ok)
	assert.Equal(t, "A1", task.(namedTask).name)

	_, ok = q.TryPoll()
	assert.False(t, ok)
}

func TestQueue_CloseDrainsThenFails(t *testing.T) {
	q := NewQueue(nil, 0, nil)
	require.NoError(t, q.Put(named("A", "A1")))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Put(named("A", "A2")), ErrPoolClosed)

	task, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A1", task.(namedTask).name)

	_, err = q.Take(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestQueue_ManyTakersEachGetOne(t *testing.T) {
	q := NewQueue(nil, 0, nil)
	const n = 50

	var wg sync.WaitGroup
	seen := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := q.Take(context.Background())
			if err == nil {
				seen <- task.(namedTask).name
			}
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, q.Put(named("A", fmt.Sprintf("A%d", i))))
	}
	wg.Wait()
	close(seen)

	uniq := map[string]struct{}{}
	for s := range seen {
		uniq[s] = struct{}{}
	}
	assert.Len(t, uniq, n)
	assert.Equal(t, 0, q.Len())
}
