package bulkexport

import (
	"context"
	"sync"
)

// lifecycleCoordinator encapsulates the shutdown sequence of an Engine.
// It doesn't own the pool or the jobs; it orders stopping admission,
// cancelling exports, waiting for them and releasing the pool.
//
// Close() is safe for concurrent calls; the sequence executes exactly once.
type lifecycleCoordinator struct {
	stopAdmission func()
	cancelJobs    func()
	jobs          *sync.WaitGroup
	closePool     func()
	cancel        func()

	once sync.Once
	err  error
}

func newLifecycleCoordinator(
	stopAdmission func(),
	cancelJobs func(),
	jobs *sync.WaitGroup,
	closePool func(),
	cancel func(),
) *lifecycleCoordinator {
	return &lifecycleCoordinator{
		stopAdmission: stopAdmission,
		cancelJobs:    cancelJobs,
		jobs:          jobs,
		closePool:     closePool,
		cancel:        cancel,
	}
}

// Close executes the shutdown sequence exactly once:
// 1) stop admitting new exports
// 2) cancel active exports
// 3) wait for every export to finish, or for ctx
// 4) close the pool
// 5) cancel the engine context
//
// When ctx ends first, Close returns ctx.Err() and steps 4 and 5 run in the
// background once the exports are done.
func (lc *lifecycleCoordinator) Close(ctx context.Context) error {
	lc.once.Do(func() {
		if lc.stopAdmission != nil {
			lc.stopAdmission()
		}
		if lc.cancelJobs != nil {
			lc.cancelJobs()
		}

		released := make(chan struct{})
		go func() {
			if lc.jobs != nil {
				lc.jobs.Wait()
			}
			if lc.closePool != nil {
				lc.closePool()
			}
			if lc.cancel != nil {
				lc.cancel()
			}
			close(released)
		}()

		select {
		case <-released:
		case <-ctx.Done():
			lc.err = ctx.Err()
		}
	})
	return lc.err
}
