package bulkexport

import (
	"context"

	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/bulkexport/batch"
	"github.com/ygrebnov/bulkexport/search"
)

// partitionTask queries one partition of an export per run and then
// resubmits a successor for the next one. One export therefore occupies at
// most one pool goroutine, and its processors are never used concurrently.
type partitionTask struct {
	eng       *Engine
	job       *Job
	plain     *batch.Processor
	sensitive *batch.Processor
}

func (t *partitionTask) User() string { return t.job.user }

func (t *partitionTask) Run(ctx context.Context) {
	jctx, cancel := t.job.context(ctx)
	defer cancel()

	q, ok := t.job.partitions.pop()
	if !ok || t.job.stopped() {
		t.done(jctx)
		return
	}

	if t.eng.throttle != nil {
		if err := t.eng.throttle.Wait(jctx); err != nil {
			if !t.job.flag.IsSet() {
				t.job.fail(errorc.With(ErrCancelled, errorc.String("cause", err.Error())))
			}
			t.done(jctx)
			return
		}
	}

	if err := t.stream(jctx, q); err != nil {
		t.job.fail(err)
		t.done(jctx)
		return
	}

	if t.job.partitions.len() == 0 || t.job.stopped() {
		t.done(jctx)
		return
	}
	if err := t.eng.pool.Submit(t.next()); err != nil {
		t.job.fail(errorc.With(ErrEngineClosed, errorc.String("job", t.job.id)))
		t.done(jctx)
	}
}

func (t *partitionTask) stream(ctx context.Context, q search.Query) error {
	proc := t.plain
	if q.Sensitive {
		proc = t.sensitive
	}
	t.eng.log.Debug().Str("job", t.job.id).Str("user", t.job.user).Stringer("partition", q).Msg("querying partition")

	err := t.eng.cfg.Backend.Stream(ctx, q, func(row search.Row) bool {
		if t.job.flag.IsSet() {
			return true
		}
		return proc.Process(ctx, row)
	})
	if err != nil && !t.job.flag.IsSet() {
		return errorc.With(ErrSearch, errorc.String("partition", q.String()), errorc.String("cause", err.Error()))
	}
	return nil
}

// next returns the task for the following partition, sharing all export state.
func (t *partitionTask) next() *partitionTask {
	return &partitionTask{eng: t.eng, job: t.job, plain: t.plain, sensitive: t.sensitive}
}

// done ends the producer side of the export. It runs once per export.
func (t *partitionTask) done(ctx context.Context) {
	t.job.producerOnce.Do(func() {
		t.plain.Flush(ctx)
		t.sensitive.Flush(ctx)
		t.job.writer.Finalise(ctx)
		t.job.writer.Shutdown()
		close(t.job.producerDone)
	})
}
