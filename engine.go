package bulkexport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/ygrebnov/errorc"
	"golang.org/x/time/rate"

	"github.com/ygrebnov/bulkexport/batch"
	"github.com/ygrebnov/bulkexport/handoff"
	"github.com/ygrebnov/bulkexport/metrics"
	"github.com/ygrebnov/bulkexport/pool"
)

// recordTimeout bounds how long a finished export waits for its summary to be recorded.
const recordTimeout = 5 * time.Second

// Engine runs exports on a shared fair pool. Methods are safe for concurrent use.
type Engine struct {
	cfg      config
	pool     *pool.FairPool
	throttle *rate.Limiter
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	jobs   map[string]*Job
	active sync.WaitGroup

	lc *lifecycleCoordinator

	submitted metrics.Counter
	completed metrics.Counter
	aborted   metrics.Counter
	running   metrics.UpDownCounter
}

// New creates an Engine using functional options. WithBackend is required.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "engine").Logger(),
		jobs:      make(map[string]*Job),
		submitted: cfg.Metrics.Counter(metrics.JobsSubmitted),
		completed: cfg.Metrics.Counter(metrics.JobsCompleted),
		aborted:   cfg.Metrics.Counter(metrics.JobsAborted),
		running:   cfg.Metrics.UpDownCounter(metrics.JobsActive),
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	p, err := pool.NewFairPool(e.ctx, cfg.PoolSize,
		pool.WithFairnessDelay(cfg.FairnessDelay),
		pool.WithClock(cfg.Clock),
		pool.WithMetrics(cfg.Metrics),
		pool.WithLogger(cfg.Logger),
	)
	if err != nil {
		e.cancel()
		return nil, errorc.With(ErrInvalidConfig, errorc.String("cause", err.Error()))
	}
	e.pool = p

	if cfg.Throttle != rate.Inf {
		e.throttle = rate.NewLimiter(cfg.Throttle, cfg.ThrottleBurst)
	}

	e.lc = newLifecycleCoordinator(
		func() {
			e.mu.Lock()
			e.closed = true
			e.mu.Unlock()
		},
		func() {
			for _, j := range e.Jobs() {
				j.fail(ErrEngineClosed)
			}
		},
		&e.active,
		e.pool.Close,
		e.cancel,
	)
	return e, nil
}

// Submit starts an export. It never blocks on the pool; the export runs in the background.
func (e *Engine) Submit(ctx context.Context, req Request) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, errorc.With(err, errorc.String("", "a sink is required"))
	}

	j := e.newJob(req)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	e.jobs[j.id] = j
	e.active.Add(1)
	e.mu.Unlock()

	e.submitted.Add(1)
	e.running.Add(1)
	e.log.Info().Str("job", j.id).Str("user", j.user).Int64("ceiling", req.Ceiling).
		Int("partitions", len(req.Partitions)).Msg("export submitted")

	go e.consume(j)

	first := e.newPartitionTask(j, req)
	if err := e.pool.Submit(first); err != nil {
		j.fail(errorc.With(ErrEngineClosed, errorc.String("job", j.id)))
		first.done(e.ctx)
	}
	return j, nil
}

// Job returns the active export with id.
func (e *Engine) Job(id string) (*Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	return j, ok
}

// Jobs returns the active exports.
func (e *Engine) Jobs() []*Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j)
	}
	return out
}

// Close cancels active exports, waits for them and releases the pool.
// It is idempotent and returns ctx.Err() if ctx ends before the exports do.
func (e *Engine) Close(ctx context.Context) error {
	return e.lc.Close(ctx)
}

func (e *Engine) newJob(req Request) *Job {
	j := &Job{
		id:           uuid.NewString(),
		user:         req.identity(),
		shared:       batch.NewShared(req.Ceiling),
		flag:         handoff.NewFlag(),
		partitions:   newPartitionQueue(req.Partitions),
		started:      e.cfg.Clock(),
		producerDone: make(chan struct{}),
		done:         make(chan struct{}),
	}
	j.status.Store(StatusRunning)

	log := e.cfg.Logger.With().Str("job", j.id).Str("user", j.user).Logger()
	hopts := []handoff.Option{
		handoff.WithOfferTimeout(e.cfg.OfferTimeout),
		handoff.WithCheckInterval(e.cfg.CheckInterval),
		handoff.WithLogger(log),
		handoff.WithMetrics(e.cfg.Metrics),
	}
	q := handoff.NewQueue(e.cfg.QueueCapacity)
	j.writer = handoff.NewWriter(q, j.flag, append(hopts, handoff.WithInterruptHandler(j.fail))...)
	j.consumer = handoff.NewConsumer(q, j.flag, req.Sink, hopts...)
	return j
}

func (e *Engine) newPartitionTask(j *Job, req Request) *partitionTask {
	log := e.cfg.Logger.With().Str("job", j.id).Str("user", j.user).Logger()
	common := []batch.Option{
		batch.WithBatchSize(e.cfg.BatchSize),
		batch.WithMultivalues(req.IncludeMultivalues),
		batch.WithExtraColumns(req.IncludeExtra),
		batch.WithEnricher(e.cfg.Enricher),
		batch.WithLists(e.cfg.Lists),
		batch.WithLogger(log),
		batch.WithMetrics(e.cfg.Metrics),
	}
	return &partitionTask{
		eng:       e,
		job:       j,
		plain:     batch.New(j.shared, j.writer, req.Headers, common...),
		sensitive: batch.New(j.shared, j.writer, req.Headers, append(common, batch.WithSensitive(true))...),
	}
}

// consume runs the export's writer side, then waits for the producer side and finishes the export.
func (e *Engine) consume(j *Job) {
	defer e.active.Done()

	if err := j.consumer.Run(e.ctx); err != nil {
		j.fail(err)
	}
	<-j.producerDone

	st := j.finish(e.cfg.Clock())
	e.running.Add(-1)
	ev := e.log.Info()
	if st == StatusCompleted {
		e.completed.Add(1)
	} else {
		e.aborted.Add(1)
		ev = e.log.Warn()
		if err := j.Err(); err != nil {
			ev = ev.Str("error", err.Error())
		}
	}
	ev.Str("job", j.id).Str("user", j.user).Str("status", string(st)).
		Int64("rows", j.Written()).Msg("export finished")

	if e.cfg.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := e.cfg.Recorder.Record(ctx, j.Summary()); err != nil {
			e.log.Error().Err(err).Str("job", j.id).Msg("recording export summary failed")
		}
		cancel()
	}

	e.mu.Lock()
	delete(e.jobs, j.id)
	e.mu.Unlock()
	close(j.done)
}
