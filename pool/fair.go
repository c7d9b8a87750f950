package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/bulkexport/metrics"
)

// config holds FairPool configuration.
type config struct {
	// FairnessDelay is the idle time after which a user's queued tasks are preferred again.
	// Default: DefaultFairnessDelay.
	FairnessDelay time.Duration

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time

	Metrics metrics.Provider
	Logger  zerolog.Logger
}

func defaultConfig() config {
	return config{
		FairnessDelay: DefaultFairnessDelay,
		Clock:         time.Now,
		Metrics:       metrics.NewNoopProvider(),
		Logger:        zerolog.Nop(),
	}
}

// Option configures a FairPool.
type Option func(*config) error

// WithFairnessDelay overrides DefaultFairnessDelay. Zero makes any idle user eligible at once.
func WithFairnessDelay(d time.Duration) Option {
	return func(cfg *config) error {
		if d < 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("fairness_delay", d.String()))
		}
		cfg.FairnessDelay = d
		return nil
	}
}

// WithClock sets the time source used for fairness decisions.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) error {
		if now == nil {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithClock requires a non-nil clock"))
		}
		cfg.Clock = now
		return nil
	}
}

// WithMetrics sets the metrics provider.
func WithMetrics(p metrics.Provider) Option {
	return func(cfg *config) error {
		if p != nil {
			cfg.Metrics = p
		}
		return nil
	}
}

// WithLogger sets the logger used to report recovered panics.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *config) error { cfg.Logger = l; return nil }
}

type instruments struct {
	submitted metrics.Counter
	started   metrics.Counter
	finished  metrics.Counter
	panicked  metrics.Counter
	running   metrics.UpDownCounter
	depth     metrics.UpDownCounter
	wait      metrics.Histogram
}

func newInstruments(p metrics.Provider) instruments {
	return instruments{
		submitted: p.Counter(metrics.TasksSubmitted, metrics.WithDescription("tasks put on the fair queue")),
		started:   p.Counter(metrics.TasksStarted),
		finished:  p.Counter(metrics.TasksFinished),
		panicked:  p.Counter(metrics.TasksPanicked),
		running:   p.UpDownCounter(metrics.TasksRunning),
		depth:     p.UpDownCounter(metrics.QueueDepth),
		wait:      p.Histogram(metrics.QueueWaitSeconds, metrics.WithUnit("seconds")),
	}
}

// FairPool runs tasks on a fixed number of goroutines fed by a fair Queue.
// Around every task it updates the owning user's running count and
// last-finish time, which the queue reads when choosing the next task.
type FairPool struct {
	queue    *Queue
	fairness *Fairness
	now      func() time.Time
	log      zerolog.Logger
	m        instruments

	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewFairPool starts size goroutines. Tasks run with a context derived from ctx.
func NewFairPool(ctx context.Context, size uint, opts ...Option) (*FairPool, error) {
	if size == 0 {
		return nil, errorc.With(ErrInvalidConfig, errorc.String("", "NewFairPool requires size > 0"))
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	f := NewFairness()
	p := &FairPool{
		queue:    NewQueue(f, cfg.FairnessDelay, cfg.Clock),
		fairness: f,
		now:      cfg.Clock,
		log:      cfg.Logger.With().Str("component", "pool").Logger(),
		m:        newInstruments(cfg.Metrics),
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(int(size))
	for i := uint(0); i < size; i++ {
		go p.loop()
	}
	return p, nil
}

// Submit queues t. It never blocks and fails with ErrPoolClosed after Close.
func (p *FairPool) Submit(t Task) error {
	if err := p.queue.Put(t); err != nil {
		return err
	}
	p.m.submitted.Add(1)
	p.m.depth.Add(1)
	return nil
}

// Fairness exposes the per-user bookkeeping, mainly for inspection.
func (p *FairPool) Fairness() *Fairness { return p.fairness }

// Pending returns the number of queued tasks.
func (p *FairPool) Pending() int { return p.queue.Len() }

// Close stops accepting tasks, runs the ones already queued and waits for the
// goroutines to exit. Tasks that try to resubmit themselves during Close get
// ErrPoolClosed. Close is idempotent.
func (p *FairPool) Close() {
	p.closeOnce.Do(func() {
		p.queue.Close()
		p.wg.Wait()
		p.cancel()
	})
}

func (p *FairPool) loop() {
	defer p.wg.Done()
	for {
		it, err := p.queue.take(nil, nil)
		if err != nil {
			return
		}
		p.m.depth.Add(-1)
		p.m.wait.Record(p.now().Sub(it.at).Seconds())
		p.execute(it.task)
	}
}

// execute runs t between Start and Finish. Panics are contained here so a
// failing task never takes a pool goroutine down with it.
func (p *FairPool) execute(t Task) {
	user := t.User()
	p.fairness.Start(user)
	p.m.started.Add(1)
	p.m.running.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.m.panicked.Add(1)
			p.log.Error().Str("user", user).Str("panic", fmt.Sprint(r)).Msg("task panicked")
		}
		p.fairness.Finish(user, p.now())
		p.m.running.Add(-1)
		p.m.finished.Add(1)
	}()
	t.Run(p.ctx)
}
