package bulkexport

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/ygrebnov/errorc"
	"golang.org/x/time/rate"

	"github.com/ygrebnov/bulkexport/audit"
	"github.com/ygrebnov/bulkexport/batch"
	"github.com/ygrebnov/bulkexport/handoff"
	"github.com/ygrebnov/bulkexport/metrics"
	"github.com/ygrebnov/bulkexport/pool"
	"github.com/ygrebnov/bulkexport/search"
)

// Recorder receives the summary of every finished export.
type Recorder interface {
	Record(ctx context.Context, sum audit.Summary) error
}

// config holds Engine configuration.
type config struct {
	// PoolSize is the number of goroutines shared by all exports.
	// Default: 4.
	PoolSize uint

	// FairnessDelay is how long a user must be idle before their partitions
	// are preferred again.
	// Default: pool.DefaultFairnessDelay (5s).
	FairnessDelay time.Duration

	// QueueCapacity bounds the handoff queue of each export.
	// Default: 1000.
	QueueCapacity int

	// OfferTimeout is how long one offer onto a full handoff queue waits before it is retried.
	// Default: 1s.
	OfferTimeout time.Duration

	// CheckInterval is the number of rows written between sink health checks.
	// Default: 1000.
	CheckInterval int64

	// BatchSize is the number of rows a processor buffers before a flush.
	// Default: 1000.
	BatchSize int

	// Throttle limits how often partitions are queried across the engine.
	// Default: rate.Inf (no throttling).
	Throttle      rate.Limit
	ThrottleBurst int

	Backend  search.Backend
	Enricher batch.Enricher
	Lists    batch.ListLookup
	Recorder Recorder

	Logger  zerolog.Logger
	Metrics metrics.Provider
	Clock   func() time.Time
}

// defaultConfig centralizes default values for config.
func defaultConfig() config {
	return config{
		PoolSize:      4,
		FairnessDelay: pool.DefaultFairnessDelay,
		QueueCapacity: 1000,
		OfferTimeout:  handoff.DefaultOfferTimeout,
		CheckInterval: handoff.DefaultCheckInterval,
		BatchSize:     batch.DefaultBatchSize,
		Throttle:      rate.Inf,
		ThrottleBurst: 1,
		Logger:        zerolog.Nop(),
		Metrics:       metrics.NewNoopProvider(),
		Clock:         time.Now,
	}
}

// validateConfig checks invariants that options cannot check on their own.
func validateConfig(cfg *config) error {
	if cfg.Backend == nil {
		return errorc.With(ErrInvalidConfig, errorc.String("", "a search backend is required, use WithBackend"))
	}
	return nil
}

// Option configures an Engine.
type Option func(*config) error

// WithPoolSize sets the number of goroutines shared by all exports (must be > 0).
func WithPoolSize(n uint) Option {
	return func(cfg *config) error {
		if n == 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithPoolSize requires n > 0"))
		}
		cfg.PoolSize = n
		return nil
	}
}

// WithFairnessDelay overrides the fairness delay. Zero makes every idle user eligible at once.
func WithFairnessDelay(d time.Duration) Option {
	return func(cfg *config) error {
		if d < 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("fairness_delay", d.String()))
		}
		cfg.FairnessDelay = d
		return nil
	}
}

// WithQueueCapacity sets the handoff queue capacity of each export (must be > 0).
func WithQueueCapacity(n int) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithQueueCapacity requires n > 0"))
		}
		cfg.QueueCapacity = n
		return nil
	}
}

// WithOfferTimeout sets the retry period of offers onto a full handoff queue (must be > 0).
func WithOfferTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("offer_timeout", d.String()))
		}
		cfg.OfferTimeout = d
		return nil
	}
}

// WithCheckInterval sets how many rows are written between sink health checks (must be > 0).
func WithCheckInterval(n int64) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithCheckInterval requires n > 0"))
		}
		cfg.CheckInterval = n
		return nil
	}
}

// WithBatchSize sets the processor batch size (must be > 0).
func WithBatchSize(n int) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithBatchSize requires n > 0"))
		}
		cfg.BatchSize = n
		return nil
	}
}

// WithThrottle allows at most r partition queries per second with the given burst.
func WithThrottle(r rate.Limit, burst int) Option {
	return func(cfg *config) error {
		if r <= 0 || burst <= 0 {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithThrottle requires a positive rate and burst"))
		}
		cfg.Throttle = r
		cfg.ThrottleBurst = burst
		return nil
	}
}

// WithBackend sets the search backend. Required.
func WithBackend(b search.Backend) Option {
	return func(cfg *config) error { cfg.Backend = b; return nil }
}

// WithEnricher sets the analysis layer sampler.
func WithEnricher(e batch.Enricher) Option {
	return func(cfg *config) error { cfg.Enricher = e; return nil }
}

// WithLists sets the list-membership lookup.
func WithLists(l batch.ListLookup) Option {
	return func(cfg *config) error { cfg.Lists = l; return nil }
}

// WithRecorder sets where export summaries are recorded, e.g. an *audit.Store.
func WithRecorder(r Recorder) Option {
	return func(cfg *config) error { cfg.Recorder = r; return nil }
}

func WithLogger(l zerolog.Logger) Option {
	return func(cfg *config) error { cfg.Logger = l; return nil }
}

func WithMetrics(p metrics.Provider) Option {
	return func(cfg *config) error {
		if p != nil {
			cfg.Metrics = p
		}
		return nil
	}
}

// WithClock sets the time source for fairness decisions and summaries.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) error {
		if now == nil {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithClock requires a non-nil clock"))
		}
		cfg.Clock = now
		return nil
	}
}
