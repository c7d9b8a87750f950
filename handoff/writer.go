package handoff

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/bulkexport/metrics"
)

// Writer offers rows onto a handoff queue. Write and Finalise may be called
// by one goroutine at a time; Shutdown must not run concurrently with Write.
type Writer struct {
	q       chan Entry
	flag    *Flag
	timeout time.Duration
	log     zerolog.Logger
	retries metrics.Counter

	onInterrupt func(error)

	finalising   atomic.Bool
	finalised    atomic.Bool
	sentinelSent atomic.Bool
	offered      atomic.Int64

	// serializes sentinel offers between Finalise and Shutdown
	sentinelMu sync.Mutex
}

func NewWriter(q chan Entry, flag *Flag, opts ...Option) *Writer {
	cfg := newConfig(opts)
	return &Writer{
		q:       q,
		flag:    flag,
		timeout: cfg.OfferTimeout,
		log:     cfg.Logger.With().Str("component", "handoff").Logger(),
		retries: cfg.Metrics.Counter(metrics.OfferRetries),

		onInterrupt: cfg.OnInterrupt,
	}
}

// Write offers row, retrying every offer timeout until the consumer takes it.
// On cancellation, or when ctx is done, the writer finalises instead and the row is dropped.
func (w *Writer) Write(ctx context.Context, row []string) {
	if w.flag.IsSet() || w.finalising.Load() {
		w.Finalise(ctx)
		return
	}
	if w.offer(ctx, RowEntry(row)) {
		w.offered.Add(1)
		return
	}
	w.Finalise(ctx)
}

// offer retries until e is queued. It returns false on cancellation. When ctx
// is done first it reports ErrInterrupted and raises the flag.
func (w *Writer) offer(ctx context.Context, e Entry) bool {
	select {
	case w.q <- e:
		return true
	default:
	}
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	for {
		select {
		case w.q <- e:
			return true
		case <-w.flag.Done():
			return false
		case <-ctx.Done():
			w.interrupt(ctx.Err())
			return false
		case <-timer.C:
			w.retries.Add(1)
			w.log.Debug().Dur("timeout", w.timeout).Msg("handoff queue full, retrying")
			timer.Reset(w.timeout)
		}
	}
}

func (w *Writer) interrupt(cause error) {
	if w.flag.IsSet() {
		return
	}
	if w.onInterrupt != nil {
		w.onInterrupt(errorc.With(ErrInterrupted, errorc.String("cause", cause.Error())))
	}
	w.flag.Set()
}

// Finalise offers the sentinel. Only the first call does anything; it gives
// up when the export is cancelled, leaving the sentinel to Shutdown.
func (w *Writer) Finalise(ctx context.Context) {
	if !w.finalising.CompareAndSwap(false, true) {
		return
	}
	defer w.finalised.Store(true)

	w.sentinelMu.Lock()
	defer w.sentinelMu.Unlock()
	if w.sentinelSent.Load() {
		return
	}
	if w.offer(ctx, Sentinel()) {
		w.sentinelSent.Store(true)
	}
}

// Finalised reports whether Finalise has completed.
func (w *Writer) Finalised() bool { return w.finalised.Load() }

// SentinelSent reports whether the sentinel is on the queue or was taken from it.
func (w *Writer) SentinelSent() bool { return w.sentinelSent.Load() }

// Offered returns the number of rows put on the queue.
func (w *Writer) Offered() int64 { return w.offered.Load() }

// Shutdown makes sure the sentinel was offered, discarding queued rows until it fits.
// It returns the number of rows discarded.
func (w *Writer) Shutdown() int {
	w.finalising.Store(true)
	defer w.finalised.Store(true)

	w.sentinelMu.Lock()
	defer w.sentinelMu.Unlock()
	discarded := 0
	for !w.sentinelSent.Load() {
		select {
		case w.q <- Sentinel():
			w.sentinelSent.Store(true)
		default:
			select {
			case <-w.q:
				discarded++
			default:
			}
		}
	}
	if discarded > 0 {
		w.log.Debug().Int("rows", discarded).Msg("discarded queued rows on shutdown")
	}
	return discarded
}
