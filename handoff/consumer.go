package handoff

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/bulkexport/metrics"
	"github.com/ygrebnov/bulkexport/sink"
)

// Consumer drains a handoff queue into a sink on a single goroutine.
type Consumer struct {
	q     <-chan Entry
	flag  *Flag
	sink  sink.Sink
	every int64
	log   zerolog.Logger

	rowsWritten metrics.Counter
	faults      metrics.Counter

	written      atomic.Int64
	finaliseOnce sync.Once
	finaliseErr  error
}

func NewConsumer(q <-chan Entry, flag *Flag, s sink.Sink, opts ...Option) *Consumer {
	cfg := newConfig(opts)
	return &Consumer{
		q:           q,
		flag:        flag,
		sink:        s,
		every:       cfg.CheckInterval,
		log:         cfg.Logger.With().Str("component", "consumer").Logger(),
		rowsWritten: cfg.Metrics.Counter(metrics.RowsWritten),
		faults:      cfg.Metrics.Counter(metrics.SinkFaults),
	}
}

// Run writes rows until the sentinel arrives, the export is cancelled or ctx is done.
// The sink is finalised on every path. A failing sink raises the flag and yields ErrSinkFault;
// ctx ending yields ErrInterrupted. Cancellation by anyone else returns nil.
func (c *Consumer) Run(ctx context.Context) (err error) {
	defer func() {
		if ferr := c.finalise(); ferr != nil && err == nil {
			err = c.fault(ferr)
		}
	}()

	for {
		select {
		case e := <-c.q:
			if e.IsSentinel() {
				if c.sink.HasError() {
					return c.fault(nil)
				}
				return nil
			}
			if werr := c.sink.Write(e.Row()); werr != nil {
				return c.fault(werr)
			}
			c.rowsWritten.Add(1)
			n := c.written.Add(1)
			if n%c.every == 0 && c.sink.HasError() {
				return c.fault(nil)
			}
		case <-c.flag.Done():
			return nil
		case <-ctx.Done():
			c.flag.Set()
			return errorc.With(ErrInterrupted, errorc.String("cause", ctx.Err().Error()))
		}
	}
}

// Written returns the number of rows handed to the sink.
func (c *Consumer) Written() int64 { return c.written.Load() }

// fault records a sink failure. The log line carries the message only.
func (c *Consumer) fault(cause error) error {
	c.flag.Set()
	c.faults.Add(1)
	msg := "sink reported an error"
	if cause != nil {
		msg = cause.Error()
	}
	c.log.Error().Int64("rows", c.written.Load()).Str("error", msg).Msg("output sink failed, aborting export")
	return errorc.With(ErrSinkFault, errorc.String("cause", msg))
}

func (c *Consumer) finalise() error {
	c.finaliseOnce.Do(func() {
		c.finaliseErr = c.sink.Finalise()
	})
	return c.finaliseErr
}
