// Package handoff moves rows from the producers of one export to the single
// goroutine that writes them out, over a bounded channel.
//
// The end of the stream is signalled by a sentinel Entry. A Writer offers it
// at most once; Finalise followed by Shutdown makes sure it is offered at
// least once, so the Consumer always terminates.
package handoff

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ygrebnov/bulkexport/metrics"
)

const Namespace = "handoff"

var (
	ErrSinkFault   = errors.New(Namespace + ": sink fault")
	ErrInterrupted = errors.New(Namespace + ": interrupted")
)

const (
	DefaultOfferTimeout  = time.Second
	DefaultCheckInterval = 1000
)

// Entry is either a row or the end-of-stream sentinel.
type Entry struct {
	row      []string
	sentinel bool
}

// RowEntry wraps row.
func RowEntry(row []string) Entry { return Entry{row: row} }

// Sentinel returns the end-of-stream marker.
func Sentinel() Entry { return Entry{sentinel: true} }

func (e Entry) IsSentinel() bool { return e.sentinel }

// Row returns the wrapped row, nil for the sentinel.
func (e Entry) Row() []string { return e.row }

// NewQueue returns a handoff channel. Capacity below 1 is raised to 1 so that
// Shutdown can always make room for the sentinel.
func NewQueue(capacity int) chan Entry {
	if capacity < 1 {
		capacity = 1
	}
	return make(chan Entry, capacity)
}

// Flag is a one-way cancellation signal.
type Flag struct {
	set  atomic.Bool
	once sync.Once
	ch   chan struct{}
}

func NewFlag() *Flag { return &Flag{ch: make(chan struct{})} }

// Set raises the flag. It reports whether this call raised it.
func (f *Flag) Set() bool {
	raised := false
	f.once.Do(func() {
		f.set.Store(true)
		close(f.ch)
		raised = true
	})
	return raised
}

func (f *Flag) IsSet() bool { return f.set.Load() }

// Done is closed once the flag is raised.
func (f *Flag) Done() <-chan struct{} { return f.ch }

type config struct {
	OfferTimeout  time.Duration
	CheckInterval int64
	Logger        zerolog.Logger
	Metrics       metrics.Provider
	OnInterrupt   func(error)
}

func defaultConfig() config {
	return config{
		OfferTimeout:  DefaultOfferTimeout,
		CheckInterval: DefaultCheckInterval,
		Logger:        zerolog.Nop(),
		Metrics:       metrics.NewNoopProvider(),
	}
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Option configures a Writer or a Consumer.
type Option func(*config)

// WithOfferTimeout sets how long one offer waits before it is retried.
func WithOfferTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.OfferTimeout = d
		}
	}
}

// WithCheckInterval sets how many rows the consumer writes between sink health checks.
func WithCheckInterval(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.CheckInterval = n
		}
	}
}

// WithInterruptHandler sets the function a Writer reports an interruption to
// when its context ends before the export was cancelled.
func WithInterruptHandler(fn func(error)) Option {
	return func(c *config) { c.OnInterrupt = fn }
}

func WithLogger(l zerolog.Logger) Option { return func(c *config) { c.Logger = l } }

func WithMetrics(p metrics.Provider) Option {
	return func(c *config) {
		if p != nil {
			c.Metrics = p
		}
	}
}
