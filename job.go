package bulkexport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ygrebnov/bulkexport/audit"
	"github.com/ygrebnov/bulkexport/batch"
	"github.com/ygrebnov/bulkexport/handoff"
	"github.com/ygrebnov/bulkexport/search"
	"github.com/ygrebnov/bulkexport/sink"
)

// Request describes one export.
type Request struct {
	// User is the requester's email. The fairness identity falls back to Address.
	User    string
	Address string

	// Ceiling caps the number of exported rows. Zero or less is unlimited.
	Ceiling int64

	// Partitions are queried in order, one at a time.
	Partitions []search.Query

	Headers batch.Headers
	Sink    sink.Sink

	// IncludeMultivalues joins all values of multi-valued fields with "|".
	IncludeMultivalues bool
	// IncludeExtra appends "_" fields as extra columns.
	IncludeExtra bool
}

func (r Request) identity() string {
	if u := strings.TrimSpace(r.User); u != "" {
		return u
	}
	return strings.TrimSpace(r.Address)
}

func (r Request) validate() error {
	if r.Sink == nil {
		return ErrInvalidRequest
	}
	return nil
}

// Status is the state of an export.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusAborted   Status = "aborted"
)

// Job is the handle of a submitted export. Its methods are safe for concurrent use.
type Job struct {
	id   string
	user string

	shared     *batch.Shared
	flag       *handoff.Flag
	writer     *handoff.Writer
	consumer   *handoff.Consumer
	partitions *partitionQueue

	started  time.Time
	finished atomic.Pointer[time.Time]
	status   atomic.Value // Status

	errMu sync.Mutex
	err   error

	producerOnce sync.Once
	producerDone chan struct{}
	done         chan struct{}
}

func (j *Job) ID() string   { return j.id }
func (j *Job) User() string { return j.user }

// Done is closed when the export has ended and its sink is finalised.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the export ends or ctx is done, and returns the export's error.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the export. Rows already written stay written.
func (j *Job) Cancel() { j.fail(ErrCancelled) }

// Count returns the number of rows accepted against the ceiling.
func (j *Job) Count() int64 { return j.shared.Limiter.Count() }

// Flushed returns the number of rows handed to the writer.
func (j *Job) Flushed() int64 { return j.shared.Flushed() }

// Written returns the number of rows written to the sink.
func (j *Job) Written() int64 { return j.consumer.Written() }

// SourceCounts returns the exported row count per source identifier.
func (j *Job) SourceCounts() map[string]int64 { return j.shared.Sources.Snapshot() }

// ExtraColumns returns the extra column names found so far, in column order.
func (j *Job) ExtraColumns() []string { return j.shared.Extra.Names() }

// Err returns the first cause that stopped the export, or nil.
func (j *Job) Err() error {
	j.errMu.Lock()
	defer j.errMu.Unlock()
	return j.err
}

func (j *Job) Status() Status { return j.status.Load().(Status) }

// fail records the first cause and cancels the export.
func (j *Job) fail(err error) {
	if err == nil {
		return
	}
	j.errMu.Lock()
	if j.err == nil {
		j.err = newJobTaggedError(err, j.id, j.user)
	}
	j.errMu.Unlock()
	j.flag.Set()
}

// stopped reports whether no further partition should be queried.
func (j *Job) stopped() bool {
	return j.flag.IsSet() || j.shared.Limiter.Reached()
}

func (j *Job) finish(now time.Time) Status {
	st := StatusCompleted
	switch err := j.Err(); {
	case err == nil:
	case errors.Is(err, ErrCancelled):
		st = StatusCancelled
	default:
		st = StatusAborted
	}
	j.finished.Store(&now)
	j.status.Store(st)
	return st
}

// Summary describes the export for the download log.
func (j *Job) Summary() audit.Summary {
	sum := audit.Summary{
		JobID:   j.id,
		User:    j.user,
		Status:  string(j.Status()),
		Rows:    j.Written(),
		Started: j.started,
		Sources: j.SourceCounts(),
	}
	if f := j.finished.Load(); f != nil {
		sum.Finished = *f
	}
	if err := j.Err(); err != nil {
		sum.Error = err.Error()
	}
	return sum
}

// partitionQueue is the FIFO of partitions an export has yet to query.
type partitionQueue struct {
	mu    sync.Mutex
	items []search.Query
}

func newPartitionQueue(qs []search.Query) *partitionQueue {
	return &partitionQueue{items: append([]search.Query(nil), qs...)}
}

func (q *partitionQueue) pop() (search.Query, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return search.Query{}, false
	}
	next := q.items[0]
	q.items = q.items[1:]
	return next, true
}

func (q *partitionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// context derives a context that ends when the export is cancelled.
func (j *Job) context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-j.flag.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
