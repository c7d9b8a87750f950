package batch

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ygrebnov/bulkexport/search"
)

// Shared is the state the processors of one export have in common.
type Shared struct {
	Limiter *Limiter
	Extra   *ExtraColumns
	Sources *SourceCounters
	flushed atomic.Int64
}

// NewShared returns shared state for an export of at most ceiling rows. Zero or less is unlimited.
func NewShared(ceiling int64) *Shared {
	return &Shared{
		Limiter: NewLimiter(ceiling),
		Extra:   &ExtraColumns{},
		Sources: &SourceCounters{},
	}
}

// Flushed returns the number of rows handed to the writer.
func (s *Shared) Flushed() int64 { return s.flushed.Load() }

// Limiter hands out row reservations up to a ceiling.
type Limiter struct {
	ceiling int64
	count   atomic.Int64
}

// NewLimiter returns a limiter. A ceiling of zero or less never runs out.
func NewLimiter(ceiling int64) *Limiter {
	return &Limiter{ceiling: ceiling}
}

// Reserve takes one row. It returns false once the ceiling is reached.
func (l *Limiter) Reserve() bool {
	if l.ceiling <= 0 {
		l.count.Add(1)
		return true
	}
	for {
		n := l.count.Load()
		if n >= l.ceiling {
			return false
		}
		if l.count.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Count returns the reservations taken so far.
func (l *Limiter) Count() int64 { return l.count.Load() }

// Ceiling returns the configured ceiling.
func (l *Limiter) Ceiling() int64 { return l.ceiling }

// Reached reports whether no further reservation can succeed.
func (l *Limiter) Reached() bool {
	return l.ceiling > 0 && l.count.Load() >= l.ceiling
}

// SourceCounters counts rows per source identifier.
type SourceCounters struct {
	m sync.Map // string -> *atomic.Int64
}

// Inc adds one to uid. Empty identifiers are ignored.
func (c *SourceCounters) Inc(uid string) {
	if uid == "" {
		return
	}
	v, ok := c.m.Load(uid)
	if !ok {
		v, _ = c.m.LoadOrStore(uid, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(1)
}

// Get returns the count of uid.
func (c *SourceCounters) Get(uid string) int64 {
	v, ok := c.m.Load(uid)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Snapshot copies all counts.
func (c *SourceCounters) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	c.m.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// ExtraColumns is the ordered, append-only set of extra column names found
// while exporting. Extra columns are fields whose name starts with "_".
type ExtraColumns struct {
	mu    sync.Mutex
	names []string
	known map[string]struct{}
}

// Names returns a snapshot of the column names in discovery order.
func (e *ExtraColumns) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.names...)
}

// Len returns the number of known columns.
func (e *ExtraColumns) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.names)
}

// values returns row's values for the known columns, then for any new
// non-empty "_" fields, which become known columns.
func (e *ExtraColumns) values(row search.Row) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.known == nil {
		e.known = make(map[string]struct{})
	}

	out := make([]string, 0, len(e.names))
	for _, n := range e.names {
		v, _ := row.Str(n)
		out = append(out, v)
	}

	var fresh []string
	for k := range row {
		if !strings.HasPrefix(k, "_") {
			continue
		}
		if _, ok := e.known[k]; !ok {
			fresh = append(fresh, k)
		}
	}
	sort.Strings(fresh)
	for _, k := range fresh {
		v, _ := row.Str(k)
		if v == "" {
			continue
		}
		out = append(out, v)
		e.names = append(e.names, k)
		e.known[k] = struct{}{}
	}
	return out
}
