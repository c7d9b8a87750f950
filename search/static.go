package search

import (
	"context"
	"sync"
)

// Static serves fixed rows per query string. Unknown queries match nothing.
type Static struct {
	mu      sync.Mutex
	rows    map[string][]Row
	errs    map[string]error
	queried []Query
}

func NewStatic() *Static {
	return &Static{rows: make(map[string][]Row), errs: make(map[string]error)}
}

// Add appends rows to the result of q.
func (s *Static) Add(q string, rows ...Row) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[q] = append(s.rows[q], rows...)
	return s
}

// Fail makes every Stream of q return err after its rows.
func (s *Static) Fail(q string, err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[q] = err
	return s
}

// Queried returns the queries streamed so far, in call order.
func (s *Static) Queried() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Query(nil), s.queried...)
}

func (s *Static) Stream(ctx context.Context, q Query, fn func(Row) bool) error {
	s.mu.Lock()
	s.queried = append(s.queried, q)
	rows := s.rows[q.Q]
	err := s.errs[q.Q]
	s.mu.Unlock()

	for _, r := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fn(r) {
			return nil
		}
	}
	return err
}
