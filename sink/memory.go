package sink

import (
	"sync"
)

// Memory collects rows in memory. FailAfter makes writes fail once that many
// rows have been accepted; zero never fails.
type Memory struct {
	FailAfter int
	Err       error

	mu        sync.Mutex
	rows      [][]string
	failed    bool
	finalised int
}

func (m *Memory) Write(row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAfter > 0 && len(m.rows) >= m.FailAfter {
		m.failed = true
		return m.Err
	}
	m.rows = append(m.rows, append([]string(nil), row...))
	return nil
}

func (m *Memory) HasError() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

func (m *Memory) Finalise() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalised++
	return nil
}

// Rows returns a copy of the accepted rows.
func (m *Memory) Rows() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.rows...)
}

// Finalised returns how many times Finalise was called.
func (m *Memory) Finalised() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalised
}
