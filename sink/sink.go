// Package sink holds the output side of an export.
package sink

import (
	"encoding/csv"
	"errors"
	"io"
	"sync"
)

const Namespace = "sink"

var ErrFinalised = errors.New(Namespace + ": sink already finalised")

// Sink receives the rows of one export from a single goroutine.
type Sink interface {
	Write(row []string) error
	// HasError reports whether an earlier write failed. It may flush buffered output.
	HasError() bool
	// Finalise flushes and releases the output. Only the first call does work.
	Finalise() error
}

// CSV writes rows as comma-separated values.
type CSV struct {
	w      *csv.Writer
	closer io.Closer

	once   sync.Once
	closed bool
	err    error
}

// NewCSV returns a sink that writes header first. A nil header writes no header.
// Finalise closes out when it implements io.Closer.
func NewCSV(out io.Writer, header []string) (*CSV, error) {
	s := &CSV{w: csv.NewWriter(out)}
	if c, ok := out.(io.Closer); ok {
		s.closer = c
	}
	if header != nil {
		if err := s.w.Write(header); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *CSV) Write(row []string) error {
	if s.closed {
		return ErrFinalised
	}
	if s.err != nil {
		return s.err
	}
	if err := s.w.Write(row); err != nil {
		s.err = err
		return err
	}
	return nil
}

func (s *CSV) HasError() bool {
	if s.err != nil {
		return true
	}
	if s.closed {
		return false
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.err = err
	}
	return s.err != nil
}

// Err returns the first write error.
func (s *CSV) Err() error { return s.err }

func (s *CSV) Finalise() error {
	s.once.Do(func() {
		s.closed = true
		s.w.Flush()
		if err := s.w.Error(); err != nil && s.err == nil {
			s.err = err
		}
		if s.closer != nil {
			if err := s.closer.Close(); err != nil && s.err == nil {
				s.err = err
			}
		}
	})
	return s.err
}
