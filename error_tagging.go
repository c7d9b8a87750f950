package bulkexport

import (
	"errors"
	"fmt"
)

// JobMetaError exposes the export an error belongs to.
type JobMetaError interface {
	error
	Unwrap() error
	JobID() string
	User() string
}

type jobTaggedError struct {
	err  error
	id   string
	user string
}

func newJobTaggedError(err error, id, user string) error {
	if err == nil {
		return nil
	}
	var tagged *jobTaggedError
	if errors.As(err, &tagged) && tagged.id == id {
		return err
	}
	return &jobTaggedError{err: err, id: id, user: user}
}

func (e *jobTaggedError) Error() string { return e.err.Error() }
func (e *jobTaggedError) Unwrap() error { return e.err }
func (e *jobTaggedError) JobID() string { return e.id }
func (e *jobTaggedError) User() string  { return e.user }

func (e *jobTaggedError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "job(id=%s,user=%q): %+v", e.id, e.user, e.err)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// ExtractJobID returns the ID of the export err was raised in, if present.
func ExtractJobID(err error) (string, bool) {
	var jme JobMetaError
	if errors.As(err, &jme) {
		return jme.JobID(), true
	}
	return "", false
}
