package bulkexport

import "errors"

const Namespace = "bulkexport"

var (
	ErrInvalidConfig  = errors.New(Namespace + ": invalid configuration")
	ErrInvalidRequest = errors.New(Namespace + ": invalid export request")
	ErrEngineClosed   = errors.New(Namespace + ": engine is closed")
	ErrCancelled      = errors.New(Namespace + ": export cancelled")
	ErrSearch         = errors.New(Namespace + ": search backend failed")
)
