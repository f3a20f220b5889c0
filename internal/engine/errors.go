package engine

import (
	"errors"
	"fmt"

	"github.com/zeebo/errs"
)

var (
	// Error wraps every failure of a structure copy.
	Error = errs.Class("structure copy")
	// ErrCancelled is the class of the fatal error raised when a run is cancelled.
	ErrCancelled = errs.Class("structure copy cancelled")
	// ErrUnsatisfied marks a reference whose target row does not exist.
	ErrUnsatisfied = errors.New("unsatisfied reference")
)

// ObjectError adds the failing operation and object to an error.
type ObjectError struct {
	Op    string
	Table string
	ID    any
	Err   error
}

func (e *ObjectError) Error() string {
	if e.ID == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("%s %s %v: %v", e.Op, e.Table, e.ID, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

func objectError(op, table string, id any, err error) error {
	return Error.Wrap(&ObjectError{Op: op, Table: table, ID: id, Err: err})
}

// IsCancelled reports whether err is the fatal cancellation error.
func IsCancelled(err error) bool {
	return ErrCancelled.Has(err)
}
