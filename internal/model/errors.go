package model

import "github.com/pkg/errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInvalidInput          = errors.New("invalid input")
	ErrEmptySample           = errors.New("no data in sample")
	ErrNoPhysicalDescendants = errors.New("virtual dataset has no physical descendant")
	ErrFilteredDescendant    = errors.New("virtual descendants with filters are not supported")
	ErrMaxDepth              = errors.New("virtual dataset nesting is too deep")
	ErrBlacklistedField      = errors.New("field is hidden by a virtual child")
	ErrUnknownField          = errors.New("field is not present in any child")
	ErrTypeConflict          = errors.New("field type differs in a child")
	ErrFormatConflict        = errors.New("field format differs in a child")
)

// fatalError marks a failure that must move the dataset to the error status.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }
func (e *fatalError) Cause() error  { return e.err }

// Fatal wraps err so the orchestrator moves the dataset to the error
// status instead of retrying it on a later poll.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err, or anything it wraps, was marked by Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// IsValidation reports whether err is a caller error rather than an
// infrastructure failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidInput, ErrBlacklistedField, ErrUnknownField, ErrTypeConflict,
		ErrFormatConflict, ErrMaxDepth, ErrFilteredDescendant, ErrNoPhysicalDescendants,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
