package lifecycle

import "fmt"

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports an operation that clashes with the record's current
// state, such as registering a code that is still in custody.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func codeInCustody(code string) *ConflictError {
	return &ConflictError{
		Code:    code,
		Message: fmt.Sprintf("code %s is already in custody and has not exited", code),
	}
}

// NotFoundError reports an id that does not resolve to a live record.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return "record not found"
	}
	return fmt.Sprintf("record %s not found", e.ID)
}

// PersistenceError wraps a storage failure. The cause is for logs only.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
