package engine

import "fmt"

// ValidationError marks input the caller can fix.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError marks an operation not legal in the entity's current state.
type InvalidStateError struct {
	Msg string
}

func (e InvalidStateError) Error() string { return e.Msg }

func invalidStatef(format string, args ...any) error {
	return InvalidStateError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError marks a lost race against a concurrent writer. Retrying after
// a fresh read may succeed.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

func conflictf(format string, args ...any) error {
	return ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// BlockedError marks an operation gated by unmet checklist requirements.
type BlockedError struct {
	Msg     string
	Reasons []string
}

func (e BlockedError) Error() string { return e.Msg }
