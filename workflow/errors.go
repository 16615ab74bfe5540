package workflow

import "fmt"

// Error is an ambient (non-StepError) failure from loading or validating a
// workflow file.
type Error struct {
	Component string // always "workflow"
	Operation string // "parse" or "validate"
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newParseError(message string, err error) *Error {
	return &Error{Component: "workflow", Operation: "parse", Message: message, Err: err}
}

func newValidateError(message string, err error) *Error {
	return &Error{Component: "workflow", Operation: "validate", Message: message, Err: err}
}
