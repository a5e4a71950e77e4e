package crucible

import (
	"errors"
	"fmt"
)

// RuntimeError is anything that stopped the harness from finishing a run:
// build failures, bad configuration, missing tools. It maps to exit code 2
// so CI can tell infrastructure breakage from failing tests.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError reports whether err is or wraps a RuntimeError.
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError means the run completed but some tests never passed,
// retries included. It carries the counts so callers can report them
// without reparsing the message, and maps to exit code 1.
type TestFailureError struct {
	Failed int
	Total  int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("%d of %d tests failed", e.Failed, e.Total)
}

func NewTestFailureError(failed, total int) *TestFailureError {
	return &TestFailureError{Failed: failed, Total: total}
}

// IsTestFailureError reports whether err is or wraps a TestFailureError.
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
