// Package faults holds the error kinds shared by the backup, scheduler and
// recovery packages. Callers match them with errors.Is.
package faults

import (
	"errors"
	"fmt"
)

var (
	ErrConnection       = errors.New("connection failure")
	ErrMissingArtifact  = errors.New("missing artifact")
	ErrPartialExecution = errors.New("partial execution")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotFound         = errors.New("not found")
	ErrPolicyViolation  = errors.New("policy violation")
	ErrLocked           = errors.New("resource locked")
)

// StepError names the step of a multi-step operation that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Step wraps err with the step name. It returns nil if err is nil.
func Step(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// FailedStep returns the name of the failed step in err's chain, if any.
func FailedStep(err error) (string, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}
