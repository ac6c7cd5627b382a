package orchestrator

import (
	"errors"
	"fmt"
)

// ErrUnknownPipeline is returned by Run, before any stage starts, when the
// requested definition does not exist.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// FatalStageError aborts a run: a required slot failed or could not start.
type FatalStageError struct {
	Slot  string
	Stage string
	Err   error
}

func (e *FatalStageError) Error() string {
	return fmt.Sprintf("required stage %s (%s) failed: %v", e.Slot, e.Stage, e.Err)
}

func (e *FatalStageError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a FatalStageError.
func IsFatal(err error) bool {
	var fe *FatalStageError
	return errors.As(err, &fe)
}

// DegradedStageError records an optional slot that failed. The run goes on
// without it.
type DegradedStageError struct {
	Slot  string
	Stage string
	Err   error
}

func (e *DegradedStageError) Error() string {
	return fmt.Sprintf("optional stage %s (%s) degraded: %v", e.Slot, e.Stage, e.Err)
}

func (e *DegradedStageError) Unwrap() error { return e.Err }

// MissingFieldsError lists context fields a stage needed but did not get.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing context fields: %v", e.Fields)
}
