package exec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned for statements and expressions the engine
	// does not implement.
	ErrUnsupported = errors.New("unsupported")
	// ErrTxDone is returned when a finished transaction is used.
	ErrTxDone = errors.New("transaction already committed or rolled back")
	// ErrParameter is returned when placeholders and arguments disagree.
	ErrParameter = errors.New("invalid parameter")
)

// Phase is a step of a statement's life cycle.
type Phase uint8

const (
	PhaseParsed Phase = iota
	PhasePlanned
	PhaseBound
	PhaseExecuting
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseParsed:
		return "parsed"
	case PhasePlanned:
		return "planned"
	case PhaseBound:
		return "bound"
	case PhaseExecuting:
		return "executing"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// StatementError wraps a failure with the statement it belongs to and the
// phase the statement failed to leave. A phase of PhaseParsed means
// planning failed, PhasePlanned means binding failed and PhaseBound or
// PhaseExecuting means execution failed.
type StatementError struct {
	Statement string
	Phase     Phase
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Statement, e.Phase, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

func wrap(tag string, phase Phase, err error) error {
	if err == nil {
		return nil
	}
	var se *StatementError
	if errors.As(err, &se) {
		return err
	}
	return &StatementError{Statement: tag, Phase: phase, Err: err}
}
