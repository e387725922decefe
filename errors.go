package vecsql

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecsql/catalog"
	"github.com/hupe1980/vecsql/exec"
	"github.com/hupe1980/vecsql/kv"
	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
)

var (
	// ErrConflict is returned by Commit when a concurrent transaction won a
	// write conflict. The transaction may be retried from the start.
	ErrConflict = kv.ErrConflict

	// ErrClosed is returned after the database was closed.
	ErrClosed = kv.ErrClosed

	// ErrRetryExhausted is returned when an id counter could not be
	// advanced within the retry policy.
	ErrRetryExhausted = kv.ErrRetryExhausted

	ErrTableNotFound  = catalog.ErrTableNotFound
	ErrColumnNotFound = catalog.ErrColumnNotFound
	ErrIndexNotFound  = catalog.ErrIndexNotFound
	ErrAlreadyExists  = catalog.ErrAlreadyExists

	ErrTypeMismatch      = schema.ErrTypeMismatch
	ErrDimensionMismatch = schema.ErrDimensionMismatch
	ErrNullViolation     = schema.ErrNullViolation

	ErrUniqueViolation = storage.ErrUniqueViolation

	ErrUnsupported = exec.ErrUnsupported
	ErrParameter   = exec.ErrParameter

	// ErrInsufficientPrivilege is returned for a statement the session's
	// privileges do not cover.
	ErrInsufficientPrivilege = exec.ErrInsufficientPrivilege

	// ErrTxDone is returned when a committed or rolled back transaction is
	// used.
	ErrTxDone = exec.ErrTxDone

	// ErrTxAborted is returned for statements and Commit after a statement
	// of the transaction failed. The transaction can only be rolled back.
	ErrTxAborted = errors.New("transaction aborted by a failed statement")

	// ErrTxInProgress is returned for BEGIN inside an open transaction.
	ErrTxInProgress = errors.New("a transaction is already in progress")

	// ErrNoTx is returned for COMMIT or ROLLBACK outside a transaction.
	ErrNoTx = errors.New("no transaction in progress")
)

// StatementError carries the statement and the phase a failure happened in.
type StatementError = exec.StatementError

// CommitError reports a failed commit of the transaction with the given id.
//
// The underlying error can be accessed via errors.Unwrap, so
// errors.Is(err, ErrConflict) works.
type CommitError struct {
	TxID  string
	cause error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit transaction %s: %v", e.TxID, e.cause)
}

func (e *CommitError) Unwrap() error { return e.cause }

// IsRetryable reports whether err is a transient conflict after which the
// whole transaction can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrRetryExhausted)
}
