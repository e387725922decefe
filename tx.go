package vecsql

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/vecsql/ast"
	"github.com/hupe1980/vecsql/catalog"
	"github.com/hupe1980/vecsql/exec"
	"github.com/hupe1980/vecsql/kv"
	"github.com/hupe1980/vecsql/storage"
)

// Tx is a transaction. Statements of a Tx see a snapshot taken at Begin
// plus their own writes. Row changes reach the vector indexes and schema
// changes reach other transactions only on Commit.
//
// A statement that fails aborts the Tx: its partial writes are never
// published, later statements return ErrTxAborted and Commit rolls back.
//
// A Tx is not safe for concurrent use. Query streams must be drained or
// closed before Commit.
type Tx struct {
	db        *DB
	id        string
	kv        kv.Txn
	env       *exec.Env
	logger    *Logger
	privilege Privilege
	// ownLocks is set when the advisory locks end with the transaction
	// rather than with a session.
	ownLocks bool

	mu      sync.Mutex
	done    bool
	aborted error
}

// txConfig is what a transaction inherits from the session running it.
type txConfig struct {
	locks     *exec.LockHolder
	privilege Privilege
}

func newTx(db *DB, txn kv.Txn, snap *catalog.Snapshot, cfg txConfig) *Tx {
	id := uuid.NewString()
	logger := db.logger.WithTx(id)
	locks, own := cfg.locks, false
	if locks == nil {
		locks, own = db.locks.Holder(), true
	}
	return &Tx{
		db:        db,
		id:        id,
		kv:        txn,
		logger:    logger,
		privilege: cfg.privilege,
		ownLocks:  own,
		env: &exec.Env{
			Op:      storage.NewOperator(db.backend, txn, db.storage),
			Catalog: catalog.NewOverlay(snap),
			Vectors: db.vectors,
			Changes: exec.NewChanges(),
			Files:   db.opts.files,
			Locks:   locks,
			Config:  db.opts.Exec,
			Logger:  logger.Logger,
		},
	}
}

// ID returns the transaction id used in logs and errors.
func (tx *Tx) ID() string { return tx.id }

// Execute runs stmt inside the transaction. args bind $1, $2, ... in order.
func (tx *Tx) Execute(ctx context.Context, stmt ast.Statement, args ...any) (*exec.Response, error) {
	if err := tx.usable(); err != nil {
		return nil, err
	}

	start := time.Now()
	tag := exec.Tag(stmt)
	var (
		resp *exec.Response
		err  error
	)
	switch params, perr := exec.ToValues(args); {
	case !tx.privilege.CanExecute(stmt):
		err = &StatementError{Statement: tag, Phase: exec.PhaseParsed, Err: fmt.Errorf("%w: %s", ErrInsufficientPrivilege, tag)}
	case perr != nil:
		err = &StatementError{Statement: tag, Phase: exec.PhasePlanned, Err: perr}
	default:
		resp, err = exec.Execute(ctx, tx.env, stmt, params)
	}

	elapsed := time.Since(start)
	tx.db.metrics.RecordStatement(exec.Classify(stmt), elapsed, err)
	tx.logger.LogStatement(ctx, resp, tag, elapsed, err)
	if index, ok := vectorIndexOf(resp); ok {
		tx.db.metrics.RecordVectorSearch(index)
	}
	if err != nil {
		tx.abort(err)
	}
	return resp, err
}

// Commit publishes the transaction. On ErrConflict nothing was written and
// the transaction may be retried from the start. An aborted transaction is
// rolled back and Commit returns ErrTxAborted.
func (tx *Tx) Commit(ctx context.Context) error {
	if !tx.finish() {
		return ErrTxDone
	}
	defer tx.releaseLocks()
	if cause := tx.abortCause(); cause != nil {
		tx.kv.Rollback()
		tx.db.metrics.RecordCommit(0, cause)
		tx.logger.LogCommit(ctx, 0, 0, cause)
		return &CommitError{TxID: tx.id, cause: cause}
	}

	start := time.Now()
	changes := tx.env.Changes.Len()
	err := tx.db.commit(ctx, tx)
	elapsed := time.Since(start)
	tx.db.metrics.RecordCommit(elapsed, err)
	tx.logger.LogCommit(ctx, changes, elapsed, err)
	return err
}

// Rollback discards the transaction. It returns ErrTxDone once the
// transaction has ended, so it can be deferred.
func (tx *Tx) Rollback() error {
	if !tx.finish() {
		return ErrTxDone
	}
	tx.kv.Rollback()
	tx.releaseLocks()
	return nil
}

// releaseLocks drops the advisory locks the transaction owns. Locks of a
// session outlive its transactions.
func (tx *Tx) releaseLocks() {
	if tx.ownLocks {
		tx.env.Locks.UnlockAll()
	}
}

// usable returns ErrTxDone or the abort error when no statement may run.
func (tx *Tx) usable() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	return tx.aborted
}

func (tx *Tx) abort(cause error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.aborted == nil {
		tx.aborted = fmt.Errorf("%w: %w", ErrTxAborted, cause)
	}
}

func (tx *Tx) abortCause() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.aborted
}

// finish marks the transaction done and reports whether it was open.
func (tx *Tx) finish() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return false
	}
	tx.done = true
	return true
}

// Session runs statements the way a client connection does: each statement
// gets an implicit transaction unless BEGIN opened an explicit one, which
// lasts until COMMIT or ROLLBACK. A failed statement aborts the explicit
// transaction.
//
// A Session is not safe for concurrent use.
//
// Advisory locks taken with pg_advisory_lock belong to the Session and are
// held until unlocked or until Close.
type Session struct {
	db  *DB
	tx  *Tx
	cfg txConfig
}

// InTx reports whether an explicit transaction is open.
func (s *Session) InTx() bool { return s.tx != nil }

// Execute runs one statement.
func (s *Session) Execute(ctx context.Context, stmt ast.Statement, args ...any) (*exec.Response, error) {
	tag := exec.Tag(stmt)
	switch stmt.(type) {
	case *ast.Begin:
		if s.tx != nil {
			return nil, controlError(tag, ErrTxInProgress)
		}
		tx, err := s.db.begin(ctx, s.cfg)
		if err != nil {
			return nil, controlError(tag, err)
		}
		s.tx = tx
		return controlResponse(tag), nil
	case *ast.Commit:
		tx, err := s.take(tag)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, controlError(tag, err)
		}
		return controlResponse(tag), nil
	case *ast.Rollback:
		tx, err := s.take(tag)
		if err != nil {
			return nil, err
		}
		_ = tx.Rollback()
		return controlResponse(tag), nil
	}

	if s.tx == nil {
		return s.db.execute(ctx, s.cfg, stmt, args...)
	}
	resp, err := s.tx.Execute(ctx, stmt, args...)
	if err != nil {
		_ = s.tx.Rollback()
		s.tx = nil
		return nil, err
	}
	return resp, nil
}

func (s *Session) take(tag string) (*Tx, error) {
	if s.tx == nil {
		return nil, controlError(tag, ErrNoTx)
	}
	tx := s.tx
	s.tx = nil
	return tx, nil
}

// Close rolls back an open transaction and releases the session's advisory
// locks.
func (s *Session) Close() error {
	defer s.cfg.locks.UnlockAll()
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Rollback()
}

func controlResponse(tag string) *exec.Response {
	return &exec.Response{Type: exec.TypeTransaction, Tag: tag, Stream: exec.EmptyStream()}
}

func controlError(tag string, err error) error {
	return &StatementError{Statement: tag, Phase: exec.PhaseExecuting, Err: err}
}
