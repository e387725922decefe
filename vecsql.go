package vecsql

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecsql/ast"
	"github.com/hupe1980/vecsql/catalog"
	"github.com/hupe1980/vecsql/exec"
	"github.com/hupe1980/vecsql/kv"
	"github.com/hupe1980/vecsql/kv/badger"
	"github.com/hupe1980/vecsql/kv/memory"
	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
	"github.com/hupe1980/vecsql/vector"
	"golang.org/x/sync/errgroup"
)

// DB is an embedded SQL database with vector indexes. It is safe for
// concurrent use; each goroutine works through its own transactions.
type DB struct {
	backend kv.Backend
	storage storage.Config
	catalog *catalog.Catalog
	vectors *vector.Manager
	locks   *exec.AdvisoryLocks
	opts    options
	logger  *Logger
	metrics MetricsCollector

	// commitMu orders commits. Begin holds it shared so a new transaction
	// never sees a kv snapshot newer than the published catalog.
	commitMu sync.RWMutex
	closed   atomic.Bool
}

// Open opens a database. Without WithPath or WithBackend the data lives in
// memory.
//
// Vector indexes are not persisted; Open rebuilds them from the stored rows.
func Open(ctx context.Context, optFns ...Option) (*DB, error) {
	opts, err := applyOptions(optFns)
	if err != nil {
		return nil, err
	}

	backend := opts.backend
	switch {
	case backend != nil:
	case opts.path == "":
		backend = memory.New()
	default:
		store, err := badger.Open(opts.badgerOptions())
		if err != nil {
			return nil, err
		}
		backend = store
	}

	db := &DB{
		backend: backend,
		storage: opts.storageConfig(),
		vectors: vector.NewManager(opts.logger.Logger),
		locks:   exec.NewAdvisoryLocks(),
		opts:    opts,
		logger:  opts.logger,
		metrics: opts.metricsCollector,
	}
	if err := db.load(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) load(ctx context.Context) error {
	txn, err := db.backend.Begin(ctx, false)
	if err != nil {
		return err
	}
	cat, err := catalog.Load(storage.NewOperator(db.backend, txn, db.storage))
	txn.Rollback()
	if err != nil {
		return err
	}
	db.catalog = cat

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range cat.Snapshot().Tables() {
		for _, idx := range t.Indexes {
			if !idx.Kind.IsVector() {
				continue
			}
			if _, err := db.vectors.Create(t, idx); err != nil {
				_ = g.Wait()
				return err
			}
			g.Go(func() error {
				n, err := db.vectors.Backfill(gctx, idx.ID, db.committedRows(gctx)(t))
				db.logger.WithTable(t.Name).LogIndexBuild(gctx, idx.Name, n, err)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("vecsql: build vector indexes: %w", err)
	}

	db.logger.InfoContext(ctx, "database opened",
		"path", db.opts.path,
		"tables", cat.Snapshot().Len(),
		"vector_indexes", db.vectors.Len(),
	)
	return nil
}

// committedRows scans a table in a fresh read-only transaction.
func (db *DB) committedRows(ctx context.Context) exec.RowSource {
	return func(t *schema.Table) iter.Seq2[storage.RowEntry, error] {
		return func(yield func(storage.RowEntry, error) bool) {
			txn, err := db.backend.Begin(ctx, false)
			if err != nil {
				yield(storage.RowEntry{}, err)
				return
			}
			defer txn.Rollback()
			for e, err := range storage.NewOperator(db.backend, txn, db.storage).ScanRows(t) {
				if !yield(e, err) {
					return
				}
			}
		}
	}
}

// Begin starts an explicit transaction. It must end with Commit or
// Rollback, which also release the advisory locks it took.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	return db.begin(ctx, txConfig{privilege: PrivilegeSuperUser})
}

func (db *DB) begin(ctx context.Context, cfg txConfig) (*Tx, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	db.commitMu.RLock()
	txn, err := db.backend.Begin(ctx, true)
	snap := db.catalog.Snapshot()
	db.commitMu.RUnlock()
	if err != nil {
		return nil, err
	}
	return newTx(db, txn, snap, cfg), nil
}

// Execute runs stmt in its own transaction. DDL and DML statements commit
// before Execute returns. A query's transaction stays open until its stream
// is exhausted or closed, so the caller must drain or close the stream.
//
// Transaction control statements need a Session.
func (db *DB) Execute(ctx context.Context, stmt ast.Statement, args ...any) (*exec.Response, error) {
	return db.execute(ctx, txConfig{privilege: PrivilegeSuperUser}, stmt, args...)
}

func (db *DB) execute(ctx context.Context, cfg txConfig, stmt ast.Statement, args ...any) (*exec.Response, error) {
	if exec.Classify(stmt) == exec.TypeTransaction {
		return nil, &StatementError{Statement: exec.Tag(stmt), Phase: exec.PhaseParsed,
			Err: fmt.Errorf("%w: %s outside a session", ErrUnsupported, exec.Tag(stmt))}
	}

	tx, err := db.begin(ctx, cfg)
	if err != nil {
		return nil, err
	}
	resp, err := tx.Execute(ctx, stmt, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if resp.Type == exec.TypeQuery {
		// Queries write nothing, so there is nothing to commit.
		resp.Stream.OnClose(func(error) { _ = tx.Rollback() })
		return resp, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return resp, nil
}

// Update runs fn in a transaction and commits it. Conflicts and other
// errors roll the transaction back and are returned.
func (db *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) commit(ctx context.Context, tx *Tx) error {
	created, err := db.publish(ctx, tx)
	if err != nil {
		return err
	}
	if len(created) == 0 {
		return nil
	}

	// New vector indexes are filled outside the commit lock so other
	// transactions keep committing; queries scan the table until the build
	// is done.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	if err := exec.Build(ctx, db.vectors, created, db.committedRows(ctx)); err != nil {
		tx.logger.ErrorContext(ctx, "vector index build failed", "error", err)
	}
	tx.logger.DebugContext(ctx, "vector indexes built", "count", len(created), "elapsed", time.Since(start))
	return nil
}

// publish commits the kv transaction and mirrors it into the catalog and the
// vector indexes under the commit lock. It returns the vector indexes that
// still need a build.
func (db *DB) publish(ctx context.Context, tx *Tx) ([]catalog.Change, error) {
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	if db.closed.Load() {
		tx.kv.Rollback()
		return nil, &CommitError{TxID: tx.id, cause: ErrClosed}
	}
	if err := tx.kv.Commit(); err != nil {
		if errors.Is(err, kv.ErrConflict) {
			db.metrics.RecordConflict()
		}
		return nil, &CommitError{TxID: tx.id, cause: err}
	}

	ddl := tx.env.Catalog.Changes()
	db.catalog.Apply(ddl)

	// The rows are committed; a failed index update is logged and the
	// affected index keeps serving what it has.
	created, err := exec.Publish(db.vectors, ddl, tx.env.Changes)
	if err != nil {
		tx.logger.ErrorContext(ctx, "vector index update failed", "error", err)
	}
	return created, nil
}

// Tables returns the names of the committed tables.
func (db *DB) Tables() []string {
	var names []string
	for t := range db.catalog.Snapshot().Tables() {
		names = append(names, t.Name)
	}
	return names
}

// Session returns a Session that accepts BEGIN, COMMIT and ROLLBACK. It
// runs with PrivilegeSuperUser unless WithPrivilege says otherwise.
func (db *DB) Session(opts ...SessionOption) *Session {
	s := &Session{db: db, cfg: txConfig{locks: db.locks.Holder(), privilege: PrivilegeSuperUser}}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// Close releases the backend. Transactions still open fail to commit.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	start := time.Now()
	err := db.backend.Close()
	db.logger.InfoContext(context.Background(), "database closed", "elapsed", time.Since(start), "error", err)
	return err
}
