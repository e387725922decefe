package exec

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/hupe1980/vecsql/ast"
	"github.com/hupe1980/vecsql/catalog"
	"github.com/hupe1980/vecsql/files"
	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
	"github.com/hupe1980/vecsql/vector"
)

// HNSWDefaults fill graph parameters a CREATE INDEX ... USING hnsw leaves
// out.
type HNSWDefaults struct {
	M              int `validate:"gte=2,lte=256"`
	EfConstruction int `validate:"gte=1"`
	Ef             int `validate:"gte=1"`
}

// Config tunes execution.
type Config struct {
	// BatchSize is the number of rows per batch. Zero means
	// DefaultBatchSize.
	BatchSize int `validate:"gte=0,lte=65536"`
	HNSW      HNSWDefaults
}

// Env is what a statement executes against: one transaction's storage
// operator and catalog overlay plus the shared vector indexes.
type Env struct {
	Op      *storage.Operator
	Catalog *catalog.Overlay
	// Vectors serves similarity queries. Nil disables the index rewrite.
	Vectors *vector.Manager
	// Changes collects row changes to mirror into vector indexes once the
	// transaction commits.
	Changes *Changes
	// Files resolves external FILE content for read_file. May be nil.
	Files files.Resolver
	// Locks owns the advisory locks taken by pg_advisory_lock. Nil rejects
	// the advisory lock functions.
	Locks  *LockHolder
	Config Config
	Logger *slog.Logger
}

func (e *Env) batchSize() int {
	if e.Config.BatchSize > 0 {
		return e.Config.BatchSize
	}
	return DefaultBatchSize
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Changes records the row changes of a transaction to tables with vector
// indexes, in statement order. It is not safe for concurrent use.
type Changes struct {
	tables []schema.TableID
	ops    map[schema.TableID][]vector.Op
}

// NewChanges creates an empty change set.
func NewChanges() *Changes {
	return &Changes{ops: map[schema.TableID][]vector.Op{}}
}

func (c *Changes) record(t *schema.Table, id schema.RowID, row schema.Row) {
	if c == nil || !hasVectorIndex(t) {
		return
	}
	if _, ok := c.ops[t.ID]; !ok {
		c.tables = append(c.tables, t.ID)
	}
	c.ops[t.ID] = append(c.ops[t.ID], vector.Op{RowID: id, Row: row})
}

func (c *Changes) dropTable(id schema.TableID) {
	if c == nil {
		return
	}
	if _, ok := c.ops[id]; ok {
		delete(c.ops, id)
		c.tables = slices.DeleteFunc(c.tables, func(t schema.TableID) bool { return t == id })
	}
}

// All yields the recorded operations per table, tables in first-touch
// order.
func (c *Changes) All() iter.Seq2[schema.TableID, []vector.Op] {
	return func(yield func(schema.TableID, []vector.Op) bool) {
		if c == nil {
			return
		}
		for _, id := range c.tables {
			if !yield(id, c.ops[id]) {
				return
			}
		}
	}
}

// Len returns the number of recorded operations.
func (c *Changes) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, ops := range c.ops {
		n += len(ops)
	}
	return n
}

// Classify returns the statement type of stmt.
func Classify(stmt ast.Statement) StatementType {
	switch stmt.(type) {
	case *ast.CreateTable, *ast.DropTable, *ast.CreateIndex, *ast.DropIndex:
		return TypeDDL
	case *ast.Insert, *ast.Update, *ast.Delete:
		return TypeDML
	case *ast.Select:
		return TypeQuery
	case *ast.Begin, *ast.Commit, *ast.Rollback:
		return TypeTransaction
	}
	return 0
}

// Tag names the statement in errors and logs.
func Tag(stmt ast.Statement) string {
	switch stmt.(type) {
	case *ast.CreateTable:
		return "CREATE TABLE"
	case *ast.DropTable:
		return "DROP TABLE"
	case *ast.CreateIndex:
		return "CREATE INDEX"
	case *ast.DropIndex:
		return "DROP INDEX"
	case *ast.Insert:
		return "INSERT"
	case *ast.Update:
		return "UPDATE"
	case *ast.Delete:
		return "DELETE"
	case *ast.Select:
		return "SELECT"
	case *ast.Begin:
		return "BEGIN"
	case *ast.Commit:
		return "COMMIT"
	case *ast.Rollback:
		return "ROLLBACK"
	}
	return fmt.Sprintf("%T", stmt)
}

func prepare(env *Env, stmt ast.Statement) (*prepared, error) {
	p := &planner{env: env, binder: newBinder()}
	switch s := stmt.(type) {
	case *ast.Select:
		return p.selectStmt(s)
	case *ast.Insert:
		return p.insertStmt(s)
	case *ast.Update:
		return p.updateStmt(s)
	case *ast.Delete:
		return p.deleteStmt(s)
	case *ast.CreateTable:
		return p.createTable(s)
	case *ast.DropTable:
		return p.dropTable(s)
	case *ast.CreateIndex:
		return p.createIndex(s)
	case *ast.DropIndex:
		return p.dropIndex(s)
	case *ast.Begin, *ast.Commit, *ast.Rollback:
		return nil, fmt.Errorf("%w: transaction control is handled by the session", ErrUnsupported)
	case nil:
		return nil, fmt.Errorf("%w: empty statement", ErrUnsupported)
	}
	return nil, fmt.Errorf("%w: statement %T", ErrUnsupported, stmt)
}

// Execute plans stmt, binds args to its placeholders and runs it.
//
// DDL and DML statements run to completion before Execute returns. Queries
// return a Response whose Stream produces rows on demand; the caller must
// consume or close it while the transaction is open.
func Execute(ctx context.Context, env *Env, stmt ast.Statement, args []schema.Value) (*Response, error) {
	tag := Tag(stmt)
	log := env.logger()
	start := time.Now()

	p, err := prepare(env, stmt)
	if err != nil {
		return nil, wrap(tag, PhaseParsed, err)
	}
	params, err := p.binder.bind(args)
	if err != nil {
		return nil, wrap(tag, PhasePlanned, err)
	}
	ec := &evalContext{ctx: ctx, params: params, files: env.Files, locks: env.Locks}

	resp := &Response{Type: p.typ, Tag: tag, Columns: p.columns, Access: p.access}
	if p.query != nil {
		op, err := p.query(ec)
		if err != nil {
			return nil, wrap(tag, PhaseBound, err)
		}
		resp.Stream = newStream(tag, &contextual{Operator: op, ec: ec})
		log.DebugContext(ctx, "query started", "statement", tag, "columns", len(resp.Columns))
		return resp, nil
	}

	n, err := p.exec(ctx, ec)
	if err != nil {
		return nil, wrap(tag, PhaseExecuting, err)
	}
	resp.RowsAffected = n
	resp.Stream = EmptyStream()
	log.DebugContext(ctx, "statement executed", "statement", tag, "rows", n, "elapsed", time.Since(start))
	return resp, nil
}

// contextual hands the context of each Next to expression evaluation.
type contextual struct {
	Operator
	ec *evalContext
}

func (c *contextual) Next(ctx context.Context) (*Batch, error) {
	c.ec.ctx = ctx
	return c.Operator.Next(ctx)
}
